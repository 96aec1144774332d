package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigPath is the path to the canonical compliance defaults file.
const DefaultConfigPath = "config/compliance.defaults.json"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ComplianceConfig represents the root configuration for the compliance core.
// All fields are optional; the Get* methods supply defaults for anything the
// JSON file leaves out, so partial configs are safe.
type ComplianceConfig struct {
	// Association params
	RequiredItems       []string `json:"required_items,omitempty" toml:"required_items,omitempty"`
	DetectionFloor      *float64 `json:"detection_floor,omitempty" toml:"detection_floor,omitempty"` // percent, 0-100
	AssociationStrategy *string  `json:"association_strategy,omitempty" toml:"association_strategy,omitempty"`
	IoUThreshold        *float64 `json:"iou_threshold,omitempty" toml:"iou_threshold,omitempty"`

	// Identity params
	MaxMisses     *int     `json:"max_misses,omitempty" toml:"max_misses,omitempty"`
	MatchDistance *float64 `json:"match_distance,omitempty" toml:"match_distance,omitempty"` // pixels
	IDBucketSize  *float64 `json:"id_bucket_size,omitempty" toml:"id_bucket_size,omitempty"` // pixels

	// Smoothing params
	BufferSize       *int     `json:"buffer_size,omitempty" toml:"buffer_size,omitempty"`
	ConfirmThreshold *float64 `json:"confirm_threshold,omitempty" toml:"confirm_threshold,omitempty"` // percent, 0-100
	MinSamples       *int     `json:"min_samples,omitempty" toml:"min_samples,omitempty"`
	ColdStartPolicy  *string  `json:"cold_start_policy,omitempty" toml:"cold_start_policy,omitempty"`

	// Alert gate params
	AlertCooldown *string `json:"alert_cooldown,omitempty" toml:"alert_cooldown,omitempty"` // duration string like "5s"
	GracePeriod   *string `json:"grace_period,omitempty" toml:"grace_period,omitempty"`

	// Severity params
	SeverityMediumAfter   *string            `json:"severity_medium_after,omitempty" toml:"severity_medium_after,omitempty"`
	SeverityHighAfter     *string            `json:"severity_high_after,omitempty" toml:"severity_high_after,omitempty"`
	SeverityCriticalAfter *string            `json:"severity_critical_after,omitempty" toml:"severity_critical_after,omitempty"` // "0s" disables CRITICAL
	EscalationFactors     map[string]float64 `json:"escalation_factors,omitempty" toml:"escalation_factors,omitempty"`

	// Evidence params
	EvidenceMaxSide *int `json:"evidence_max_side,omitempty" toml:"evidence_max_side,omitempty"` // pixels, 0 keeps full size

	// Audit params
	AuditRetries      *int    `json:"audit_retries,omitempty" toml:"audit_retries,omitempty"`
	AuditRetryBackoff *string `json:"audit_retry_backoff,omitempty" toml:"audit_retry_backoff,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyComplianceConfig returns a ComplianceConfig with all fields unset.
// Every getter then returns its built-in default.
func EmptyComplianceConfig() *ComplianceConfig {
	return &ComplianceConfig{}
}

// LoadComplianceConfig loads a ComplianceConfig from a JSON or TOML file.
// The file must have a .json or .toml extension and be at most 1MB.
func LoadComplianceConfig(path string) (*ComplianceConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyComplianceConfig()
	if ext == ".toml" {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. Panics if the file cannot be loaded;
// intended for test setup and binaries run from the repository.
func MustLoadDefaultConfig() *ComplianceConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/ppe-monitor/
	}
	for _, path := range candidates {
		if cfg, err := LoadComplianceConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration values are valid.
func (c *ComplianceConfig) Validate() error {
	for _, item := range c.RequiredItems {
		if !knownItem(item) {
			return invalid("required_items contains unknown item %q", item)
		}
	}

	if c.DetectionFloor != nil && (*c.DetectionFloor < 0 || *c.DetectionFloor > 100) {
		return invalid("detection_floor must be between 0 and 100, got %f", *c.DetectionFloor)
	}
	if c.ConfirmThreshold != nil && (*c.ConfirmThreshold < 0 || *c.ConfirmThreshold > 100) {
		return invalid("confirm_threshold must be between 0 and 100, got %f", *c.ConfirmThreshold)
	}
	if c.IoUThreshold != nil && (*c.IoUThreshold < 0 || *c.IoUThreshold > 1) {
		return invalid("iou_threshold must be between 0 and 1, got %f", *c.IoUThreshold)
	}

	if c.AssociationStrategy != nil {
		switch *c.AssociationStrategy {
		case "iou", "center":
		default:
			return invalid("association_strategy must be \"iou\" or \"center\", got %q", *c.AssociationStrategy)
		}
	}
	if c.ColdStartPolicy != nil {
		switch *c.ColdStartPolicy {
		case "unknown", "fail_closed":
		default:
			return invalid("cold_start_policy must be \"unknown\" or \"fail_closed\", got %q", *c.ColdStartPolicy)
		}
	}

	if c.BufferSize != nil && *c.BufferSize < 1 {
		return invalid("buffer_size must be at least 1, got %d", *c.BufferSize)
	}
	if c.MinSamples != nil && *c.MinSamples < 1 {
		return invalid("min_samples must be at least 1, got %d", *c.MinSamples)
	}
	if c.GetMinSamples() > c.GetBufferSize() {
		return invalid("min_samples (%d) cannot exceed buffer_size (%d)", c.GetMinSamples(), c.GetBufferSize())
	}
	if c.MaxMisses != nil && *c.MaxMisses < 0 {
		return invalid("max_misses must be non-negative, got %d", *c.MaxMisses)
	}
	if c.MatchDistance != nil && *c.MatchDistance <= 0 {
		return invalid("match_distance must be positive, got %f", *c.MatchDistance)
	}
	if c.IDBucketSize != nil && *c.IDBucketSize <= 0 {
		return invalid("id_bucket_size must be positive, got %f", *c.IDBucketSize)
	}
	if c.EvidenceMaxSide != nil && *c.EvidenceMaxSide < 0 {
		return invalid("evidence_max_side must be non-negative, got %d", *c.EvidenceMaxSide)
	}
	if c.AuditRetries != nil && *c.AuditRetries < 0 {
		return invalid("audit_retries must be non-negative, got %d", *c.AuditRetries)
	}

	durations := map[string]*string{
		"alert_cooldown":          c.AlertCooldown,
		"grace_period":            c.GracePeriod,
		"severity_medium_after":   c.SeverityMediumAfter,
		"severity_high_after":     c.SeverityHighAfter,
		"severity_critical_after": c.SeverityCriticalAfter,
		"audit_retry_backoff":     c.AuditRetryBackoff,
	}
	for name, value := range durations {
		if value == nil || *value == "" {
			continue
		}
		d, err := time.ParseDuration(*value)
		if err != nil {
			return invalid("invalid %s '%s': %v", name, *value, err)
		}
		if d < 0 {
			return invalid("%s must be non-negative, got %s", name, *value)
		}
	}

	medium, high, critical := c.GetSeverityMediumAfter(), c.GetSeverityHighAfter(), c.GetSeverityCriticalAfter()
	if high < medium {
		return invalid("severity_high_after (%s) must not be shorter than severity_medium_after (%s)", high, medium)
	}
	if critical != 0 && critical < high {
		return invalid("severity_critical_after (%s) must not be shorter than severity_high_after (%s)", critical, high)
	}

	for item, factor := range c.EscalationFactors {
		if !knownItem(item) {
			return invalid("escalation_factors contains unknown item %q", item)
		}
		if factor < 1 {
			return invalid("escalation factor for %q must be >= 1, got %f", item, factor)
		}
	}

	return nil
}

func knownItem(item string) bool {
	switch item {
	case "helmet", "mask", "vest", "boots", "goggles", "gloves":
		return true
	}
	return false
}

func parseDurationOr(value *string, fallback time.Duration) time.Duration {
	if value == nil || *value == "" {
		return fallback
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return fallback // default on parse error
	}
	return d
}

// GetRequiredItems returns the PPE items every person must wear.
func (c *ComplianceConfig) GetRequiredItems() []string {
	if len(c.RequiredItems) == 0 {
		return []string{"helmet", "mask", "vest"}
	}
	out := make([]string, len(c.RequiredItems))
	copy(out, c.RequiredItems)
	return out
}

// GetDetectionFloor returns the detection_floor value or the default.
func (c *ComplianceConfig) GetDetectionFloor() float64 {
	if c.DetectionFloor == nil {
		return 25
	}
	return *c.DetectionFloor
}

// GetAssociationStrategy returns "iou" or "center".
func (c *ComplianceConfig) GetAssociationStrategy() string {
	if c.AssociationStrategy == nil || *c.AssociationStrategy == "" {
		return "iou"
	}
	return *c.AssociationStrategy
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *ComplianceConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.05
	}
	return *c.IoUThreshold
}

// GetMaxMisses returns the max_misses value or the default.
func (c *ComplianceConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 30
	}
	return *c.MaxMisses
}

// GetMatchDistance returns the match_distance value or the default.
func (c *ComplianceConfig) GetMatchDistance() float64 {
	if c.MatchDistance == nil {
		return 80
	}
	return *c.MatchDistance
}

// GetIDBucketSize returns the id_bucket_size value or the default.
func (c *ComplianceConfig) GetIDBucketSize() float64 {
	if c.IDBucketSize == nil {
		return 50
	}
	return *c.IDBucketSize
}

// GetBufferSize returns the buffer_size value or the default.
func (c *ComplianceConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 5
	}
	return *c.BufferSize
}

// GetConfirmThreshold returns the confirm_threshold value or the default.
func (c *ComplianceConfig) GetConfirmThreshold() float64 {
	if c.ConfirmThreshold == nil {
		return 75
	}
	return *c.ConfirmThreshold
}

// GetMinSamples returns the min_samples value or the default.
func (c *ComplianceConfig) GetMinSamples() int {
	if c.MinSamples == nil {
		return 3
	}
	return *c.MinSamples
}

// GetColdStartPolicy returns "unknown" or "fail_closed".
func (c *ComplianceConfig) GetColdStartPolicy() string {
	if c.ColdStartPolicy == nil || *c.ColdStartPolicy == "" {
		return "unknown"
	}
	return *c.ColdStartPolicy
}

// GetAlertCooldown parses and returns the AlertCooldown as a time.Duration.
func (c *ComplianceConfig) GetAlertCooldown() time.Duration {
	return parseDurationOr(c.AlertCooldown, 5*time.Second)
}

// GetGracePeriod parses and returns the GracePeriod as a time.Duration.
func (c *ComplianceConfig) GetGracePeriod() time.Duration {
	return parseDurationOr(c.GracePeriod, 2*time.Second)
}

// GetSeverityMediumAfter returns the effective duration at which LOW becomes MEDIUM.
func (c *ComplianceConfig) GetSeverityMediumAfter() time.Duration {
	return parseDurationOr(c.SeverityMediumAfter, 5*time.Second)
}

// GetSeverityHighAfter returns the effective duration at which MEDIUM becomes HIGH.
func (c *ComplianceConfig) GetSeverityHighAfter() time.Duration {
	return parseDurationOr(c.SeverityHighAfter, 10*time.Second)
}

// GetSeverityCriticalAfter returns the effective duration at which HIGH
// becomes CRITICAL. Zero disables the CRITICAL tier.
func (c *ComplianceConfig) GetSeverityCriticalAfter() time.Duration {
	return parseDurationOr(c.SeverityCriticalAfter, 30*time.Second)
}

// GetEscalationFactors returns per-item severity escalation factors.
// Items without an entry escalate at 1.0.
func (c *ComplianceConfig) GetEscalationFactors() map[string]float64 {
	if c.EscalationFactors == nil {
		return map[string]float64{"helmet": 2.0}
	}
	out := make(map[string]float64, len(c.EscalationFactors))
	for k, v := range c.EscalationFactors {
		out[k] = v
	}
	return out
}

// GetEvidenceMaxSide bounds the longer edge of saved evidence crops.
// Zero keeps crops at full size.
func (c *ComplianceConfig) GetEvidenceMaxSide() int {
	if c.EvidenceMaxSide == nil {
		return 640
	}
	return *c.EvidenceMaxSide
}

// GetAuditRetries returns how many times a failed audit append is retried.
func (c *ComplianceConfig) GetAuditRetries() int {
	if c.AuditRetries == nil {
		return 3
	}
	return *c.AuditRetries
}

// GetAuditRetryBackoff returns the base delay between audit retries.
func (c *ComplianceConfig) GetAuditRetryBackoff() time.Duration {
	return parseDurationOr(c.AuditRetryBackoff, 100*time.Millisecond)
}
