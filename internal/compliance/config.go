package compliance

import (
	"time"

	"github.com/banshee-data/ppe.report/internal/config"
)

// ColdStartPolicy decides what an under-sampled item means.
type ColdStartPolicy string

const (
	// ColdStartUnknown keeps a person PENDING until every required item has
	// MinSamples observations.
	ColdStartUnknown ColdStartPolicy = "unknown"
	// ColdStartFailClosed treats under-sampled items as absent.
	ColdStartFailClosed ColdStartPolicy = "fail_closed"
)

// EngineConfig holds the typed engine parameters.
type EngineConfig struct {
	RequiredItems []ItemClass

	// Association
	DetectionFloor float64             // detections below this confidence are dropped
	Strategy       AssociationStrategy // iou or center
	IoUThreshold   float64             // minimum item/person IoU for the iou strategy

	// Identity
	MaxMisses     int     // consecutive unmatched frames before eviction
	MatchDistance float64 // centroid gating distance (pixels)
	IDBucketSize  float64 // pixel bucket for new track IDs

	// Smoothing
	BufferSize       int
	ConfirmThreshold float64 // mean confidence needed to confirm presence
	MinSamples       int
	ColdStart        ColdStartPolicy

	// Alerting
	AlertCooldown time.Duration
	GracePeriod   time.Duration

	Severity SeverityPolicy

	// Audit
	AuditRetries      int
	AuditRetryBackoff time.Duration
}

// DefaultEngineConfig returns engine configuration loaded from the
// canonical defaults file (config/compliance.defaults.json).
// Panics if the file cannot be found; intended for tests and binaries
// that have already validated config availability.
func DefaultEngineConfig() EngineConfig {
	return EngineConfigFromTuning(config.MustLoadDefaultConfig())
}

// EngineConfigFromTuning builds an EngineConfig from a loaded
// ComplianceConfig. Unknown item names have already been rejected by
// Validate.
func EngineConfigFromTuning(cfg *config.ComplianceConfig) EngineConfig {
	var items []ItemClass
	for _, name := range cfg.GetRequiredItems() {
		if c, ok := ParseItemClass(name); ok && c != ClassPerson {
			items = append(items, c)
		}
	}
	escalation := make(map[ItemClass]float64)
	for name, f := range cfg.GetEscalationFactors() {
		if c, ok := ParseItemClass(name); ok {
			escalation[c] = f
		}
	}
	return EngineConfig{
		RequiredItems:    sortedItems(items),
		DetectionFloor:   cfg.GetDetectionFloor(),
		Strategy:         AssociationStrategy(cfg.GetAssociationStrategy()),
		IoUThreshold:     cfg.GetIoUThreshold(),
		MaxMisses:        cfg.GetMaxMisses(),
		MatchDistance:    cfg.GetMatchDistance(),
		IDBucketSize:     cfg.GetIDBucketSize(),
		BufferSize:       cfg.GetBufferSize(),
		ConfirmThreshold: cfg.GetConfirmThreshold(),
		MinSamples:       cfg.GetMinSamples(),
		ColdStart:        ColdStartPolicy(cfg.GetColdStartPolicy()),
		AlertCooldown:    cfg.GetAlertCooldown(),
		GracePeriod:      cfg.GetGracePeriod(),
		Severity: SeverityPolicy{
			MediumAfter:   cfg.GetSeverityMediumAfter(),
			HighAfter:     cfg.GetSeverityHighAfter(),
			CriticalAfter: cfg.GetSeverityCriticalAfter(),
			Escalation:    escalation,
		},
		AuditRetries:      cfg.GetAuditRetries(),
		AuditRetryBackoff: cfg.GetAuditRetryBackoff(),
	}
}
