package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyComplianceConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := EmptyComplianceConfig()

	assert.Equal(t, []string{"helmet", "mask", "vest"}, cfg.GetRequiredItems())
	assert.Equal(t, 25.0, cfg.GetDetectionFloor())
	assert.Equal(t, "iou", cfg.GetAssociationStrategy())
	assert.Equal(t, 0.05, cfg.GetIoUThreshold())
	assert.Equal(t, 30, cfg.GetMaxMisses())
	assert.Equal(t, 80.0, cfg.GetMatchDistance())
	assert.Equal(t, 50.0, cfg.GetIDBucketSize())
	assert.Equal(t, 5, cfg.GetBufferSize())
	assert.Equal(t, 75.0, cfg.GetConfirmThreshold())
	assert.Equal(t, 3, cfg.GetMinSamples())
	assert.Equal(t, "unknown", cfg.GetColdStartPolicy())
	assert.Equal(t, 5*time.Second, cfg.GetAlertCooldown())
	assert.Equal(t, 2*time.Second, cfg.GetGracePeriod())
	assert.Equal(t, 5*time.Second, cfg.GetSeverityMediumAfter())
	assert.Equal(t, 10*time.Second, cfg.GetSeverityHighAfter())
	assert.Equal(t, 30*time.Second, cfg.GetSeverityCriticalAfter())
	assert.Equal(t, map[string]float64{"helmet": 2.0}, cfg.GetEscalationFactors())
	assert.Equal(t, 640, cfg.GetEvidenceMaxSide())
	assert.Equal(t, 3, cfg.GetAuditRetries())
	assert.Equal(t, 100*time.Millisecond, cfg.GetAuditRetryBackoff())
	assert.NoError(t, cfg.Validate())
}

func TestLoadComplianceConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "compliance.json", `{
  "required_items": ["helmet", "vest"],
  "association_strategy": "center",
  "buffer_size": 7,
  "min_samples": 4,
  "alert_cooldown": "10s",
  "cold_start_policy": "fail_closed"
}`)

	cfg, err := LoadComplianceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"helmet", "vest"}, cfg.GetRequiredItems())
	assert.Equal(t, "center", cfg.GetAssociationStrategy())
	assert.Equal(t, 7, cfg.GetBufferSize())
	assert.Equal(t, 4, cfg.GetMinSamples())
	assert.Equal(t, 10*time.Second, cfg.GetAlertCooldown())
	assert.Equal(t, "fail_closed", cfg.GetColdStartPolicy())

	// Omitted fields keep their defaults.
	assert.Equal(t, 75.0, cfg.GetConfirmThreshold())
	assert.Equal(t, 2*time.Second, cfg.GetGracePeriod())
}

func TestLoadComplianceConfigTOML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "compliance.toml", `
required_items = ["helmet", "vest", "boots"]
detection_floor = 30.0
max_misses = 10
grace_period = "1s"
severity_critical_after = "0s"

[escalation_factors]
helmet = 3.0
boots = 1.5
`)

	cfg, err := LoadComplianceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"helmet", "vest", "boots"}, cfg.GetRequiredItems())
	assert.Equal(t, 30.0, cfg.GetDetectionFloor())
	assert.Equal(t, 10, cfg.GetMaxMisses())
	assert.Equal(t, time.Second, cfg.GetGracePeriod())
	assert.Equal(t, time.Duration(0), cfg.GetSeverityCriticalAfter())
	assert.Equal(t, map[string]float64{"helmet": 3.0, "boots": 1.5}, cfg.GetEscalationFactors())
	assert.Equal(t, 5, cfg.GetBufferSize())

	bad := writeConfig(t, "bad.toml", "buffer_size = [")
	_, err = LoadComplianceConfig(bad)
	assert.ErrorContains(t, err, "TOML")
}

func TestLoadComplianceConfigErrors(t *testing.T) {
	t.Parallel()

	t.Run("wrong extension", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "compliance.yaml", `{}`)
		_, err := LoadComplianceConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json or .toml extension")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadComplianceConfig(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "bad.json", `{"buffer_size": `)
		_, err := LoadComplianceConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "big.json", `{"pad":"`+strings.Repeat("x", 1024*1024+1)+`"}`)
		_, err := LoadComplianceConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "invalid.json", `{"confirm_threshold": 140}`)
		_, err := LoadComplianceConfig(path)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     ComplianceConfig
		wantErr string
	}{
		{"unknown item", ComplianceConfig{RequiredItems: []string{"cape"}}, "unknown item"},
		{"floor out of range", ComplianceConfig{DetectionFloor: ptrFloat64(-1)}, "detection_floor"},
		{"iou out of range", ComplianceConfig{IoUThreshold: ptrFloat64(1.5)}, "iou_threshold"},
		{"bad strategy", ComplianceConfig{AssociationStrategy: ptrString("nearest")}, "association_strategy"},
		{"bad cold start", ComplianceConfig{ColdStartPolicy: ptrString("optimistic")}, "cold_start_policy"},
		{"zero buffer", ComplianceConfig{BufferSize: ptrInt(0)}, "buffer_size"},
		{"min samples above buffer", ComplianceConfig{BufferSize: ptrInt(3), MinSamples: ptrInt(4)}, "cannot exceed"},
		{"negative misses", ComplianceConfig{MaxMisses: ptrInt(-1)}, "max_misses"},
		{"zero match distance", ComplianceConfig{MatchDistance: ptrFloat64(0)}, "match_distance"},
		{"bad duration", ComplianceConfig{AlertCooldown: ptrString("soon")}, "alert_cooldown"},
		{"negative duration", ComplianceConfig{GracePeriod: ptrString("-1s")}, "grace_period"},
		{"bands out of order", ComplianceConfig{SeverityMediumAfter: ptrString("20s"), SeverityHighAfter: ptrString("10s")}, "severity_high_after"},
		{"critical below high", ComplianceConfig{SeverityCriticalAfter: ptrString("5s")}, "severity_critical_after"},
		{"escalation below one", ComplianceConfig{EscalationFactors: map[string]float64{"vest": 0.5}}, "escalation factor"},
		{"escalation unknown item", ComplianceConfig{EscalationFactors: map[string]float64{"cape": 2}}, "unknown item"},
		{"negative evidence size", ComplianceConfig{EvidenceMaxSide: ptrInt(-1)}, "evidence_max_side"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("critical disabled", func(t *testing.T) {
		t.Parallel()
		cfg := ComplianceConfig{SeverityCriticalAfter: ptrString("0s")}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, time.Duration(0), cfg.GetSeverityCriticalAfter())
	})
}

func TestGetEscalationFactorsReturnsCopy(t *testing.T) {
	t.Parallel()
	cfg := ComplianceConfig{EscalationFactors: map[string]float64{"helmet": 3}}
	factors := cfg.GetEscalationFactors()
	factors["helmet"] = 10
	assert.Equal(t, 3.0, cfg.EscalationFactors["helmet"])
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.GetBufferSize())
	assert.Equal(t, "iou", cfg.GetAssociationStrategy())
	assert.Equal(t, 640, cfg.GetEvidenceMaxSide())
	assert.NoError(t, cfg.Validate())
}
