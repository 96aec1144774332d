package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityPolicy_Bands(t *testing.T) {
	t.Parallel()
	p := testConfig().Severity
	vest := []ItemClass{ClassVest}
	helmet := []ItemClass{ClassHelmet}

	tests := []struct {
		name    string
		d       time.Duration
		missing []ItemClass
		want    Severity
	}{
		{"nothing missing", time.Hour, nil, SeverityNone},
		{"negative clamps to zero", -time.Second, vest, SeverityLow},
		{"just opened", 0, vest, SeverityLow},
		{"below medium", 4999 * time.Millisecond, vest, SeverityLow},
		{"medium boundary", 5 * time.Second, vest, SeverityMedium},
		{"high boundary", 10 * time.Second, vest, SeverityHigh},
		{"critical boundary", 30 * time.Second, vest, SeverityCritical},
		{"helmet escalates twice as fast", 2500 * time.Millisecond, helmet, SeverityMedium},
		{"helmet high", 5 * time.Second, helmet, SeverityHigh},
		{"helmet critical", 15 * time.Second, helmet, SeverityCritical},
		{"largest factor wins", 5 * time.Second, []ItemClass{ClassHelmet, ClassVest}, SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Severity(tt.d, tt.missing))
		})
	}
}

func TestSeverityPolicy_CriticalDisabled(t *testing.T) {
	t.Parallel()
	p := testConfig().Severity
	p.CriticalAfter = 0
	assert.Equal(t, SeverityHigh, p.Severity(24*time.Hour, []ItemClass{ClassHelmet}))
}

func TestSeverityPolicy_TotalAndMonotonic(t *testing.T) {
	t.Parallel()
	p := testConfig().Severity
	sets := [][]ItemClass{
		{ClassHelmet}, {ClassMask}, {ClassVest},
		{ClassHelmet, ClassMask}, {ClassMask, ClassVest},
		{ClassHelmet, ClassMask, ClassVest},
	}
	for _, set := range sets {
		prev := 0
		for d := time.Duration(0); d <= 60*time.Second; d += 250 * time.Millisecond {
			sev := p.Severity(d, set)
			assert.NotEqual(t, SeverityNone, sev)
			assert.GreaterOrEqual(t, sev.Rank(), prev, "severity never de-escalates with time")
			prev = sev.Rank()
		}
	}
}

func TestSeverity_Rank(t *testing.T) {
	t.Parallel()
	order := []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i, s := range order {
		assert.Equal(t, i, s.Rank(), s)
	}
}
