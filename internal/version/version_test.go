package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "ppe-monitor dev (unknown, built unknown)", String("ppe-monitor"))
}
