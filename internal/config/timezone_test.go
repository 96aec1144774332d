package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTimezone(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "Local"} {
		loc, err := ResolveTimezone(name)
		require.NoError(t, err)
		assert.Equal(t, time.Local, loc)
	}

	loc, err := ResolveTimezone("UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = ResolveTimezone("Asia/Kolkata")
	require.NoError(t, err)
	_, offset := time.Date(2026, 3, 2, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+1800, offset)

	_, err = ResolveTimezone("Mars/Olympus_Mons")
	assert.ErrorContains(t, err, "unknown timezone")
}
