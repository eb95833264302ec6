package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	// Quartz-style with seconds field
	_, err := ParseCron("0 */5 * * * *")
	assert.NoError(t, err)

	// Plain five-field expression
	_, err = ParseCron("*/5 * * * *")
	assert.NoError(t, err)

	_, err = ParseCron("not a schedule")
	assert.Error(t, err)
}

func TestNextScheduledTime(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := NextScheduledTime("0 0 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), next)

	_, err = NextScheduledTime("bogus", after)
	assert.Error(t, err)
}
