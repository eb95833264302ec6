package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectorStatus(t *testing.T) {
	status, err := ParseConnectorStatus("connected")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, status)

	_, err = ParseConnectorStatus("bogus")
	assert.Error(t, err)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusInProgress.Terminal())
	assert.False(t, JobStatusCanceling.Terminal())
	assert.False(t, JobStatusSuspended.Terminal())
}

func TestConfigurationComplete(t *testing.T) {
	assert.True(t, Configuration{}.Complete())
	assert.True(t, Configuration{"host": {Value: "localhost"}}.Complete())
	assert.False(t, Configuration{"host": {Value: nil}}.Complete())
}
