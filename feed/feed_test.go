package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStatsDefaultsToDisconnected(t *testing.T) {
	c := New("wss://example.invalid", []string{"EURUSD"}, nil, 0)
	stats := c.GetStats()
	assert.False(t, stats.Connected)
	assert.Equal(t, 0, stats.ReconnectsTotal)
	assert.Empty(t, stats.LastError)
}

func TestRecordReconnectIncrementsAndCapturesError(t *testing.T) {
	c := New("wss://example.invalid", []string{"EURUSD"}, nil, 0)
	c.recordReconnect(&statusError{status: 429})
	c.recordReconnect(&statusError{status: 429})

	stats := c.GetStats()
	assert.Equal(t, 2, stats.ReconnectsTotal)
	assert.Equal(t, "status 429", stats.LastError)
}

func TestSetConnectedTogglesStats(t *testing.T) {
	c := New("wss://example.invalid", []string{"EURUSD"}, nil, 0)
	c.setConnected(true)
	assert.True(t, c.GetStats().Connected)
	c.setConnected(false)
	assert.False(t, c.GetStats().Connected)
}
