package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestScenarioENewsBlackout reproduces spec scenario E: a USD CPI release
// at 12:30 UTC with a 30-minute pad on each side blocks EURUSD intents
// inside the window and allows them again once it has expired.
func TestScenarioENewsBlackout(t *testing.T) {
	event := Event{Time: time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC), Currencies: []string{"USD"}, Title: "USD CPI"}
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	windows := UpcomingWindows([]Event{event}, now, 30*time.Minute, 30*time.Minute, 24*time.Hour)

	at1215 := time.Date(2026, 1, 5, 12, 15, 0, 0, time.UTC)
	assert.True(t, IsInEventWindow("EURUSD", at1215, windows))

	at1305 := time.Date(2026, 1, 5, 13, 5, 0, 0, time.UTC)
	assert.False(t, IsInEventWindow("EURUSD", at1305, windows))
}

func TestIsInEventWindowOnlyAffectsOverlappingCurrencies(t *testing.T) {
	event := Event{Time: time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC), Currencies: []string{"JPY"}}
	windows := []Window{{Start: event.Time.Add(-30 * time.Minute), End: event.Time.Add(30 * time.Minute), Event: event}}

	assert.False(t, IsInEventWindow("EURUSD", time.Date(2026, 1, 5, 12, 15, 0, 0, time.UTC), windows))
	assert.True(t, IsInEventWindow("USDJPY", time.Date(2026, 1, 5, 12, 15, 0, 0, time.UTC), windows))
}

func TestUpcomingWindowsExcludesPastAndFarFutureEvents(t *testing.T) {
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Time: now.Add(-2 * time.Hour), Currencies: []string{"USD"}},
		{Time: now.Add(2 * time.Hour), Currencies: []string{"USD"}},
		{Time: now.Add(48 * time.Hour), Currencies: []string{"USD"}},
	}
	windows := UpcomingWindows(events, now, 30*time.Minute, 30*time.Minute, 24*time.Hour)
	assert.Len(t, windows, 1)
}

func TestAffectsSymbolTreatsGoldAsUSDQuoted(t *testing.T) {
	assert.True(t, AffectsSymbol("XAUUSD", []string{"USD"}))
	assert.False(t, AffectsSymbol("XAUUSD", []string{"EUR"}))
}
