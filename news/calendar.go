// Package news implements the economic calendar blackout gate described in
// spec.md §4.9, grounded on axfl/news/calendar.py.
package news

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"axfl/symbols"
)

// Event is one scheduled high-impact economic release.
type Event struct {
	Time       time.Time
	Currencies []string
	Title      string
}

// Window is a padded blackout interval around one event.
type Window struct {
	Start time.Time
	End   time.Time
	Event Event
}

// LoadEventsCSV reads a calendar CSV with columns time,currencies,title —
// currencies is a comma-separated list inside the field (e.g. "USD,EUR").
func LoadEventsCSV(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("news: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("news: parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	start := 0
	if len(rows) > 0 && strings.EqualFold(strings.TrimSpace(rows[0][0]), "time") {
		start = 1
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows[start:] {
		if len(row) < 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		var currencies []string
		for _, c := range strings.Split(row[1], ",") {
			c = strings.TrimSpace(strings.ToUpper(c))
			if c != "" {
				currencies = append(currencies, c)
			}
		}
		out = append(out, Event{Time: ts.UTC(), Currencies: currencies, Title: row[2]})
	}
	return out, nil
}

// UpcomingWindows returns the padded blackout windows for every event from
// padAfter before now up to lookahead after now, in the order of events
// (no sorting is done).
func UpcomingWindows(events []Event, now time.Time, padBefore, padAfter time.Duration, lookahead time.Duration) []Window {
	var out []Window
	horizon := now.Add(lookahead)
	for _, ev := range events {
		if ev.Time.Before(now.Add(-padAfter)) || ev.Time.After(horizon) {
			continue
		}
		out = append(out, Window{
			Start: ev.Time.Add(-padBefore),
			End:   ev.Time.Add(padAfter),
			Event: ev,
		})
	}
	return out
}

// AffectsSymbol reports whether any of currencies is one of symbol's base
// or quote currencies (gold/silver are treated as USD-quoted).
func AffectsSymbol(symbol string, currencies []string) bool {
	affected := symbols.AffectedCurrencies(symbol)
	for _, c := range currencies {
		if affected[strings.ToUpper(c)] {
			return true
		}
	}
	return false
}

// IsInEventWindow reports whether now falls inside any blackout window that
// affects symbol.
func IsInEventWindow(symbol string, now time.Time, windows []Window) bool {
	for _, w := range windows {
		if now.Before(w.Start) || now.After(w.End) {
			continue
		}
		if AffectsSymbol(symbol, w.Event.Currencies) {
			return true
		}
	}
	return false
}

// GetActiveEvents returns the subset of windows currently in effect for
// symbol at now.
func GetActiveEvents(symbol string, now time.Time, windows []Window) []Window {
	var out []Window
	for _, w := range windows {
		if now.Before(w.Start) || now.After(w.End) {
			continue
		}
		if AffectsSymbol(symbol, w.Event.Currencies) {
			out = append(out, w)
		}
	}
	return out
}
