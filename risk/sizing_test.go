package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestUnitsFromRiskScenarioA reproduces spec scenario A: equity 100000,
// risk_fraction 0.005, EURUSD, 20-pip stop -> 250000 units.
func TestUnitsFromRiskScenarioA(t *testing.T) {
	units := UnitsFromRisk("EURUSD", 1.10000, 1.09800, 100000, 0.005)
	assert.Equal(t, 250000, units)
}

func TestUnitsFromRiskGoldUsesGoldPipValue(t *testing.T) {
	assert.Equal(t, 1000.0, PipValue("XAUUSD"))
	assert.Equal(t, 10.0, PipValue("EURUSD"))
}

func TestUnitsFromRiskFloorsTinyStops(t *testing.T) {
	// A near-zero SL distance is floored to 0.1 pips, not division by zero.
	units := UnitsFromRisk("EURUSD", 1.10000, 1.10000, 100000, 0.005)
	assert.Greater(t, units, 0)
}

func TestComputePositionSizeCapsAtMaxUnits(t *testing.T) {
	b := ComputePositionSize("EURUSD", 1.10000, 1.09800, 100000, 0.005, 1000)
	assert.Equal(t, 1000, b.Units)
	assert.True(t, b.Capped)
}
