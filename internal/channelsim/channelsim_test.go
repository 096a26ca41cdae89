package channelsim

import (
	"testing"

	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/stretchr/testify/assert"
)

// TestRSSIMonotonicWithDistance matches spec.md §8 invariant 6: holding
// all other inputs constant, mean RSSI across many draws strictly
// decreases as distance increases.
func TestRSSIMonotonicWithDistance(t *testing.T) {
	meanRSSI := func(distance float64) float64 {
		var sum float64
		const n = 400
		for i := 0; i < n; i++ {
			env := &models.UplinkEnvelope{
				TXPower:     14,
				SF:          7,
				BW:          125,
				Environment: "suburban",
				CodingRate:  "4/5",
				Distance:    distance,
			}
			SimulateUplink(env, -20)
			sum += env.RSSI
		}
		return sum / n
	}

	near := meanRSSI(100)
	far := meanRSSI(5000)
	assert.Less(t, far, near)
}

func TestSimulateUplinkNeverErrors(t *testing.T) {
	env := &models.UplinkEnvelope{
		TXPower:     14,
		SF:          12,
		BW:          125,
		Environment: "rural",
		CodingRate:  "4/8",
		Distance:    20000,
	}
	assert.NotPanics(t, func() { SimulateUplink(env, -20) })
}
