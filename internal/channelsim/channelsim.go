// Package channelsim implements the RF-impairment model: a pure,
// RNG-driven mapping from a transmission's physical parameters to an
// RSSI/SNR estimate and a probabilistic drop decision (spec.md §4.4).
// Both entry points are idempotent functions of their inputs plus the
// random draws they make; they never mutate shared state and never
// return an error — a simulated impairment is not a fault.
package channelsim

import (
	"math"
	"math/rand"

	"github.com/lorawan-server/lorawan-sim/internal/models"
)

var pathLossExponent = map[string]float64{
	"urban":    2.7,
	"suburban": 2.0,
	"rural":    1.6,
}

const defaultPathLossExponent = 2.3

var sfPenalty = map[int]float64{
	7: 0, 8: 1.5, 9: 3.5, 10: 6.0, 11: 9.5, 12: 13.0,
}

var noiseFloor = map[string]float64{
	"urban":    -110,
	"suburban": -120,
	"rural":    -125,
}

const defaultNoiseFloor = -120

var baseSNR = map[int]float64{
	7: -7, 8: -10, 9: -13, 10: -15, 11: -17, 12: -18.5,
}

var codingRateBonus = map[string]float64{
	"4/5": 0, "4/6": 1, "4/7": 2, "4/8": 3,
}

const defaultSNRThreshold = -20.0

func pathLoss(distance float64, environment string) float64 {
	n, ok := pathLossExponent[environment]
	if !ok {
		n = defaultPathLossExponent
	}
	d := math.Max(distance, 1)
	return 40 + 10*n*math.Log10(d)
}

func estimateNoiseFloor(environment string) float64 {
	if v, ok := noiseFloor[environment]; ok {
		return v
	}
	return defaultNoiseFloor
}

// SimulateUplink estimates RSSI/SNR for env and decides whether the
// transmission is dropped, writing rssi/snr/dropped back into env. A
// snrThreshold of 0 uses the spec default of -20 dB.
func SimulateUplink(env *models.UplinkEnvelope, snrThreshold float64) {
	if snrThreshold == 0 {
		snrThreshold = defaultSNRThreshold
	}

	pl := pathLoss(env.Distance, env.Environment)
	sfPen := sfPenalty[env.SF]
	bwPen := (125 - float64(env.BW)) * 0.05
	fading := rand.NormFloat64() * 1.5

	rssi := math.Floor(env.TXPower - pl - sfPen - bwPen + fading)

	nf := estimateNoiseFloor(env.Environment)
	base := baseSNR[env.SF]

	var jitter float64
	if env.SF >= 11 {
		jitter = -1.5 + rand.Float64()*(3.0-(-1.5))
	} else {
		jitter = -1.0 + rand.Float64()*(2.0-(-1.0))
	}

	cap := 10 - (float64(env.BW)-125)/50
	raw := rssi - nf + base + jitter
	snr := math.Round(math.Min(raw, cap)*10) / 10

	bonus := codingRateBonus[env.CodingRate]
	threshold := snrThreshold - bonus

	dropProb := math.Max(0, 0.3-((snr-threshold)/10)*0.15)
	dropped := snr < threshold || rssi < nf+6 || rand.Float64() < dropProb

	env.RSSI = rssi
	env.SNR = snr
	env.Dropped = dropped
}

// SimulateDownlink applies the same impairment model to a downlink
// envelope, in place.
func SimulateDownlink(env *models.DownlinkEnvelope, txPower, distance float64, environment, codingRate string, snrThreshold float64) {
	up := &models.UplinkEnvelope{
		TXPower:     txPower,
		Distance:    distance,
		SF:          env.SF,
		BW:          env.BW,
		Environment: environment,
		CodingRate:  codingRate,
	}
	SimulateUplink(up, snrThreshold)
	env.RSSI = up.RSSI
	env.SNR = up.SNR
	env.Dropped = up.Dropped
}
