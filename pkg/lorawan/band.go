package lorawan

import (
	"fmt"
	"math"
	"time"
)

// DataRate describes a LoRa spreading-factor/bandwidth pair. FSK (DR7)
// has no spreading factor and is not supported for airtime calculation.
type DataRate struct {
	SpreadFactor int
	Bandwidth    int // kHz
	FSK          bool
}

// EU868DataRates is the DR index -> (SF, BW) table for the EU868 band,
// the only region this simulator implements (spec.md §4.3).
var EU868DataRates = [8]DataRate{
	0: {SpreadFactor: 12, Bandwidth: 125},
	1: {SpreadFactor: 11, Bandwidth: 125},
	2: {SpreadFactor: 10, Bandwidth: 125},
	3: {SpreadFactor: 9, Bandwidth: 125},
	4: {SpreadFactor: 8, Bandwidth: 125},
	5: {SpreadFactor: 7, Bandwidth: 125},
	6: {SpreadFactor: 7, Bandwidth: 250},
	7: {FSK: true},
}

// DataRateForIndex returns the (SF, BW) for a DR index, erroring on an
// out-of-range index or the unsupported FSK data rate.
func DataRateForIndex(dr int) (DataRate, error) {
	if dr < 0 || dr > 7 {
		return DataRate{}, fmt.Errorf("data rate index %d out of range", dr)
	}
	d := EU868DataRates[dr]
	if d.FSK {
		return d, fmt.Errorf("data rate index %d (FSK) has no airtime model", dr)
	}
	return d, nil
}

// SymbolDuration returns T_sym = 2^SF / (BW*1000) seconds.
func (d DataRate) SymbolDuration() time.Duration {
	tSym := math.Pow(2, float64(d.SpreadFactor)) / (float64(d.Bandwidth) * 1000)
	return time.Duration(tSym * float64(time.Second))
}

// Airtime computes T_air for an N-byte payload at this data rate, per
// spec.md §4.3: 8 preamble symbols, coding rate 4/5, explicit header.
func (d DataRate) Airtime(payloadSize int) (time.Duration, error) {
	if d.FSK {
		return 0, fmt.Errorf("airtime: FSK data rate has no airtime model")
	}

	sf := float64(d.SpreadFactor)
	n := float64(payloadSize)

	numerator := 8*n - 4*sf + 28 + 16
	denominator := 4 * (sf - 2)
	nPay := 8 + math.Max(math.Ceil(numerator/denominator)*4, 0)

	tSym := d.SymbolDuration()
	tAir := time.Duration(float64(8+nPay) * float64(tSym))
	return tAir, nil
}
