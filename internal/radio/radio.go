// Package radio tracks the per-device radio configuration: the
// enabled-channel table, current data rate/TX power/NbTrans, RX window
// parameters, and per-channel duty-cycle bookkeeping (spec.md §4.3).
// A State belongs to exactly one device and is never shared.
package radio

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/lorawan-server/lorawan-sim/internal/maccmd"
	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

// defaultDutyCycle is applied to ordinary EU868 channels; the 869.525
// MHz band gets 0.10 per spec.
const (
	defaultDutyCycle = 0.01
	specialDutyCycle = 0.10
	specialFreqHz    = 869525000
)

// Channel is one enabled uplink channel.
type Channel struct {
	Freq       uint32
	DRMin      int
	DRMax      int
	DutyCycle  float64
	NextTxTime time.Time
}

// State is the mutable radio configuration of one device. It is
// written from the device's send cycle and from downlink processing
// (LinkADRReq and friends arrive on RX windows concurrently with the
// next send cycle building) and read from the status server's
// snapshot goroutine, so every access to its fields below goes through
// mu.
type State struct {
	mu sync.Mutex

	Channels       map[int]*Channel
	CurrentChannel int

	DataRate int
	TXPower  int
	NbTrans  int

	RX1DROffset int
	RX2DataRate int
	RX2Freq     uint32
	RX1Delay    time.Duration

	LastSNR float64

	AggregateDutyCycle bool
	aggNextTxTime      time.Time
}

// NewState builds the default EU868 3-channel radio state used by the
// reference gateway: 868.1/868.3/868.5 MHz, DR0-DR5, duty 1%.
func NewState() *State {
	chans := map[int]*Channel{
		0: {Freq: 868100000, DRMin: 0, DRMax: 5, DutyCycle: defaultDutyCycle},
		1: {Freq: 868300000, DRMin: 0, DRMax: 5, DutyCycle: defaultDutyCycle},
		2: {Freq: 868500000, DRMin: 0, DRMax: 5, DutyCycle: defaultDutyCycle},
	}
	return &State{
		Channels:    chans,
		DataRate:    5,
		TXPower:     1,
		NbTrans:     1,
		RX1DROffset: 0,
		RX2DataRate: 0,
		RX2Freq:     869525000,
		RX1Delay:    1 * time.Second,
	}
}

// sortedChannelIndexes returns enabled channel keys in ascending order,
// the round-robin order spec.md §4.3 mandates. Caller must hold mu.
func (s *State) sortedChannelIndexes() []int {
	idx := make([]int, 0, len(s.Channels))
	for i := range s.Channels {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// CurrentChannelFreq returns the frequency of the channel currently
// selected for transmission.
func (s *State) CurrentChannelFreq() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqOf(s.CurrentChannel)
}

// FreqOf returns the frequency of channel c.
func (s *State) FreqOf(c int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqOf(c)
}

func (s *State) freqOf(c int) (uint32, error) {
	ch, ok := s.Channels[c]
	if !ok {
		return 0, fmt.Errorf("radio: channel %d not enabled", c)
	}
	return ch.Freq, nil
}

// RotateChannel advances CurrentChannel to the next enabled channel in
// round-robin order.
func (s *State) RotateChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateChannel()
}

func (s *State) rotateChannel() {
	idx := s.sortedChannelIndexes()
	if len(idx) == 0 {
		return
	}
	for i, c := range idx {
		if c == s.CurrentChannel {
			s.CurrentChannel = idx[(i+1)%len(idx)]
			return
		}
	}
	s.CurrentChannel = idx[0]
}

// CanTransmit reports whether channel c is ready to transmit at the
// device's current data rate, and if not, how long until it is.
func (s *State) CanTransmit(c int, now time.Time) (ready bool, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canTransmit(c, now)
}

func (s *State) canTransmit(c int, now time.Time) (ready bool, wait time.Duration) {
	ch, ok := s.Channels[c]
	if !ok {
		return false, 0
	}
	if s.DataRate < ch.DRMin || s.DataRate > ch.DRMax {
		return false, time.Hour
	}
	if now.Before(ch.NextTxTime) {
		return false, ch.NextTxTime.Sub(now)
	}
	if s.AggregateDutyCycle && now.Before(s.aggNextTxTime) {
		return false, s.aggNextTxTime.Sub(now)
	}
	return true, 0
}

// RecordTransmission records T_air spent transmitting on channel c at
// time now, setting the channel's (and, if enabled, the aggregate)
// next-available time per the duty-cycle formula.
func (s *State) RecordTransmission(c int, tAir time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.Channels[c]
	if !ok {
		return
	}
	wait := time.Duration(float64(tAir) * (1/ch.DutyCycle - 1))
	ch.NextTxTime = now.Add(wait)
	if s.AggregateDutyCycle {
		const aggregateDuty = 0.01
		aggWait := time.Duration(float64(tAir) * (1/aggregateDuty - 1))
		s.aggNextTxTime = now.Add(aggWait)
	}
}

// ApplyLinkADRReq applies a decoded LinkADRReq to the radio state, per
// spec.md §4.3: ChMask bits disable/enable already-known channels, they
// never invent new ones.
func (s *State) ApplyLinkADRReq(req maccmd.LinkADRReq) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DataRate = req.DataRate
	s.TXPower = req.TXPower
	s.NbTrans = req.NbTrans
	if s.NbTrans < 1 {
		s.NbTrans = 1
	}
	if s.NbTrans > 15 {
		s.NbTrans = 15
	}

	for i := 0; i < 16; i++ {
		ch, known := s.Channels[i]
		if !known {
			continue
		}
		bitSet := req.ChMask&(1<<uint(i)) != 0
		if !bitSet {
			delete(s.Channels, i)
		} else {
			s.Channels[i] = ch
		}
	}
}

// ApplyNewChannelReq creates or replaces the enabled channel at
// ChIndex.
func (s *State) ApplyNewChannelReq(req maccmd.NewChannelReq) {
	s.mu.Lock()
	defer s.mu.Unlock()

	duty := defaultDutyCycle
	if req.Frequency == specialFreqHz {
		duty = specialDutyCycle
	}
	s.Channels[req.ChIndex] = &Channel{
		Freq:      req.Frequency,
		DRMin:     req.DRMin,
		DRMax:     req.DRMax,
		DutyCycle: duty,
	}
}

// ApplyRXParamSetupReq updates RX1/RX2 parameters.
func (s *State) ApplyRXParamSetupReq(req maccmd.RXParamSetupReq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RX1DROffset = req.RX1DROffset
	s.RX2DataRate = req.RX2DataRate
	s.RX2Freq = req.Frequency
}

// ApplyRXTimingSetupReq updates RX1 delay.
func (s *State) ApplyRXTimingSetupReq(req maccmd.RXTimingSetupReq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := req.RX1Delay
	if delay == 0 {
		delay = 1
	}
	s.RX1Delay = time.Duration(delay) * time.Second
}

// RX1DataRate returns DR(uplink_DR - rx1_dr_offset, clamped >= 0), the
// data rate RX1 downlinks must be verified against.
func (s *State) RX1DataRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dr := s.DataRate - s.RX1DROffset
	if dr < 0 {
		dr = 0
	}
	return dr
}

// RX2Params returns the RX2 frequency and data rate under lock.
func (s *State) RX2Params() (freq uint32, dataRate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RX2Freq, s.RX2DataRate
}

// RX1DelayValue returns the current RX1 delay under lock.
func (s *State) RX1DelayValue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RX1Delay
}

// Snapshot returns a lock-guarded copy of the externally-observable
// radio parameters, safe for concurrent readers like the status server.
func (s *State) Snapshot() (dataRate, txPower, nbTrans int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DataRate, s.TXPower, s.NbTrans
}

// WaitForChannel loops up to len(Channels) times rotating channels
// until one reports ready. After each channel that is not ready it
// rotates and sleeps that channel's own reported wait before checking
// the next one; it does not look for the channel with the shortest
// wait. If no channel reported ready in that pass, it sleeps the
// current channel's remaining wait and returns that channel without
// checking it again. It returns the channel selected and the computed
// T_air.
func (s *State) WaitForChannel(dr lorawan.DataRate, payloadSize int, sleep func(time.Duration)) (channel int, tAir time.Duration, err error) {
	tAir, err = dr.Airtime(payloadSize)
	if err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	attempts := len(s.Channels)
	s.mu.Unlock()
	if attempts == 0 {
		return 0, 0, fmt.Errorf("radio: no enabled channels")
	}

	for i := 0; i < attempts; i++ {
		s.mu.Lock()
		ready, wait := s.canTransmit(s.CurrentChannel, time.Now())
		current := s.CurrentChannel
		s.mu.Unlock()
		if ready {
			return current, tAir, nil
		}
		s.RotateChannel()
		if wait > 0 && sleep != nil {
			sleep(wait)
		}
	}
	// All channels busy; wait on the current one and return it as the
	// selected channel.
	s.mu.Lock()
	_, wait := s.canTransmit(s.CurrentChannel, time.Now())
	current := s.CurrentChannel
	s.mu.Unlock()
	if sleep != nil {
		sleep(wait)
	}
	return current, tAir, nil
}

// NbTransBackoff draws a jittered inter-attempt sleep duration within
// the given range, following the source's Uniform(nbtrans_backoff_range).
func NbTransBackoff(minS, maxS float64) time.Duration {
	d := minS + rand.Float64()*(maxS-minS)
	return time.Duration(d * float64(time.Second))
}
