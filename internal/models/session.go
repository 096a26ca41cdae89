// Package models holds the plain data shared between the LoRaWAN stack,
// the radio state machine and the gateway adapter: a device's session
// keys and counters, and the uplink/downlink envelopes passed between
// layers.
package models

import (
	"sync"
	"time"

	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

// DeviceSession is the per-device ABP session: identity is immutable
// after construction. SendMu serializes the send cycle itself (spec's
// per-device send_lock) — it is held for the whole build/transmit/
// ack-wait cycle, so it cannot also guard the fields below, which a
// concurrent downlink (arriving mid-cycle, during an open RX window)
// and the status server's snapshot goroutine both touch. mu guards
// exactly those fields; every accessor below takes it for the
// shortest span that reads or writes them.
type DeviceSession struct {
	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key

	SendMu   sync.Mutex
	AckEvent chan struct{}

	mu                  sync.Mutex
	frameCounter        uint32
	waitingForAck       bool
	pendingFCnt         uint32
	pendingMACResponses []byte
	lastSNR             float64

	CreatedAt time.Time
}

// NewDeviceSession builds a session starting at FCnt 0 with empty
// pending state.
func NewDeviceSession(devAddr lorawan.DevAddr, nwkSKey, appSKey lorawan.AES128Key) *DeviceSession {
	return &DeviceSession{
		DevAddr:   devAddr,
		NwkSKey:   nwkSKey,
		AppSKey:   appSKey,
		AckEvent:  make(chan struct{}, 1),
		CreatedAt: time.Now(),
	}
}

// NextFCnt returns the counter to use for the next build, without
// advancing it; the build phase advances the counter only once it has
// committed to sending.
func (s *DeviceSession) NextFCnt() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCounter
}

// IncrementFCnt advances the frame counter past the value a just-built
// frame used.
func (s *DeviceSession) IncrementFCnt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCounter++
}

// FrameCounterValue returns the current frame counter.
func (s *DeviceSession) FrameCounterValue() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCounter
}

// SetFrameCounter overrides the frame counter, for restoring a session
// at startup or in tests.
func (s *DeviceSession) SetFrameCounter(fcnt uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCounter = fcnt
}

// IsWaitingForAck reports whether a confirmed uplink is outstanding.
func (s *DeviceSession) IsWaitingForAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingForAck
}

// SetWaitingForAck marks whether a confirmed uplink is outstanding.
func (s *DeviceSession) SetWaitingForAck(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingForAck = v
}

// SetPendingFCnt records the frame counter of the outstanding confirmed
// uplink.
func (s *DeviceSession) SetPendingFCnt(fcnt uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingFCnt = fcnt
}

// LastSNRValue returns the SNR of the most recently received downlink.
func (s *DeviceSession) LastSNRValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSNR
}

// SetLastSNR records the SNR of the most recently received downlink.
func (s *DeviceSession) SetLastSNR(snr float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSNR = snr
}

// DrainMACResponses returns the accumulated MAC command response bytes
// queued for the next uplink and clears the queue.
func (s *DeviceSession) DrainMACResponses() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingMACResponses) == 0 {
		return nil
	}
	out := s.pendingMACResponses
	s.pendingMACResponses = nil
	return out
}

// QueueMACResponse appends a CID||payload response to the pending queue.
func (s *DeviceSession) QueueMACResponse(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMACResponses = append(s.pendingMACResponses, b...)
}

// SignalAck marks the outstanding confirmed-uplink as acknowledged. It
// never blocks: a full channel means an ACK is already pending consumption.
func (s *DeviceSession) SignalAck() {
	select {
	case s.AckEvent <- struct{}{}:
	default:
	}
}

// ResetAck drains any stale signal so a fresh wait starts from empty.
func (s *DeviceSession) ResetAck() {
	select {
	case <-s.AckEvent:
	default:
	}
}
