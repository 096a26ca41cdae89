// Package stack implements the per-device Class-A LoRaWAN state
// machine (spec.md §4.5): building and sending uplink frames, the
// NbTrans and confirmed-retry loops, RX-window scheduling, and
// downlink demux/processing. One Stack owns one DeviceSession and one
// radio.State; nothing here is shared across devices.
package stack

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-sim/internal/channelsim"
	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/lorawan-server/lorawan-sim/internal/radio"
	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

// nbTransBackoffRange and retryBackoffRange bound the jittered sleeps
// between NbTrans attempts and between confirmed-uplink retries; the
// source leaves their exact bounds as a tunable, not a fixed constant.
var (
	nbTransBackoffRange = [2]float64{0, 1}
	retryBackoffRange   = [2]float64{1, 5}
)

const codingRate = "4/5"

// UplinkFunc hands a simulated-and-encoded uplink envelope to the
// gateway adapter.
type UplinkFunc func(env *models.UplinkEnvelope) error

// Stack is one device's LoRaWAN Class-A state machine.
type Stack struct {
	Session *models.DeviceSession
	Radio   *radio.State
	Hooks   Hooks

	PushUplink    UplinkFunc
	Environment   string
	DistanceM     float64
	SNRThreshold  float64
	MaxAckRetries int

	mu                sync.Mutex
	rx1Open           bool
	rx2Open           bool
	uplinkChannelFreq uint32
}

// New builds a Stack ready to send.
func New(session *models.DeviceSession, radioState *radio.State, hooks Hooks, push UplinkFunc, environment string, distanceM float64, snrThreshold float64, maxAckRetries int) *Stack {
	return &Stack{
		Session:       session,
		Radio:         radioState,
		Hooks:         hooks,
		PushUplink:    push,
		Environment:   environment,
		DistanceM:     distanceM,
		SNRThreshold:  snrThreshold,
		MaxAckRetries: maxAckRetries,
	}
}

// Send runs one full Class-A send cycle: build, transmit with NbTrans
// redundancy, and (for confirmed uplinks) retry with back-off until
// acknowledged or max_ack_retries is exhausted. It is serialized by
// the session's send lock, so only one send cycle per device runs at
// a time.
func (s *Stack) Send(appPayload []byte, fport uint8, confirmed bool) error {
	s.Session.SendMu.Lock()
	defer s.Session.SendMu.Unlock()

	defer s.cleanup()

	for attempt := 0; ; attempt++ {
		s.Session.ResetAck()
		if confirmed {
			s.Session.SetWaitingForAck(true)
		}

		phy, fcnt, err := s.buildUplink(appPayload, fport)
		if err != nil {
			return fmt.Errorf("stack: build uplink: %w", err)
		}
		s.Session.SetPendingFCnt(fcnt)

		acked, err := s.transmitWithRetries(phy, confirmed)
		if err != nil {
			return fmt.Errorf("stack: transmit: %w", err)
		}
		if !confirmed || acked {
			return nil
		}

		select {
		case <-s.Session.AckEvent:
			return nil
		case <-time.After(s.Radio.RX1DelayValue() + 1100*time.Millisecond):
		}

		if attempt+1 >= s.MaxAckRetries {
			log.Warn().Str("devaddr", s.Session.DevAddr.String()).Msg("confirmed uplink exhausted max_ack_retries")
			return nil
		}

		backoff := radio.NbTransBackoff(retryBackoffRange[0], retryBackoffRange[1]) * time.Duration(attempt+2)
		time.Sleep(backoff)
	}
}

func (s *Stack) cleanup() {
	s.Session.SetWaitingForAck(false)
	s.Session.SetPendingFCnt(0)
	s.Session.ResetAck()
}

// buildUplink implements the spec's build phase: pending MAC responses
// take priority over the application payload, and the frame counter
// only advances once a frame has actually been built.
func (s *Stack) buildUplink(appPayload []byte, fport uint8) ([]byte, uint32, error) {
	fcnt := s.Session.NextFCnt()
	pending := s.Session.DrainMACResponses()

	var usedFPort uint8
	var plaintext []byte
	var fopts []byte

	switch {
	case len(pending) > 0 && len(pending) <= 15:
		fopts = pending
		usedFPort = fport
		plaintext = appPayload
	case len(pending) > 0:
		usedFPort = 0
		plaintext = pending
	default:
		usedFPort = fport
		plaintext = appPayload
	}

	key := s.Session.AppSKey
	if usedFPort == 0 {
		key = s.Session.NwkSKey
	}

	encrypted, err := lorawan.EncryptFRMPayload(key, s.Session.DevAddr, fcnt, true, plaintext)
	if err != nil {
		return nil, 0, err
	}

	f := &lorawan.Frame{
		MType:      lorawan.UnconfirmedDataUp,
		DevAddr:    s.Session.DevAddr,
		FCnt:       fcnt,
		FOpts:      fopts,
		FPort:      &usedFPort,
		FRMPayload: encrypted,
	}
	if s.Session.IsWaitingForAck() {
		f.MType = lorawan.ConfirmedDataUp
	}

	phy, err := f.MarshalUplink(s.Session.NwkSKey)
	if err != nil {
		return nil, 0, err
	}

	s.Session.IncrementFCnt()
	return phy, fcnt, nil
}

// transmitWithRetries runs the NbTrans loop: each attempt selects a
// ready channel, simulates the channel impairment, hands a surviving
// transmission to the gateway adapter, schedules RX windows, and waits
// for either an ACK or the inter-attempt sleep before rotating channel
// and trying again.
func (s *Stack) transmitWithRetries(phy []byte, confirmed bool) (acked bool, err error) {
	dataRate, _, nbTrans := s.Radio.Snapshot()
	dr, err := lorawan.DataRateForIndex(dataRate)
	if err != nil {
		return false, err
	}

	for i := 0; i < nbTrans; i++ {
		channel, tAir, err := s.Radio.WaitForChannel(dr, len(phy), time.Sleep)
		if err != nil {
			return false, err
		}

		freq, err := s.Radio.FreqOf(channel)
		if err != nil {
			return false, err
		}

		env := &models.UplinkEnvelope{
			PHYPayload:  phy,
			Channel:     channel,
			Freq:        freq,
			SF:          dr.SpreadFactor,
			BW:          dr.Bandwidth,
			CodingRate:  codingRate,
			TXPower:     14,
			Distance:    s.DistanceM,
			Environment: s.Environment,
			ReceivedAt:  time.Now(),
		}
		channelsim.SimulateUplink(env, s.SNRThreshold)

		if !env.Dropped && s.PushUplink != nil {
			if err := s.PushUplink(env); err != nil {
				log.Warn().Err(err).Msg("stack: uplink push failed")
			}
		}

		now := time.Now()
		s.Radio.RecordTransmission(channel, tAir, now)
		s.scheduleRXWindows(channel, freq)

		wait := s.Radio.RX1DelayValue() + time.Second + radio.NbTransBackoff(nbTransBackoffRange[0], nbTransBackoffRange[1])
		select {
		case <-s.Session.AckEvent:
			if confirmed {
				acked = true
			}
		case <-time.After(wait):
		}

		s.Radio.RotateChannel()
		if confirmed && acked {
			break
		}
	}
	return acked, nil
}
