package stack

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-sim/internal/maccmd"
	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

const rxWindowGuard = 20 * time.Millisecond

// scheduleRXWindows spawns the RX1 and RX2 timers for one
// transmission, per spec.md §4.5: RX1 opens rx_delay-20ms after TX and
// stays open for 8 symbol periods at the RX1 data rate; RX2 opens
// (nominally) 2s after TX and stays open for 8 symbol periods at the
// RX2 data rate.
func (s *Stack) scheduleRXWindows(channel int, uplinkFreq uint32) {
	s.mu.Lock()
	s.uplinkChannelFreq = uplinkFreq
	s.mu.Unlock()

	rx1Delay := s.Radio.RX1DelayValue()
	rx1DR := s.Radio.RX1DataRate()

	go func() {
		time.Sleep(rx1Delay - rxWindowGuard)
		s.setRX1Open(true)

		dr, err := lorawan.DataRateForIndex(rx1DR)
		duration := 2 * rxWindowGuard
		if err == nil {
			duration = rxWindowGuard + 8*dr.SymbolDuration()
		}
		time.Sleep(duration)
		s.setRX1Open(false)
	}()

	go func() {
		// RX2 opens nominally 2s after TX: 1s after RX1 (rx_delay==1s).
		time.Sleep(2*time.Second - rxWindowGuard)
		s.setRX2Open(true)

		_, rx2DataRate := s.Radio.RX2Params()
		dr, err := lorawan.DataRateForIndex(rx2DataRate)
		duration := 8 * time.Millisecond
		if err == nil {
			duration = 8 * dr.SymbolDuration()
		}
		time.Sleep(duration)
		s.setRX2Open(false)
	}()
}

func (s *Stack) setRX1Open(v bool) {
	s.mu.Lock()
	s.rx1Open = v
	s.mu.Unlock()
}

func (s *Stack) setRX2Open(v bool) {
	s.mu.Lock()
	s.rx2Open = v
	s.mu.Unlock()
}

// HandleDownlink is the bus subscriber entry point: it tries to parse
// env as addressed to this device, checks that it arrived during an
// open RX window, and if so hands it to processDownlink. A frame for a
// different DevAddr or a malformed frame is dropped without logging; a
// frame outside both windows is logged at debug level and dropped. The
// device continues either way.
func (s *Stack) HandleDownlink(env *models.DownlinkEnvelope) {
	frame, _, err := lorawan.ParseDownlink(env.PHYPayload, s.Session.DevAddr)
	if err != nil {
		return
	}

	if !s.rxWindowMatches(env) {
		log.Debug().Str("devaddr", s.Session.DevAddr.String()).Msg("downlink arrived outside open RX window, dropping")
		return
	}

	s.Session.SetLastSNR(env.SNR)
	s.processDownlink(frame)
}

func (s *Stack) rxWindowMatches(env *models.DownlinkEnvelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rx1Open && env.Freq == s.uplinkChannelFreq {
		if rx1dr, err := lorawan.DataRateForIndex(s.Radio.RX1DataRate()); err == nil {
			if env.SF == rx1dr.SpreadFactor && env.BW == rx1dr.Bandwidth {
				return true
			}
		}
	}
	rx2Freq, _ := s.Radio.RX2Params()
	if s.rx2Open && env.Freq == rx2Freq {
		return true
	}
	return false
}

// processDownlink applies spec.md §4.5's process_downlink steps: parse
// FOpts MAC commands and apply them, set the ACK event on FCtrl.ACK,
// and deliver FPort payload either to the MAC layer (FPort 0) or the
// application (FPort >= 1).
func (s *Stack) processDownlink(frame *lorawan.Frame) {
	if len(frame.FOpts) > 0 {
		cmds, err := maccmd.Decode(frame.FOpts)
		if err != nil {
			log.Debug().Err(err).Msg("stack: malformed FOpts MAC commands")
		}
		s.applyMACCommands(cmds)
	}

	if frame.FCtrl.ACK && s.Session.IsWaitingForAck() {
		s.Session.SignalAck()
		if s.Hooks != nil {
			s.Hooks.OnAck()
		}
	}

	if frame.FPort == nil {
		return
	}

	if *frame.FPort == 0 {
		plaintext, err := lorawan.EncryptFRMPayload(s.Session.NwkSKey, s.Session.DevAddr, frame.FCnt, false, frame.FRMPayload)
		if err != nil {
			log.Debug().Err(err).Msg("stack: decrypt FPort-0 payload failed")
			return
		}
		cmds, err := maccmd.Decode(plaintext)
		if err != nil {
			log.Debug().Err(err).Msg("stack: malformed FPort-0 MAC commands")
		}
		s.applyMACCommands(cmds)
		return
	}

	plaintext, err := lorawan.EncryptFRMPayload(s.Session.AppSKey, s.Session.DevAddr, frame.FCnt, false, frame.FRMPayload)
	if err != nil {
		log.Debug().Err(err).Msg("stack: decrypt application payload failed")
		return
	}
	if s.Hooks != nil {
		s.Hooks.ReceiveDownlink(plaintext)
	}
}

// applyMACCommands applies every decoded command to the radio state
// and queues its response for the next uplink.
func (s *Stack) applyMACCommands(cmds []maccmd.Command) {
	for _, c := range cmds {
		switch v := c.(type) {
		case maccmd.LinkCheckReq:
			s.Session.QueueMACResponse(maccmd.EncodeLinkCheckAns(s.Session.LastSNRValue(), 1))
		case maccmd.LinkADRReq:
			s.Radio.ApplyLinkADRReq(v)
			s.Session.QueueMACResponse(maccmd.EncodeLinkADRAns())
		case maccmd.DutyCycleReq:
			s.Session.QueueMACResponse(maccmd.EncodeDutyCycleAns())
		case maccmd.RXParamSetupReq:
			s.Radio.ApplyRXParamSetupReq(v)
			s.Session.QueueMACResponse(maccmd.EncodeRXParamSetupAns())
		case maccmd.DevStatusReq:
			battery := uint8(255)
			if s.Hooks != nil {
				battery = s.Hooks.BatteryStatus()
			}
			s.Session.QueueMACResponse(maccmd.EncodeDevStatusAns(battery, s.Session.LastSNRValue()))
		case maccmd.NewChannelReq:
			s.Radio.ApplyNewChannelReq(v)
			s.Session.QueueMACResponse(maccmd.EncodeNewChannelAns())
		case maccmd.RXTimingSetupReq:
			s.Radio.ApplyRXTimingSetupReq(v)
			s.Session.QueueMACResponse(maccmd.EncodeRXTimingSetupAns())
		}
	}
}
