package stack

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Hooks are the four application-level callbacks spec.md §6 requires
// each device to expose to its host process.
type Hooks interface {
	GenerateAppPayload() []byte
	OnAck()
	BatteryStatus() uint8
	ReceiveDownlink(payload []byte)
}

// DefaultHooks is the payload generator used when a device config
// doesn't wire in anything more specific: a 2-byte incrementing
// counter (mirroring the kind of canned payload generator the source
// implementation shipped for demo devices), unknown battery status,
// and logging stand-ins for OnAck/ReceiveDownlink.
type DefaultHooks struct {
	DevAddr string
	counter uint32
}

func (h *DefaultHooks) GenerateAppPayload() []byte {
	n := atomic.AddUint32(&h.counter, 1)
	return []byte{byte(n >> 8), byte(n)}
}

func (h *DefaultHooks) OnAck() {
	log.Info().Str("devaddr", h.DevAddr).Msg("confirmed uplink acknowledged")
}

func (h *DefaultHooks) BatteryStatus() uint8 {
	return 255
}

func (h *DefaultHooks) ReceiveDownlink(payload []byte) {
	log.Info().Str("devaddr", h.DevAddr).Str("payload", fmt.Sprintf("%x", payload)).Msg("application downlink received")
}
