// Package bus implements the asynchronous message-bus fan-out spec.md
// §4.7 describes: subscribe appends a callback, publish dispatches to
// every subscriber concurrently so a slow subscriber never blocks the
// others. It replaces the team's NATS-backed subscriber with an
// in-process channel-free fan-out, since the simulator has no external
// broker to reach.
package bus

import (
	"sync"

	"github.com/lorawan-server/lorawan-sim/internal/models"
)

// DownlinkSubscriber receives every downlink envelope published on the
// bus; subscribers are expected to filter by DevAddr themselves.
type DownlinkSubscriber func(env *models.DownlinkEnvelope)

// Bus fans out downlink envelopes from the gateway adapter to every
// registered device stack. The subscriber list is append-only at
// startup; a Subscribe concurrent with Publish is guarded by mu.
type Bus struct {
	mu   sync.RWMutex
	subs []DownlinkSubscriber
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers cb to receive every future Publish call.
func (b *Bus) Subscribe(cb DownlinkSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, cb)
}

// Publish dispatches env to every subscriber, each as its own
// goroutine, and returns without waiting for any of them to finish.
func (b *Bus) Publish(env *models.DownlinkEnvelope) {
	b.mu.RLock()
	subs := make([]DownlinkSubscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, cb := range subs {
		cb := cb
		go cb(env)
	}
}
