// Package devicemgr owns the simulated device population, keyed by
// DevAddr, and drives each device's periodic send loop. It replaces
// the team's integration/forwarder.go's device-to-application bridge
// with a simulator-side device lifecycle manager: there is no
// downstream application here, only device stacks generating traffic.
package devicemgr

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-sim/internal/bus"
	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/lorawan-server/lorawan-sim/internal/stack"
	"github.com/lorawan-server/lorawan-sim/internal/status"
)

// Device bundles a stack with its send cadence and confirmed-traffic
// setting.
type Device struct {
	Stack         *stack.Stack
	SendInterval  time.Duration
	FPort         uint8
	Confirmed     bool
}

// Manager owns every simulated device and wires each one into the
// message bus so downlinks reach the stack whose DevAddr matches.
type Manager struct {
	devices map[string]*Device
	bus     *bus.Bus
}

// New builds a Manager that subscribes every registered device to b.
func New(b *bus.Bus) *Manager {
	return &Manager{devices: make(map[string]*Device), bus: b}
}

// Register adds a device and subscribes its stack to the bus.
func (m *Manager) Register(devAddr string, d *Device) {
	m.devices[devAddr] = d
	m.bus.Subscribe(func(env *models.DownlinkEnvelope) {
		d.Stack.HandleDownlink(env)
	})
}

// Run starts every device's send loop and blocks until ctx is
// cancelled. Each device runs on its own goroutine; a panic or error
// in one device's send cycle never stops the others (spec.md §7's
// propagation policy).
func (m *Manager) Run(ctx context.Context) {
	done := make(chan struct{}, len(m.devices))
	for devAddr, d := range m.devices {
		devAddr, d := devAddr, d
		go m.runDevice(ctx, devAddr, d, done)
	}
	for range m.devices {
		<-done
	}
}

func (m *Manager) runDevice(ctx context.Context, devAddr string, d *Device, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	ticker := time.NewTicker(d.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendOnce(devAddr, d)
		}
	}
}

func (m *Manager) sendOnce(devAddr string, d *Device) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("devaddr", devAddr).Interface("panic", r).Msg("device send cycle panicked, continuing")
		}
	}()

	payload := d.Stack.Hooks.GenerateAppPayload()
	if err := d.Stack.Send(payload, d.FPort, d.Confirmed); err != nil {
		log.Warn().Err(err).Str("devaddr", devAddr).Msg("send cycle failed")
	}
}

// Snapshot implements status.Source: a point-in-time view of every
// device's session and radio state.
func (m *Manager) Snapshot() []status.DeviceView {
	views := make([]status.DeviceView, 0, len(m.devices))
	for devAddr, d := range m.devices {
		dataRate, txPower, nbTrans := d.Stack.Radio.Snapshot()
		views = append(views, status.DeviceView{
			DevAddr:      devAddr,
			FrameCounter: d.Stack.Session.FrameCounterValue(),
			DataRate:     dataRate,
			TXPower:      txPower,
			NbTrans:      nbTrans,
			LastSNR:      d.Stack.Session.LastSNRValue(),
			WaitingAck:   d.Stack.Session.IsWaitingForAck(),
		})
	}
	return views
}
