package devicemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-sim/internal/bus"
	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/lorawan-server/lorawan-sim/internal/radio"
	"github.com/lorawan-server/lorawan-sim/internal/stack"
	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

type noopHooks struct{}

func (noopHooks) GenerateAppPayload() []byte  { return []byte{0x01} }
func (noopHooks) OnAck()                      {}
func (noopHooks) BatteryStatus() uint8        { return 255 }
func (noopHooks) ReceiveDownlink(data []byte) {}

func TestSnapshotReflectsRegisteredDevices(t *testing.T) {
	b := bus.New()
	m := New(b)

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	session := models.NewDeviceSession(devAddr, lorawan.AES128Key{}, lorawan.AES128Key{})
	session.SetFrameCounter(7)
	r := radio.NewState()
	s := stack.New(session, r, noopHooks{}, nil, "urban", 100, -20, 3)

	m.Register("01020304", &Device{Stack: s, SendInterval: time.Hour, FPort: 1})

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint32(7), snap[0].FrameCounter)
	assert.Equal(t, "01020304", snap[0].DevAddr)
}

func TestRegisteredDeviceIgnoresNonMatchingDownlink(t *testing.T) {
	b := bus.New()
	m := New(b)

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	session := models.NewDeviceSession(devAddr, lorawan.AES128Key{}, lorawan.AES128Key{})
	r := radio.NewState()
	s := stack.New(session, r, noopHooks{}, nil, "urban", 100, -20, 3)
	m.Register("01020304", &Device{Stack: s, SendInterval: time.Hour, FPort: 1})

	// An envelope for a different DevAddr must not panic or change state.
	b.Publish(&models.DownlinkEnvelope{PHYPayload: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, float64(0), session.LastSNRValue())
	assert.Empty(t, session.DrainMACResponses())
}
