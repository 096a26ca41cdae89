package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/lorawan-server/lorawan-sim/internal/radio"
	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

type fakeHooks struct {
	ackCount int
	received [][]byte
}

func (f *fakeHooks) GenerateAppPayload() []byte   { return []byte{0x01, 0x02} }
func (f *fakeHooks) OnAck()                       { f.ackCount++ }
func (f *fakeHooks) BatteryStatus() uint8         { return 100 }
func (f *fakeHooks) ReceiveDownlink(data []byte)  { f.received = append(f.received, data) }

func newTestStack(t *testing.T) (*Stack, *fakeHooks) {
	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	session := models.NewDeviceSession(devAddr, lorawan.AES128Key{}, lorawan.AES128Key{})
	r := radio.NewState()
	hooks := &fakeHooks{}

	var captured []byte
	push := func(env *models.UplinkEnvelope) error {
		captured = env.PHYPayload
		return nil
	}
	s := New(session, r, hooks, push, "urban", 100, -20, 3)
	_ = captured
	return s, hooks
}

// TestProcessDownlinkSetsAckOnlyOnce matches spec.md §8 scenario 2: an
// unconfirmed-down frame with FCtrl.ACK=1 and no FPort fires OnAck
// exactly once and signals the ACK event (clearing WaitingForAck is
// left to Send's cleanup).
func TestProcessDownlinkSetsAckOnlyOnce(t *testing.T) {
	s, hooks := newTestStack(t)
	s.Session.SetWaitingForAck(true)

	frame := &lorawan.Frame{
		MType:   lorawan.UnconfirmedDataDown,
		DevAddr: s.Session.DevAddr,
		FCtrl:   lorawan.FCtrl{ACK: true},
		FCnt:    0,
	}
	s.processDownlink(frame)

	assert.Equal(t, 1, hooks.ackCount)
	select {
	case <-s.Session.AckEvent:
	default:
		t.Fatal("expected ack event to be signaled")
	}
}

// TestApplyMACCommandsLinkADRReq matches spec.md §8 scenario 3.
func TestApplyMACCommandsLinkADRReq(t *testing.T) {
	s, _ := newTestStack(t)

	encrypted, err := lorawan.EncryptFRMPayload(s.Session.NwkSKey, s.Session.DevAddr, 0, false, []byte{0x03, 0x52, 0xFF, 0x00, 0x01})
	require.NoError(t, err)

	fport := uint8(0)
	frame := &lorawan.Frame{
		MType:      lorawan.UnconfirmedDataDown,
		DevAddr:    s.Session.DevAddr,
		FCnt:       0,
		FPort:      &fport,
		FRMPayload: encrypted,
	}
	s.processDownlink(frame)

	dataRate, txPower, nbTrans := s.Radio.Snapshot()
	assert.Equal(t, 5, dataRate)
	assert.Equal(t, 2, txPower)
	assert.Equal(t, 1, nbTrans)

	resp := s.Session.DrainMACResponses()
	assert.Equal(t, []byte{0x03, 0b111}, resp)
}

func TestRXWindowMatchesRX2(t *testing.T) {
	s, _ := newTestStack(t)
	s.rx2Open = true
	rx2Freq, _ := s.Radio.RX2Params()
	env := &models.DownlinkEnvelope{Freq: rx2Freq}
	assert.True(t, s.rxWindowMatches(env))
}

func TestRXWindowDropsWhenNeitherOpen(t *testing.T) {
	s, _ := newTestStack(t)
	rx2Freq, _ := s.Radio.RX2Params()
	env := &models.DownlinkEnvelope{Freq: rx2Freq}
	assert.False(t, s.rxWindowMatches(env))
}

func TestBuildUplinkIncrementsFrameCounter(t *testing.T) {
	s, _ := newTestStack(t)
	_, fcnt0, err := s.buildUplink([]byte{0x01}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), fcnt0)

	_, fcnt1, err := s.buildUplink([]byte{0x02}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), fcnt1)
}

func TestBuildUplinkEmbedsShortPendingMACResponsesInFOpts(t *testing.T) {
	s, _ := newTestStack(t)
	s.Session.QueueMACResponse([]byte{0x03, 0x07})

	phy, _, err := s.buildUplink([]byte{0xAA}, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(2), phy[5]&0x0F)
	assert.Empty(t, s.Session.DrainMACResponses())
}
