package radio

import (
	"testing"
	"time"

	"github.com/lorawan-server/lorawan-sim/internal/maccmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDutyCycleThrottle matches spec.md §8 scenario 5: channel 0,
// duty=0.01, airtime 60ms -> wait ~= 5.94s.
func TestDutyCycleThrottle(t *testing.T) {
	s := NewState()
	now := time.Now()

	s.RecordTransmission(0, 60*time.Millisecond, now)

	ready, wait := s.CanTransmit(0, now)
	assert.False(t, ready)
	assert.InDelta(t, 5.94, wait.Seconds(), 0.01)

	ready, _ = s.CanTransmit(0, now.Add(6*time.Second))
	assert.True(t, ready)
}

func TestRotateChannelRoundRobin(t *testing.T) {
	s := NewState()
	require.Equal(t, 0, s.CurrentChannel)
	s.RotateChannel()
	assert.Equal(t, 1, s.CurrentChannel)
	s.RotateChannel()
	assert.Equal(t, 2, s.CurrentChannel)
	s.RotateChannel()
	assert.Equal(t, 0, s.CurrentChannel)
}

func TestApplyLinkADRReqMasksChannels(t *testing.T) {
	s := NewState()
	s.ApplyLinkADRReq(maccmd.LinkADRReq{DataRate: 5, TXPower: 2, ChMask: 0x0001, NbTrans: 1})

	assert.Equal(t, 5, s.DataRate)
	assert.Equal(t, 2, s.TXPower)
	_, ok := s.Channels[0]
	assert.True(t, ok)
	_, ok = s.Channels[1]
	assert.False(t, ok)
	_, ok = s.Channels[2]
	assert.False(t, ok)
}

func TestApplyNewChannelReqSpecialDutyCycle(t *testing.T) {
	s := NewState()
	s.ApplyNewChannelReq(maccmd.NewChannelReq{ChIndex: 3, Frequency: 869525000, DRMin: 0, DRMax: 5})
	assert.Equal(t, specialDutyCycle, s.Channels[3].DutyCycle)
}

func TestRX1DataRateClampedAtZero(t *testing.T) {
	s := NewState()
	s.DataRate = 1
	s.RX1DROffset = 3
	assert.Equal(t, 0, s.RX1DataRate())
}
