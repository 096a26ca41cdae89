package gateway

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-sim/internal/models"
)

// newLoopbackAdapter dials an Adapter at a throwaway local UDP listener
// so PushUplink's write always has somewhere to land.
func newLoopbackAdapter(t *testing.T) *Adapter {
	t.Helper()
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	a, err := NewAdapter(listener.LocalAddr().String(), [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPushUplinkIncrementsRxStats(t *testing.T) {
	a := newLoopbackAdapter(t)

	err := a.PushUplink(&models.UplinkEnvelope{
		PHYPayload: []byte{0x01, 0x02},
		SF:         7,
		BW:         125,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.RxNb)
	assert.Equal(t, uint64(1), stats.RxOk)
	assert.Equal(t, uint64(0), stats.TxNb)
}

func TestHandlePacketIncrementsTxStats(t *testing.T) {
	a := newLoopbackAdapter(t)

	payload := pullRespPayload{TXPK: txpkReport{
		Tmst: a.ConcentratorTmst() + 100_000, // 100ms ahead of the concentrator clock
		Freq: 869.525,
		Powe: 14,
		Datr: "SF7BW125",
		Codr: "4/5",
		Data: encodeData([]byte{0x01, 0x02}),
	}}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	packet := append(buildHeader(0xABCD, IdentPullResp, a.gatewayEUI), body...)
	a.handlePacket(packet)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.TxNb)

	select {
	case env := <-a.Downlinks():
		assert.Equal(t, []byte{0x01, 0x02}, env.PHYPayload)
	case <-time.After(2 * time.Second):
		t.Fatal("expected downlink to be published")
	}
	assert.Equal(t, uint64(1), a.Stats().TxOk)
}
