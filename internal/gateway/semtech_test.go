package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	eui := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	for _, id := range []byte{IdentPushData, IdentPullData} {
		packet := buildHeader(0xBEEF, id, eui)
		token, identifier, gotEUI, body, err := parseHeader(packet)
		require.NoError(t, err)
		assert.Equal(t, uint16(0xBEEF), token)
		assert.Equal(t, id, identifier)
		assert.Equal(t, eui, gotEUI)
		assert.Empty(t, body)
	}
}

func TestParseHeaderRejectsShortPacket(t *testing.T) {
	_, _, _, _, err := parseHeader([]byte{0x02, 0x00})
	assert.Error(t, err)
}

func TestDatrFormat(t *testing.T) {
	assert.Equal(t, "SF7BW125", datr(7, 125))
	sf, bw, err := parseDatr("SF7BW125")
	require.NoError(t, err)
	assert.Equal(t, 7, sf)
	assert.Equal(t, 125, bw)
}

func TestEncodeDecodeData(t *testing.T) {
	payload := []byte{0x40, 0xDA, 0x1B, 0x01, 0x26}
	decoded, err := decodeData(encodeData(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
