package lorawan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroKey() AES128Key {
	return AES128Key{}
}

// TestPlainUplinkScenario matches spec.md §8 scenario 1: a plain
// unconfirmed uplink from DevAddr 26011BDA with all-zero session keys,
// FCnt 0, FPort 1, payload 0x0164.
func TestPlainUplinkScenario(t *testing.T) {
	devAddr, err := ParseDevAddr("26011BDA")
	require.NoError(t, err)

	nwkSKey := zeroKey()
	appSKey := zeroKey()
	fport := uint8(1)
	payload := []byte{0x01, 0x64}

	encrypted, err := EncryptFRMPayload(appSKey, devAddr, 0, true, payload)
	require.NoError(t, err)

	f := &Frame{
		MType:      UnconfirmedDataUp,
		DevAddr:    devAddr,
		FCnt:       0,
		FPort:      &fport,
		FRMPayload: encrypted,
	}

	out, err := f.MarshalUplink(nwkSKey)
	require.NoError(t, err)
	require.Len(t, out, 1+4+1+2+0+1+2+4)

	assert.Equal(t, []byte{0x40, 0xDA, 0x1B, 0x01, 0x26, 0x00, 0x00, 0x00, 0x01}, out[0:9])

	wantEncrypted := out[9:11]
	assert.Equal(t, wantEncrypted, encrypted)

	msg := out[:len(out)-4]
	wantMIC, err := ComputeMIC(nwkSKey, 0, devAddr, 0, msg)
	require.NoError(t, err)
	assert.Equal(t, wantMIC[:], out[len(out)-4:])
}

func TestEncryptFRMPayloadSelfInverse(t *testing.T) {
	key := AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	devAddr := DevAddr{0xDE, 0xAD, 0xBE, 0xEF}
	payload := []byte("the quick brown fox jumps")

	enc, err := EncryptFRMPayload(key, devAddr, 42, true, payload)
	require.NoError(t, err)
	require.NotEqual(t, payload, enc)

	dec, err := EncryptFRMPayload(key, devAddr, 42, true, enc)
	require.NoError(t, err)
	assert.Equal(t, payload, dec)
}

func TestUplinkFCtrlAndLength(t *testing.T) {
	devAddr := DevAddr{1, 2, 3, 4}
	key := AES128Key{}
	fport := uint8(5)

	f := &Frame{
		MType:      UnconfirmedDataUp,
		DevAddr:    devAddr,
		FCnt:       7,
		FOpts:      []byte{0x02},
		FPort:      &fport,
		FRMPayload: []byte{0xAA, 0xBB, 0xCC},
	}

	out, err := f.MarshalUplink(key)
	require.NoError(t, err)

	wantLen := 1 + 4 + 1 + 2 + len(f.FOpts) + (1 + len(f.FRMPayload)) + 4
	assert.Len(t, out, wantLen)
	assert.Equal(t, byte(len(f.FOpts)), out[5]&0x0F)
}

func TestMarshalUplinkRejectsOversizeFOpts(t *testing.T) {
	f := &Frame{
		MType:   UnconfirmedDataUp,
		DevAddr: DevAddr{1, 2, 3, 4},
		FOpts:   make([]byte, 16),
	}
	_, err := f.MarshalUplink(AES128Key{})
	assert.Error(t, err)
}

func TestParseDownlinkRoundTrip(t *testing.T) {
	devAddr := DevAddr{1, 2, 3, 4}
	nwkSKey := AES128Key{9}

	macPayload := make([]byte, 0)
	macPayload = append(macPayload, devAddr[:]...)
	macPayload = append(macPayload, 0x20) // FCtrl: ACK set, no FOpts
	macPayload = append(macPayload, 5, 0) // FCnt = 5
	fport := byte(1)
	appPayload := []byte{0x0A, 0x0B}
	macPayload = append(macPayload, fport)
	macPayload = append(macPayload, appPayload...)

	mhdr := byte(UnconfirmedDataDown) << 5
	msg := append([]byte{mhdr}, macPayload...)
	mic, err := ComputeMIC(nwkSKey, 1, devAddr, 5, msg)
	require.NoError(t, err)

	raw := append(msg, mic[:]...)

	frame, gotMIC, err := ParseDownlink(raw, devAddr)
	require.NoError(t, err)
	assert.Equal(t, mic, gotMIC)
	assert.True(t, frame.FCtrl.ACK)
	assert.Equal(t, uint32(5), frame.FCnt)
	require.NotNil(t, frame.FPort)
	assert.Equal(t, fport, *frame.FPort)
	assert.Equal(t, appPayload, frame.FRMPayload)
}

func TestParseDownlinkRejectsWrongDevAddr(t *testing.T) {
	devAddr := DevAddr{1, 2, 3, 4}
	other := DevAddr{9, 9, 9, 9}
	raw := make([]byte, minDownlinkFrameLen)
	raw[0] = byte(UnconfirmedDataDown) << 5
	copy(raw[1:5], devAddr[:])

	_, _, err := ParseDownlink(raw, other)
	assert.Error(t, err)
}

func TestParseDownlinkRejectsUplinkMType(t *testing.T) {
	devAddr := DevAddr{1, 2, 3, 4}
	raw := make([]byte, minDownlinkFrameLen)
	raw[0] = byte(UnconfirmedDataUp) << 5
	copy(raw[1:5], devAddr[:])

	_, _, err := ParseDownlink(raw, devAddr)
	assert.Error(t, err)
}
