package lorawan

import (
	"crypto/aes"
	"encoding/binary"
)

// EncryptFRMPayload implements the LoRaWAN 1.0.x Appendix A.3 FRMPayload
// keystream: it generates 16-byte blocks A_1, A_2, ... under AES-128-ECB
// with the session key, concatenates them, truncates to len(payload) and
// XORs with payload. The operation is its own inverse, so the same call
// decrypts an encrypted payload.
func EncryptFRMPayload(key AES128Key, devAddr DevAddr, fcnt uint32, uplink bool, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	numBlocks := (len(payload) + 15) / 16
	keystream := make([]byte, numBlocks*16)

	a := make([]byte, 16)
	a[0] = 0x01
	if !uplink {
		a[5] = 0x01
	}
	copy(a[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(a[10:14], fcnt)

	for i := 0; i < numBlocks; i++ {
		a[15] = byte(i + 1)
		block.Encrypt(keystream[i*16:(i+1)*16], a)
	}

	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ keystream[i]
	}
	return out, nil
}
