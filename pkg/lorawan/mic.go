package lorawan

import "encoding/binary"

// ComputeMIC computes the 4-byte LoRaWAN MIC over msg (MHDR || MACPayload)
// using AES-CMAC(NwkSKey, B0 || msg), per LoRaWAN 1.0.x. dir is 0 for
// uplink, 1 for downlink.
func ComputeMIC(key AES128Key, dir byte, devAddr DevAddr, fcnt uint32, msg []byte) ([4]byte, error) {
	var mic [4]byte

	b0 := make([]byte, 16)
	b0[0] = 0x49
	b0[5] = dir
	copy(b0[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(b0[10:14], fcnt)
	b0[15] = byte(len(msg))

	buf := make([]byte, 0, 16+len(msg))
	buf = append(buf, b0...)
	buf = append(buf, msg...)

	tag, err := aesCMAC(key[:], buf)
	if err != nil {
		return mic, err
	}
	copy(mic[:], tag[:4])
	return mic, nil
}
