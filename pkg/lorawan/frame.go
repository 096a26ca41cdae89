package lorawan

import "fmt"

// Frame is an in-memory view of a LoRaWAN data frame
// (join procedures are out of scope; every Frame belongs to an
// ABP session). FCnt carries the full 32-bit counter; only the low 16
// bits are ever written to or read from the wire.
type Frame struct {
	MType      MType
	DevAddr    DevAddr
	FCtrl      FCtrl
	FCnt       uint32
	FOpts      []byte
	FPort      *uint8
	FRMPayload []byte // encrypted, as on the wire; callers encrypt/decrypt separately so they can choose NwkSKey vs AppSKey
}

// MarshalUplink builds the PHYPayload bytes for an uplink frame:
// MHDR(1) || DevAddr(4, LE) || FCtrl(1) || FCnt(2, LE) || FOpts || [FPort(1) || FRMPayload] || MIC(4).
// frmPayload must already be encrypted under NwkSKey (FPort==0) or AppSKey
// (FPort>=1) — see EncryptFRMPayload. The MIC key is always NwkSKey.
func (f *Frame) MarshalUplink(nwkSKey AES128Key) ([]byte, error) {
	if !f.MType.IsUp() {
		return nil, fmt.Errorf("marshal uplink: %v is not an uplink MType", f.MType)
	}
	if len(f.FOpts) > 15 {
		return nil, fmt.Errorf("marshal uplink: FOpts length %d exceeds 15", len(f.FOpts))
	}
	if f.FPort == nil && len(f.FRMPayload) > 0 {
		return nil, fmt.Errorf("marshal uplink: FRMPayload without FPort")
	}

	macPayload := make([]byte, 0, 7+len(f.FOpts)+1+len(f.FRMPayload))
	macPayload = append(macPayload, f.DevAddr[:]...)
	macPayload = append(macPayload, f.fctrlByte(true))
	macPayload = append(macPayload, byte(f.FCnt), byte(f.FCnt>>8))
	macPayload = append(macPayload, f.FOpts...)
	if f.FPort != nil {
		macPayload = append(macPayload, *f.FPort)
		macPayload = append(macPayload, f.FRMPayload...)
	}

	mhdr := byte(f.MType) << 5

	msg := make([]byte, 0, 1+len(macPayload))
	msg = append(msg, mhdr)
	msg = append(msg, macPayload...)

	mic, err := ComputeMIC(nwkSKey, 0, f.DevAddr, f.FCnt, msg)
	if err != nil {
		return nil, fmt.Errorf("compute uplink MIC: %w", err)
	}

	out := make([]byte, 0, len(msg)+4)
	out = append(out, msg...)
	out = append(out, mic[:]...)
	return out, nil
}

// fctrlByte encodes FCtrl per direction: uplink exposes ADR/ADRACKReq/ACK,
// downlink exposes ADR/ACK/FPending.
func (f *Frame) fctrlByte(uplink bool) byte {
	var b byte
	if f.FCtrl.ADR {
		b |= 0x80
	}
	if uplink {
		if f.FCtrl.ADRACKReq {
			b |= 0x40
		}
		if f.FCtrl.ACK {
			b |= 0x20
		}
	} else {
		if f.FCtrl.ACK {
			b |= 0x20
		}
		if f.FCtrl.FPending {
			b |= 0x10
		}
	}
	b |= byte(len(f.FOpts)) & 0x0F
	return b
}

// minDownlinkFrameLen is MHDR(1) + DevAddr(4) + FCtrl(1) + FCnt(2) + MIC(4).
const minDownlinkFrameLen = 12

// ParseDownlink parses raw PHYPayload bytes into a Frame, accepting only
// unconfirmed-down and confirmed-down MTypes and requiring the DevAddr to
// match expectDevAddr. FRMPayload is returned still encrypted: the caller
// knows, from FPort, which session key decrypts it. MIC is returned
// un-verified; ComputeMIC can recompute it for comparison.
func ParseDownlink(data []byte, expectDevAddr DevAddr) (*Frame, [4]byte, error) {
	var mic [4]byte
	if len(data) < minDownlinkFrameLen {
		return nil, mic, fmt.Errorf("parse downlink: frame too short: %d bytes", len(data))
	}

	mtype := MType(data[0] >> 5)
	if !mtype.IsDown() {
		return nil, mic, fmt.Errorf("parse downlink: MType %v is not a downlink type", mtype)
	}

	var devAddr DevAddr
	copy(devAddr[:], data[1:5])
	if devAddr != expectDevAddr {
		return nil, mic, fmt.Errorf("parse downlink: DevAddr %s does not match %s", devAddr, expectDevAddr)
	}

	fctrlByte := data[5]
	foptsLen := int(fctrlByte & 0x0F)
	fcnt := uint16(data[6]) | uint16(data[7])<<8

	foptsStart := 8
	foptsEnd := foptsStart + foptsLen
	if foptsEnd+4 > len(data) {
		return nil, mic, fmt.Errorf("parse downlink: FOpts length %d overruns frame", foptsLen)
	}

	f := &Frame{
		MType:   mtype,
		DevAddr: devAddr,
		FCnt:    uint32(fcnt),
		FCtrl: FCtrl{
			ADR:      fctrlByte&0x80 != 0,
			ACK:      fctrlByte&0x20 != 0,
			FPending: fctrlByte&0x10 != 0,
			FOptsLen: uint8(foptsLen),
		},
	}
	if foptsLen > 0 {
		f.FOpts = append([]byte(nil), data[foptsStart:foptsEnd]...)
	}

	micStart := len(data) - 4
	copy(mic[:], data[micStart:])

	fportIdx := foptsEnd
	if fportIdx < micStart {
		fport := data[fportIdx]
		f.FPort = &fport
		f.FRMPayload = append([]byte(nil), data[fportIdx+1:micStart]...)
	}

	return f, mic, nil
}
