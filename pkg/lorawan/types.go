// Package lorawan implements the wire-level primitives of a LoRaWAN
// 1.0.x Class-A device: frame types, the AES-CMAC MIC, and the
// AES-128-ECB FRMPayload keystream. It has no notion of a running
// device, a radio, or a network connection — those live in the
// internal packages that build on top of it. OTAA join types are
// intentionally absent: this module only simulates ABP devices.
package lorawan

import (
	"encoding/hex"
	"fmt"
)

// DevAddr is a 32-bit device address, carried little-endian on the wire.
type DevAddr [4]byte

func (d DevAddr) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X", d[3], d[2], d[1], d[0])
}

// ParseDevAddr parses the big-endian hex form produced by String.
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse devaddr: %w", err)
	}
	if len(b) != 4 {
		return d, fmt.Errorf("parse devaddr: want 4 bytes, got %d", len(b))
	}
	d[0], d[1], d[2], d[3] = b[3], b[2], b[1], b[0]
	return d, nil
}

// AES128Key is a 128-bit AES key (NwkSKey or AppSKey).
type AES128Key [16]byte

func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseAES128Key parses a 32-hex-char key.
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse key: %w", err)
	}
	if len(b) != 16 {
		return k, fmt.Errorf("parse key: want 16 bytes, got %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// MType is the LoRaWAN message type, the top 3 bits of MHDR.
type MType byte

const (
	UnconfirmedDataUp   MType = 0x02
	UnconfirmedDataDown MType = 0x03
	ConfirmedDataUp     MType = 0x04
	ConfirmedDataDown   MType = 0x05
)

// IsUp reports whether the MType is an uplink message type.
func (m MType) IsUp() bool {
	return m == UnconfirmedDataUp || m == ConfirmedDataUp
}

// IsDown reports whether the MType is a downlink message type.
func (m MType) IsDown() bool {
	return m == UnconfirmedDataDown || m == ConfirmedDataDown
}

// IsConfirmed reports whether the frame demands an ACK.
func (m MType) IsConfirmed() bool {
	return m == ConfirmedDataUp || m == ConfirmedDataDown
}

// FCtrl is the frame-control byte, interpreted direction-dependently.
type FCtrl struct {
	ADR       bool
	ADRACKReq bool // uplink only
	ACK       bool
	FPending  bool // downlink only
	FOptsLen  uint8
}

// FHDR is the frame header: DevAddr, FCtrl, FCnt and piggybacked FOpts.
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16 // wire-truncated low 16 bits; the stack carries the full 32-bit counter
	FOpts   []byte
}
