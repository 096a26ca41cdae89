// Package maccmd decodes and encodes the LoRaWAN MAC command stream
// carried in FOpts or on FPort 0, per the fixed-length CID table. Each
// command decodes to its own tagged struct rather than a generic
// key-value payload, and dispatch is by Go type switch instead of
// string keys (following the team's preference for tagged variants
// over the original's dynamic "decoded" maps).
package maccmd

import (
	"encoding/binary"
	"fmt"
)

// CID identifies a MAC command.
type CID byte

const (
	CIDLinkCheck     CID = 0x02
	CIDLinkADR       CID = 0x03
	CIDDutyCycle     CID = 0x04
	CIDRXParamSetup  CID = 0x05
	CIDDevStatus     CID = 0x06
	CIDNewChannel    CID = 0x07
	CIDRXTimingSetup CID = 0x08
)

// reqLen is the fixed wire length of each request CID's payload.
var reqLen = map[CID]int{
	CIDLinkCheck:     0,
	CIDLinkADR:       4,
	CIDDutyCycle:     1,
	CIDRXParamSetup:  4,
	CIDDevStatus:     0,
	CIDNewChannel:    5,
	CIDRXTimingSetup: 1,
}

// Command is implemented by every decoded request variant.
type Command interface {
	CID() CID
}

type LinkCheckReq struct{}

func (LinkCheckReq) CID() CID { return CIDLinkCheck }

// LinkADRReq is CID 0x03: DataRate_TXPower hi4/lo4, ChMask (2B LE),
// Redundancy lo4 = NbTrans.
type LinkADRReq struct {
	DataRate int
	TXPower  int
	ChMask   uint16
	NbTrans  int
}

func (LinkADRReq) CID() CID { return CIDLinkADR }

type DutyCycleReq struct {
	MaxDutyCycle float64 // 1 / 2^v
}

func (DutyCycleReq) CID() CID { return CIDDutyCycle }

// RXParamSetupReq is CID 0x05: DLSettings byte (bits6-4 RX1DROffset,
// bits3-0 RX2DR), Frequency 3B LE x100 Hz.
type RXParamSetupReq struct {
	RX1DROffset int
	RX2DataRate int
	Frequency   uint32
}

func (RXParamSetupReq) CID() CID { return CIDRXParamSetup }

type DevStatusReq struct{}

func (DevStatusReq) CID() CID { return CIDDevStatus }

// NewChannelReq is CID 0x07: ChIndex, Freq 3B LE x100Hz, DrRange byte
// (lo4 DRmin, hi4 DRmax).
type NewChannelReq struct {
	ChIndex   int
	Frequency uint32
	DRMin     int
	DRMax     int
}

func (NewChannelReq) CID() CID { return CIDNewChannel }

type RXTimingSetupReq struct {
	RX1Delay int // seconds
}

func (RXTimingSetupReq) CID() CID { return CIDRXTimingSetup }

// Decode parses a FOpts/FPort-0 byte stream into a sequence of
// Commands. An unknown CID or a truncated payload stops parsing and
// returns an error along with whatever commands decoded successfully
// before it, matching spec's "log and stop" rule.
func Decode(data []byte) ([]Command, error) {
	var out []Command
	i := 0
	for i < len(data) {
		cid := CID(data[i])
		n, known := reqLen[cid]
		if !known {
			return out, fmt.Errorf("maccmd: unknown CID 0x%02X at offset %d", byte(cid), i)
		}
		i++
		if i+n > len(data) {
			return out, fmt.Errorf("maccmd: truncated payload for CID 0x%02X", byte(cid))
		}
		payload := data[i : i+n]
		i += n

		cmd, err := decodeOne(cid, payload)
		if err != nil {
			return out, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

func decodeOne(cid CID, p []byte) (Command, error) {
	switch cid {
	case CIDLinkCheck:
		return LinkCheckReq{}, nil
	case CIDLinkADR:
		return LinkADRReq{
			DataRate: int(p[0] >> 4),
			TXPower:  int(p[0] & 0x0F),
			ChMask:   binary.LittleEndian.Uint16(p[1:3]),
			NbTrans:  int(p[3] & 0x0F),
		}, nil
	case CIDDutyCycle:
		v := p[0] & 0x0F
		return DutyCycleReq{MaxDutyCycle: 1 / float64(uint32(1)<<v)}, nil
	case CIDRXParamSetup:
		dlSettings := p[0]
		freq := uint32(p[1]) | uint32(p[2])<<8 | uint32(p[3])<<16
		return RXParamSetupReq{
			RX1DROffset: int((dlSettings >> 4) & 0x07),
			RX2DataRate: int(dlSettings & 0x0F),
			Frequency:   freq * 100,
		}, nil
	case CIDDevStatus:
		return DevStatusReq{}, nil
	case CIDNewChannel:
		freq := uint32(p[1]) | uint32(p[2])<<8 | uint32(p[3])<<16
		return NewChannelReq{
			ChIndex:   int(p[0]),
			Frequency: freq * 100,
			DRMin:     int(p[4] & 0x0F),
			DRMax:     int(p[4] >> 4),
		}, nil
	case CIDRXTimingSetup:
		return RXTimingSetupReq{RX1Delay: int(p[0] & 0x0F)}, nil
	default:
		return nil, fmt.Errorf("maccmd: unhandled CID 0x%02X", byte(cid))
	}
}

// clampMargin clamps a dB margin into the signed 6-bit range the
// DevStatusAns byte carries it in.
func clampMargin(db float64) int8 {
	m := int(db)
	if m < -32 {
		m = -32
	}
	if m > 31 {
		m = 31
	}
	return int8(m)
}

// encodeMargin wire-encodes a clamped signed margin as an unsigned
// byte: negative values use the two's-complement-in-6-bits convention
// (64+margin), matching how a real network server decodes this field.
func encodeMargin(margin int8) byte {
	if margin < 0 {
		return byte(64 + int(margin))
	}
	return byte(margin)
}

// BatteryStatus is supplied by the application hook get_battery_status:
// 0 external power, 1-254 maps to 1-100%, 255 unknown.
type BatteryStatus = uint8

// EncodeLinkCheckAns encodes CID||margin||gwCnt. The wire format for
// this response is not otherwise constrained by the decoding table;
// marginDB is the SNR (dB) the caller supplies (the stack passes the
// SNR of the most recently received downlink) and gwCnt the number of
// gateways (the stack always passes 1, since the simulator has exactly
// one gateway).
func EncodeLinkCheckAns(marginDB float64, gwCount uint8) []byte {
	return []byte{byte(CIDLinkCheck), encodeMargin(clampMargin(marginDB)), gwCount}
}

// EncodeLinkADRAns encodes CID||status for a LinkADRReq response. The
// implementation always reports all three ACK bits set.
func EncodeLinkADRAns() []byte {
	return []byte{byte(CIDLinkADR), 0b111}
}

// EncodeDutyCycleAns encodes the (empty) DutyCycleAns payload.
func EncodeDutyCycleAns() []byte {
	return []byte{byte(CIDDutyCycle)}
}

// EncodeRXParamSetupAns encodes CID||status, always reporting all
// three ACK bits set.
func EncodeRXParamSetupAns() []byte {
	return []byte{byte(CIDRXParamSetup), 0b111}
}

// EncodeDevStatusAns encodes CID||battery||margin, clamping margin (dB)
// into its signed 6-bit wire representation.
func EncodeDevStatusAns(battery BatteryStatus, snrMarginDB float64) []byte {
	return []byte{byte(CIDDevStatus), battery, encodeMargin(clampMargin(snrMarginDB))}
}

// EncodeNewChannelAns encodes CID||status, always reporting status
// 0b111.
func EncodeNewChannelAns() []byte {
	return []byte{byte(CIDNewChannel), 0b111}
}

// EncodeRXTimingSetupAns encodes the (empty) RXTimingSetupAns payload.
func EncodeRXTimingSetupAns() []byte {
	return []byte{byte(CIDRXTimingSetup)}
}
