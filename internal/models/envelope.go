package models

import "time"

// UplinkEnvelope carries one over-the-air transmission from the stack,
// through the channel simulator, to the gateway adapter. Fields are
// filled in progressively: the stack sets the TX side, the channel
// simulator fills RSSI/SNR/dropped, the gateway adapter reads the
// channel, frequency, SF/BW, coding rate and RSSI/SNR and writes
// ConcentratorTmst.
type UplinkEnvelope struct {
	PHYPayload []byte

	Channel     int
	Freq        uint32 // Hz
	SF          int
	BW          int // kHz
	CodingRate  string
	TXPower     float64
	Distance    float64
	Environment string

	RSSI             float64
	SNR              float64
	Dropped          bool
	ConcentratorTmst uint32
	ReceivedAt       time.Time
}

// DownlinkEnvelope is a decoded PULL_RESP delivered to a device stack.
type DownlinkEnvelope struct {
	PHYPayload []byte
	Freq       uint32
	SF         int
	BW         int
	Power      int
	Tmst       uint32

	RSSI    float64
	SNR     float64
	Dropped bool
}
