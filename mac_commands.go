package lorawan

import (
	"encoding/binary"
	"fmt"
)

// CID defines the MAC command identifier.
type CID byte

// MAC commands as specified by the LoRaWAN 1.0.x / 1.1 specs. Note that
// each *Req / *Ans / *Ind / *Conf pair shares its value; the frame
// direction selects which one applies.
const (
	ResetIndCID            CID = 0x01
	ResetConfCID           CID = 0x01
	LinkCheckReqCID        CID = 0x02
	LinkCheckAnsCID        CID = 0x02
	LinkADRReqCID          CID = 0x03
	LinkADRAnsCID          CID = 0x03
	DutyCycleReqCID        CID = 0x04
	DutyCycleAnsCID        CID = 0x04
	RXParamSetupReqCID     CID = 0x05
	RXParamSetupAnsCID     CID = 0x05
	DevStatusReqCID        CID = 0x06
	DevStatusAnsCID        CID = 0x06
	NewChannelReqCID       CID = 0x07
	NewChannelAnsCID       CID = 0x07
	RXTimingSetupReqCID    CID = 0x08
	RXTimingSetupAnsCID    CID = 0x08
	TXParamSetupReqCID     CID = 0x09
	TXParamSetupAnsCID     CID = 0x09
	DLChannelReqCID        CID = 0x0a
	DLChannelAnsCID        CID = 0x0a
	RekeyIndCID            CID = 0x0b
	RekeyConfCID           CID = 0x0b
	ADRParamSetupReqCID    CID = 0x0c
	ADRParamSetupAnsCID    CID = 0x0c
	DeviceTimeReqCID       CID = 0x0d
	DeviceTimeAnsCID       CID = 0x0d
	ForceRejoinReqCID      CID = 0x0e
	RejoinParamSetupReqCID CID = 0x0f
	RejoinParamSetupAnsCID CID = 0x0f
	PingSlotInfoReqCID     CID = 0x10
	PingSlotInfoAnsCID     CID = 0x10
	PingSlotChannelReqCID  CID = 0x11
	PingSlotChannelAnsCID  CID = 0x11
	BeaconFreqReqCID       CID = 0x13
	BeaconFreqAnsCID       CID = 0x13
	DeviceModeIndCID       CID = 0x20
	DeviceModeConfCID      CID = 0x20
	// 0x80 - 0xff are reserved for proprietary extensions
)

// MACCommandPayload is the interface every MAC command payload implements.
type MACCommandPayload interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
	Size() int
}

// MACCommand represents a single MAC command with its optional payload.
type MACCommand struct {
	CID     CID               `json:"cid"`
	Payload MACCommandPayload `json:"payload"`
}

// MarshalBinary marshals the object in binary form.
func (m MACCommand) MarshalBinary() ([]byte, error) {
	out := []byte{byte(m.CID)}
	if m.Payload != nil {
		b, err := m.Payload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// macPayloadRegistry maps, per direction, each CID with a payload to a
// constructor for it. Commands without a payload are not listed.
var macPayloadRegistry = map[bool]map[CID]func() MACCommandPayload{
	true: { // uplink
		ResetIndCID:            func() MACCommandPayload { return &VersionPayload{} },
		LinkADRAnsCID:          func() MACCommandPayload { return &LinkADRAnsPayload{} },
		RXParamSetupAnsCID:     func() MACCommandPayload { return &RXParamSetupAnsPayload{} },
		DevStatusAnsCID:        func() MACCommandPayload { return &DevStatusAnsPayload{} },
		NewChannelAnsCID:       func() MACCommandPayload { return &NewChannelAnsPayload{} },
		DLChannelAnsCID:        func() MACCommandPayload { return &DLChannelAnsPayload{} },
		RekeyIndCID:            func() MACCommandPayload { return &VersionPayload{} },
		RejoinParamSetupAnsCID: func() MACCommandPayload { return &RejoinParamSetupAnsPayload{} },
		PingSlotInfoReqCID:     func() MACCommandPayload { return &PingSlotInfoReqPayload{} },
		PingSlotChannelAnsCID:  func() MACCommandPayload { return &PingSlotChannelAnsPayload{} },
		BeaconFreqAnsCID:       func() MACCommandPayload { return &BeaconFreqAnsPayload{} },
		DeviceModeIndCID:       func() MACCommandPayload { return &DeviceModePayload{} },
	},
	false: { // downlink
		ResetConfCID:           func() MACCommandPayload { return &VersionPayload{} },
		LinkCheckAnsCID:        func() MACCommandPayload { return &LinkCheckAnsPayload{} },
		LinkADRReqCID:          func() MACCommandPayload { return &LinkADRReqPayload{} },
		DutyCycleReqCID:        func() MACCommandPayload { return &DutyCycleReqPayload{} },
		RXParamSetupReqCID:     func() MACCommandPayload { return &RXParamSetupReqPayload{} },
		NewChannelReqCID:       func() MACCommandPayload { return &NewChannelReqPayload{} },
		RXTimingSetupReqCID:    func() MACCommandPayload { return &RXTimingSetupReqPayload{} },
		TXParamSetupReqCID:     func() MACCommandPayload { return &TXParamSetupReqPayload{} },
		DLChannelReqCID:        func() MACCommandPayload { return &DLChannelReqPayload{} },
		RekeyConfCID:           func() MACCommandPayload { return &VersionPayload{} },
		ADRParamSetupReqCID:    func() MACCommandPayload { return &ADRParamSetupReqPayload{} },
		DeviceTimeAnsCID:       func() MACCommandPayload { return &DeviceTimeAnsPayload{} },
		ForceRejoinReqCID:      func() MACCommandPayload { return &ForceRejoinReqPayload{} },
		RejoinParamSetupReqCID: func() MACCommandPayload { return &RejoinParamSetupReqPayload{} },
		PingSlotChannelReqCID:  func() MACCommandPayload { return &PingSlotChannelReqPayload{} },
		BeaconFreqReqCID:       func() MACCommandPayload { return &BeaconFreqReqPayload{} },
		DeviceModeConfCID:      func() MACCommandPayload { return &DeviceModePayload{} },
	},
}

// DecodeMACCommands parses a contiguous MAC command stream (an FOpts field
// or an FPort 0 FRMPayload, both decrypted).
func DecodeMACCommands(uplink bool, data []byte) ([]MACCommand, error) {
	var out []MACCommand

	for i := 0; i < len(data); {
		cid := CID(data[i])
		i++

		newPayload, ok := macPayloadRegistry[uplink][cid]
		if !ok {
			// payload-less command or an unknown CID; unknown CIDs
			// cannot be skipped since their length is unknown
			if !knownCID(uplink, cid) {
				return nil, fmt.Errorf("%w: unknown cid 0x%02x", ErrMalformedMACCommand, byte(cid))
			}
			out = append(out, MACCommand{CID: cid})
			continue
		}

		pl := newPayload()
		if i+pl.Size() > len(data) {
			return nil, fmt.Errorf("%w: cid 0x%02x expects %d payload bytes", ErrMalformedMACCommand, byte(cid), pl.Size())
		}
		if err := pl.UnmarshalBinary(data[i : i+pl.Size()]); err != nil {
			return nil, err
		}
		i += pl.Size()
		out = append(out, MACCommand{CID: cid, Payload: pl})
	}
	return out, nil
}

// EncodeMACCommands serialises a MAC command stream.
func EncodeMACCommands(commands []MACCommand) ([]byte, error) {
	var out []byte
	for _, cmd := range commands {
		b, err := cmd.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func knownCID(uplink bool, cid CID) bool {
	if uplink {
		switch cid {
		case LinkCheckReqCID, DutyCycleAnsCID, RXTimingSetupAnsCID,
			TXParamSetupAnsCID, ADRParamSetupAnsCID, DeviceTimeReqCID:
			return true
		}
		return false
	}
	switch cid {
	case DevStatusReqCID, PingSlotInfoAnsCID:
		return true
	}
	return false
}

// VersionPayload carries the minor version of ResetInd/Conf and
// RekeyInd/Conf.
type VersionPayload struct {
	Minor uint8 `json:"minor"`
}

// Size implements MACCommandPayload.
func (p VersionPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p VersionPayload) MarshalBinary() ([]byte, error) {
	if p.Minor > 15 {
		return nil, fmt.Errorf("lorawan: max value of Minor is 15")
	}
	return []byte{p.Minor}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *VersionPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.Minor = data[0] & 0x0f
	return nil
}

// LinkCheckAnsPayload reports the demodulation margin and gateway count of
// the last LinkCheckReq.
type LinkCheckAnsPayload struct {
	Margin uint8 `json:"margin"`
	GwCnt  uint8 `json:"gwCnt"`
}

// Size implements MACCommandPayload.
func (p LinkCheckAnsPayload) Size() int { return 2 }

// MarshalBinary implements MACCommandPayload.
func (p LinkCheckAnsPayload) MarshalBinary() ([]byte, error) {
	return []byte{p.Margin, p.GwCnt}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *LinkCheckAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return ErrMalformedMACCommand
	}
	p.Margin = data[0]
	p.GwCnt = data[1]
	return nil
}

// LinkADRReqPayload requests a data-rate / power / channel-mask change.
type LinkADRReqPayload struct {
	DataRate   uint8  `json:"dataRate"`
	TXPower    uint8  `json:"txPower"`
	ChMask     uint16 `json:"chMask"`
	ChMaskCntl uint8  `json:"chMaskCntl"`
	NbTrans    uint8  `json:"nbTrans"`
}

// Size implements MACCommandPayload.
func (p LinkADRReqPayload) Size() int { return 4 }

// MarshalBinary implements MACCommandPayload.
func (p LinkADRReqPayload) MarshalBinary() ([]byte, error) {
	if p.DataRate > 15 || p.TXPower > 15 || p.ChMaskCntl > 7 || p.NbTrans > 15 {
		return nil, fmt.Errorf("lorawan: LinkADRReq field out of range")
	}
	out := make([]byte, 4)
	out[0] = p.DataRate<<4 | p.TXPower
	binary.LittleEndian.PutUint16(out[1:3], p.ChMask)
	out[3] = p.ChMaskCntl<<4 | p.NbTrans
	return out, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *LinkADRReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrMalformedMACCommand
	}
	p.DataRate = data[0] >> 4
	p.TXPower = data[0] & 0x0f
	p.ChMask = binary.LittleEndian.Uint16(data[1:3])
	p.ChMaskCntl = (data[3] >> 4) & 0x07
	p.NbTrans = data[3] & 0x0f
	return nil
}

// LinkADRAnsPayload acknowledges a LinkADRReq; a single cleared flag means
// the whole request was ignored.
type LinkADRAnsPayload struct {
	PowerACK       bool `json:"powerACK"`
	DataRateACK    bool `json:"dataRateACK"`
	ChannelMaskACK bool `json:"channelMaskACK"`
}

// Size implements MACCommandPayload.
func (p LinkADRAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p LinkADRAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.PowerACK {
		b |= 0x04
	}
	if p.DataRateACK {
		b |= 0x02
	}
	if p.ChannelMaskACK {
		b |= 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *LinkADRAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.PowerACK = data[0]&0x04 != 0
	p.DataRateACK = data[0]&0x02 != 0
	p.ChannelMaskACK = data[0]&0x01 != 0
	return nil
}

// DutyCycleReqPayload caps the aggregated transmit duty-cycle.
type DutyCycleReqPayload struct {
	MaxDutyCycle uint8 `json:"maxDutyCycle"`
}

// Size implements MACCommandPayload.
func (p DutyCycleReqPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p DutyCycleReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDutyCycle > 15 {
		return nil, fmt.Errorf("lorawan: max value of MaxDutyCycle is 15")
	}
	return []byte{p.MaxDutyCycle}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *DutyCycleReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.MaxDutyCycle = data[0] & 0x0f
	return nil
}

// marshalFrequency encodes a channel frequency in 100 Hz steps over 3 bytes.
func marshalFrequency(freq uint32) ([]byte, error) {
	if freq/100 >= (1 << 24) {
		return nil, fmt.Errorf("lorawan: frequency %d does not fit in 24 bits", freq)
	}
	if freq%100 != 0 {
		return nil, fmt.Errorf("lorawan: frequency %d is not a multiple of 100", freq)
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, freq/100)
	return b[:3], nil
}

func unmarshalFrequency(data []byte) uint32 {
	b := make([]byte, 4)
	copy(b, data[:3])
	return binary.LittleEndian.Uint32(b) * 100
}

// RXParamSetupReqPayload changes the RX1 data-rate offset, RX2 data-rate
// and RX2 frequency.
type RXParamSetupReqPayload struct {
	RX1DROffset uint8  `json:"rx1DROffset"`
	RX2DataRate uint8  `json:"rx2DataRate"`
	Frequency   uint32 `json:"frequency"` // Hz
}

// Size implements MACCommandPayload.
func (p RXParamSetupReqPayload) Size() int { return 4 }

// MarshalBinary implements MACCommandPayload.
func (p RXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.RX1DROffset > 7 || p.RX2DataRate > 15 {
		return nil, fmt.Errorf("lorawan: RXParamSetupReq field out of range")
	}
	freq, err := marshalFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	return append([]byte{p.RX1DROffset<<4 | p.RX2DataRate}, freq...), nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *RXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrMalformedMACCommand
	}
	p.RX1DROffset = (data[0] >> 4) & 0x07
	p.RX2DataRate = data[0] & 0x0f
	p.Frequency = unmarshalFrequency(data[1:4])
	return nil
}

// RXParamSetupAnsPayload acknowledges a RXParamSetupReq.
type RXParamSetupAnsPayload struct {
	RX1DROffsetACK bool `json:"rx1DROffsetACK"`
	RX2DataRateACK bool `json:"rx2DataRateACK"`
	ChannelACK     bool `json:"channelACK"`
}

// Size implements MACCommandPayload.
func (p RXParamSetupAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p RXParamSetupAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.RX1DROffsetACK {
		b |= 0x04
	}
	if p.RX2DataRateACK {
		b |= 0x02
	}
	if p.ChannelACK {
		b |= 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *RXParamSetupAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.RX1DROffsetACK = data[0]&0x04 != 0
	p.RX2DataRateACK = data[0]&0x02 != 0
	p.ChannelACK = data[0]&0x01 != 0
	return nil
}

// DevStatusAnsPayload reports battery level and demodulation margin.
type DevStatusAnsPayload struct {
	Battery uint8 `json:"battery"` // 0 external power, 1-254 level, 255 unknown
	Margin  int8  `json:"margin"`  // -32 .. 31 dB
}

// Size implements MACCommandPayload.
func (p DevStatusAnsPayload) Size() int { return 2 }

// MarshalBinary implements MACCommandPayload.
func (p DevStatusAnsPayload) MarshalBinary() ([]byte, error) {
	if p.Margin < -32 || p.Margin > 31 {
		return nil, fmt.Errorf("lorawan: Margin must be in [-32, 31]")
	}
	return []byte{p.Battery, byte(p.Margin) & 0x3f}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *DevStatusAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return ErrMalformedMACCommand
	}
	p.Battery = data[0]
	margin := data[1] & 0x3f
	if margin >= 32 {
		p.Margin = int8(margin) - 64
	} else {
		p.Margin = int8(margin)
	}
	return nil
}

// NewChannelReqPayload creates or modifies a channel.
type NewChannelReqPayload struct {
	ChIndex   uint8  `json:"chIndex"`
	Frequency uint32 `json:"frequency"` // Hz
	MaxDR     uint8  `json:"maxDR"`
	MinDR     uint8  `json:"minDR"`
}

// Size implements MACCommandPayload.
func (p NewChannelReqPayload) Size() int { return 5 }

// MarshalBinary implements MACCommandPayload.
func (p NewChannelReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDR > 15 || p.MinDR > 15 {
		return nil, fmt.Errorf("lorawan: NewChannelReq data-rate out of range")
	}
	freq, err := marshalFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	out := append([]byte{p.ChIndex}, freq...)
	return append(out, p.MaxDR<<4|p.MinDR), nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *NewChannelReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 5 {
		return ErrMalformedMACCommand
	}
	p.ChIndex = data[0]
	p.Frequency = unmarshalFrequency(data[1:4])
	p.MaxDR = data[4] >> 4
	p.MinDR = data[4] & 0x0f
	return nil
}

// NewChannelAnsPayload acknowledges a NewChannelReq.
type NewChannelAnsPayload struct {
	DataRateRangeOK    bool `json:"dataRateRangeOK"`
	ChannelFrequencyOK bool `json:"channelFrequencyOK"`
}

// Size implements MACCommandPayload.
func (p NewChannelAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p NewChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.DataRateRangeOK {
		b |= 0x02
	}
	if p.ChannelFrequencyOK {
		b |= 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *NewChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.DataRateRangeOK = data[0]&0x02 != 0
	p.ChannelFrequencyOK = data[0]&0x01 != 0
	return nil
}

// RXTimingSetupReqPayload sets the delay between TX and RX1.
type RXTimingSetupReqPayload struct {
	Delay uint8 `json:"delay"` // 0 and 1 both mean 1s, up to 15s
}

// Size implements MACCommandPayload.
func (p RXTimingSetupReqPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p RXTimingSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.Delay > 15 {
		return nil, fmt.Errorf("lorawan: max value of Delay is 15")
	}
	return []byte{p.Delay}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *RXTimingSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.Delay = data[0] & 0x0f
	return nil
}

// TXParamSetupReqPayload sets dwell-time limits and the max EIRP index.
type TXParamSetupReqPayload struct {
	DownlinkDwellTime bool  `json:"downlinkDwellTime"`
	UplinkDwellTime   bool  `json:"uplinkDwellTime"`
	MaxEIRP           uint8 `json:"maxEIRP"`
}

// Size implements MACCommandPayload.
func (p TXParamSetupReqPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p TXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxEIRP > 15 {
		return nil, fmt.Errorf("lorawan: max value of MaxEIRP is 15")
	}
	b := p.MaxEIRP
	if p.DownlinkDwellTime {
		b |= 0x20
	}
	if p.UplinkDwellTime {
		b |= 0x10
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *TXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.DownlinkDwellTime = data[0]&0x20 != 0
	p.UplinkDwellTime = data[0]&0x10 != 0
	p.MaxEIRP = data[0] & 0x0f
	return nil
}

// DLChannelReqPayload points the downlink of a channel at another
// frequency.
type DLChannelReqPayload struct {
	ChIndex   uint8  `json:"chIndex"`
	Frequency uint32 `json:"frequency"` // Hz
}

// Size implements MACCommandPayload.
func (p DLChannelReqPayload) Size() int { return 4 }

// MarshalBinary implements MACCommandPayload.
func (p DLChannelReqPayload) MarshalBinary() ([]byte, error) {
	freq, err := marshalFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	return append([]byte{p.ChIndex}, freq...), nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *DLChannelReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrMalformedMACCommand
	}
	p.ChIndex = data[0]
	p.Frequency = unmarshalFrequency(data[1:4])
	return nil
}

// DLChannelAnsPayload acknowledges a DLChannelReq.
type DLChannelAnsPayload struct {
	UplinkFrequencyExists bool `json:"uplinkFrequencyExists"`
	ChannelFrequencyOK    bool `json:"channelFrequencyOK"`
}

// Size implements MACCommandPayload.
func (p DLChannelAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p DLChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.UplinkFrequencyExists {
		b |= 0x02
	}
	if p.ChannelFrequencyOK {
		b |= 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *DLChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.UplinkFrequencyExists = data[0]&0x02 != 0
	p.ChannelFrequencyOK = data[0]&0x01 != 0
	return nil
}

// ADRParamSetupReqPayload sets the ADR_ACK_LIMIT and ADR_ACK_DELAY
// exponents.
type ADRParamSetupReqPayload struct {
	LimitExp uint8 `json:"limitExp"`
	DelayExp uint8 `json:"delayExp"`
}

// Size implements MACCommandPayload.
func (p ADRParamSetupReqPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p ADRParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.LimitExp > 15 || p.DelayExp > 15 {
		return nil, fmt.Errorf("lorawan: ADRParamSetupReq exponent out of range")
	}
	return []byte{p.LimitExp<<4 | p.DelayExp}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *ADRParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.LimitExp = data[0] >> 4
	p.DelayExp = data[0] & 0x0f
	return nil
}

// DeviceTimeAnsPayload carries the network time at the end of the uplink
// that requested it.
type DeviceTimeAnsPayload struct {
	Epoch          uint32 `json:"epoch"`          // seconds since the GPS epoch
	SecondFraction uint8  `json:"secondFraction"` // steps of 1/256 s
}

// Size implements MACCommandPayload.
func (p DeviceTimeAnsPayload) Size() int { return 5 }

// MarshalBinary implements MACCommandPayload.
func (p DeviceTimeAnsPayload) MarshalBinary() ([]byte, error) {
	out := make([]byte, 5)
	binary.LittleEndian.PutUint32(out[0:4], p.Epoch)
	out[4] = p.SecondFraction
	return out, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *DeviceTimeAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 5 {
		return ErrMalformedMACCommand
	}
	p.Epoch = binary.LittleEndian.Uint32(data[0:4])
	p.SecondFraction = data[4]
	return nil
}

// ForceRejoinReqPayload asks the device to immediately start a rejoin.
type ForceRejoinReqPayload struct {
	Period     uint8 `json:"period"`
	MaxRetries uint8 `json:"maxRetries"`
	RejoinType uint8 `json:"rejoinType"`
	DR         uint8 `json:"dr"`
}

// Size implements MACCommandPayload.
func (p ForceRejoinReqPayload) Size() int { return 2 }

// MarshalBinary implements MACCommandPayload.
func (p ForceRejoinReqPayload) MarshalBinary() ([]byte, error) {
	if p.Period > 7 || p.MaxRetries > 7 || p.RejoinType > 7 || p.DR > 15 {
		return nil, fmt.Errorf("lorawan: ForceRejoinReq field out of range")
	}
	return []byte{p.Period<<3 | p.MaxRetries, p.RejoinType<<4 | p.DR}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *ForceRejoinReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return ErrMalformedMACCommand
	}
	p.Period = (data[0] >> 3) & 0x07
	p.MaxRetries = data[0] & 0x07
	p.RejoinType = (data[1] >> 4) & 0x07
	p.DR = data[1] & 0x0f
	return nil
}

// RejoinParamSetupReqPayload sets the periodic rejoin limits.
type RejoinParamSetupReqPayload struct {
	MaxTimeN  uint8 `json:"maxTimeN"`
	MaxCountN uint8 `json:"maxCountN"`
}

// Size implements MACCommandPayload.
func (p RejoinParamSetupReqPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p RejoinParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxTimeN > 15 || p.MaxCountN > 15 {
		return nil, fmt.Errorf("lorawan: RejoinParamSetupReq field out of range")
	}
	return []byte{p.MaxTimeN<<4 | p.MaxCountN}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *RejoinParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.MaxTimeN = data[0] >> 4
	p.MaxCountN = data[0] & 0x0f
	return nil
}

// RejoinParamSetupAnsPayload acknowledges a RejoinParamSetupReq.
type RejoinParamSetupAnsPayload struct {
	TimeACK bool `json:"timeACK"`
}

// Size implements MACCommandPayload.
func (p RejoinParamSetupAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p RejoinParamSetupAnsPayload) MarshalBinary() ([]byte, error) {
	if p.TimeACK {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *RejoinParamSetupAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.TimeACK = data[0]&0x01 != 0
	return nil
}

// PingSlotInfoReqPayload announces the device's class B ping periodicity.
type PingSlotInfoReqPayload struct {
	Periodicity uint8 `json:"periodicity"`
}

// Size implements MACCommandPayload.
func (p PingSlotInfoReqPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p PingSlotInfoReqPayload) MarshalBinary() ([]byte, error) {
	if p.Periodicity > 7 {
		return nil, fmt.Errorf("lorawan: max value of Periodicity is 7")
	}
	return []byte{p.Periodicity}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *PingSlotInfoReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.Periodicity = data[0] & 0x07
	return nil
}

// PingSlotChannelReqPayload moves the class B ping-slot channel.
type PingSlotChannelReqPayload struct {
	Frequency uint32 `json:"frequency"` // Hz
	DR        uint8  `json:"dr"`
}

// Size implements MACCommandPayload.
func (p PingSlotChannelReqPayload) Size() int { return 4 }

// MarshalBinary implements MACCommandPayload.
func (p PingSlotChannelReqPayload) MarshalBinary() ([]byte, error) {
	if p.DR > 15 {
		return nil, fmt.Errorf("lorawan: max value of DR is 15")
	}
	freq, err := marshalFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	return append(freq, p.DR), nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *PingSlotChannelReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrMalformedMACCommand
	}
	p.Frequency = unmarshalFrequency(data[0:3])
	p.DR = data[3] & 0x0f
	return nil
}

// PingSlotChannelAnsPayload acknowledges a PingSlotChannelReq.
type PingSlotChannelAnsPayload struct {
	DataRateOK         bool `json:"dataRateOK"`
	ChannelFrequencyOK bool `json:"channelFrequencyOK"`
}

// Size implements MACCommandPayload.
func (p PingSlotChannelAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p PingSlotChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.DataRateOK {
		b |= 0x02
	}
	if p.ChannelFrequencyOK {
		b |= 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *PingSlotChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.DataRateOK = data[0]&0x02 != 0
	p.ChannelFrequencyOK = data[0]&0x01 != 0
	return nil
}

// BeaconFreqReqPayload moves the class B beacon channel.
type BeaconFreqReqPayload struct {
	Frequency uint32 `json:"frequency"` // Hz
}

// Size implements MACCommandPayload.
func (p BeaconFreqReqPayload) Size() int { return 3 }

// MarshalBinary implements MACCommandPayload.
func (p BeaconFreqReqPayload) MarshalBinary() ([]byte, error) {
	return marshalFrequency(p.Frequency)
}

// UnmarshalBinary implements MACCommandPayload.
func (p *BeaconFreqReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 3 {
		return ErrMalformedMACCommand
	}
	p.Frequency = unmarshalFrequency(data)
	return nil
}

// BeaconFreqAnsPayload acknowledges a BeaconFreqReq.
type BeaconFreqAnsPayload struct {
	BeaconFrequencyOK bool `json:"beaconFrequencyOK"`
}

// Size implements MACCommandPayload.
func (p BeaconFreqAnsPayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p BeaconFreqAnsPayload) MarshalBinary() ([]byte, error) {
	if p.BeaconFrequencyOK {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

// UnmarshalBinary implements MACCommandPayload.
func (p *BeaconFreqAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	p.BeaconFrequencyOK = data[0]&0x01 != 0
	return nil
}

// DeviceModePayload carries the class of DeviceModeInd/Conf.
type DeviceModePayload struct {
	Class DeviceClass `json:"class"`
}

// Size implements MACCommandPayload.
func (p DeviceModePayload) Size() int { return 1 }

// MarshalBinary implements MACCommandPayload.
func (p DeviceModePayload) MarshalBinary() ([]byte, error) {
	switch p.Class {
	case ClassA:
		return []byte{0x00}, nil
	case ClassC:
		return []byte{0x02}, nil
	default:
		return nil, fmt.Errorf("lorawan: DeviceMode does not apply to class B")
	}
}

// UnmarshalBinary implements MACCommandPayload.
func (p *DeviceModePayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrMalformedMACCommand
	}
	switch data[0] {
	case 0x00:
		p.Class = ClassA
	case 0x02:
		p.Class = ClassC
	default:
		return fmt.Errorf("%w: invalid device mode 0x%02x", ErrMalformedMACCommand, data[0])
	}
	return nil
}
