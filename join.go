package lorawan

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DevNonce represents the 16 bit device nonce carried by join-requests.
// It is little-endian on the wire.
type DevNonce uint16

// MarshalBinary encodes the nonce in little-endian form.
func (n DevNonce) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b, nil
}

// UnmarshalBinary decodes the nonce from little-endian form.
func (n *DevNonce) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return errors.New("lorawan: 2 bytes of data are expected")
	}
	*n = DevNonce(binary.LittleEndian.Uint16(data))
	return nil
}

// JoinNonce represents the 24 bit join-server nonce carried by
// join-accepts. It is little-endian on the wire.
type JoinNonce uint32

// MarshalBinary encodes the nonce in 3 byte little-endian form.
func (n JoinNonce) MarshalBinary() ([]byte, error) {
	if n >= (1 << 24) {
		return nil, errors.New("lorawan: max value of JoinNonce is 2^24 - 1")
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b[:3], nil
}

// UnmarshalBinary decodes the nonce from 3 byte little-endian form.
func (n *JoinNonce) UnmarshalBinary(data []byte) error {
	if len(data) != 3 {
		return errors.New("lorawan: 3 bytes of data are expected")
	}
	b := make([]byte, 4)
	copy(b, data)
	*n = JoinNonce(binary.LittleEndian.Uint32(b))
	return nil
}

// JoinType defines the join-request type.
type JoinType byte

// Join-request types. The byte values appear in the 1.1 join-accept MIC
// block and on the wire for rejoin-requests.
const (
	RejoinRequestType0 JoinType = 0x00
	RejoinRequestType1 JoinType = 0x01
	RejoinRequestType2 JoinType = 0x02
	JoinRequestType    JoinType = 0xff
)

// IsRejoin reports whether the type is one of the rejoin variants.
func (t JoinType) IsRejoin() bool {
	return t == RejoinRequestType0 || t == RejoinRequestType1 || t == RejoinRequestType2
}

// JoinRequestPayload represents the join-request message payload.
type JoinRequestPayload struct {
	JoinEUI  EUI64    `json:"joinEUI"`
	DevEUI   EUI64    `json:"devEUI"`
	DevNonce DevNonce `json:"devNonce"`
}

// MarshalBinary marshals the object in binary form.
func (p JoinRequestPayload) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 18)

	b, err := p.JoinEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DevEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DevNonce.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(out, b...), nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *JoinRequestPayload) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) != 18 {
		return errors.New("lorawan: 18 bytes of data are expected")
	}
	if err := p.JoinEUI.UnmarshalBinary(data[0:8]); err != nil {
		return err
	}
	if err := p.DevEUI.UnmarshalBinary(data[8:16]); err != nil {
		return err
	}
	return p.DevNonce.UnmarshalBinary(data[16:18])
}

// DLSettings represents the join-accept DLSettings field.
type DLSettings struct {
	OptNeg      bool  `json:"optNeg"`
	RX1DROffset uint8 `json:"rx1DROffset"`
	RX2DataRate uint8 `json:"rx2DataRate"`
}

// MarshalBinary marshals the object in binary form.
func (s DLSettings) MarshalBinary() ([]byte, error) {
	if s.RX1DROffset > 7 {
		return nil, errors.New("lorawan: max value of RX1DROffset is 7")
	}
	if s.RX2DataRate > 15 {
		return nil, errors.New("lorawan: max value of RX2DataRate is 15")
	}
	b := s.RX2DataRate | (s.RX1DROffset << 4)
	if s.OptNeg {
		b |= 0x80
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (s *DLSettings) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	s.OptNeg = data[0]&0x80 != 0
	s.RX1DROffset = (data[0] & 0x70) >> 4
	s.RX2DataRate = data[0] & 0x0f
	return nil
}

// JoinAcceptPayload represents the join-accept message payload in its
// decrypted form. JoinReqType records which request this accept answers;
// it is not on the wire but participates in the 1.1 MIC and selects the
// encryption key.
type JoinAcceptPayload struct {
	JoinReqType JoinType   `json:"joinReqType"`
	JoinNonce   JoinNonce  `json:"joinNonce"`
	HomeNetID   NetID      `json:"homeNetID"`
	DevAddr     DevAddr    `json:"devAddr"`
	DLSettings  DLSettings `json:"dlSettings"`
	RXDelay     uint8      `json:"rxDelay"` // 0 - 15
	CFList      *[16]byte  `json:"cfList"`
}

// MarshalBinary marshals the object in binary form.
func (p JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	if p.RXDelay > 15 {
		return nil, errors.New("lorawan: the max value of RXDelay is 15")
	}

	out := make([]byte, 0, 28)

	b, err := p.JoinNonce.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.HomeNetID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DevAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DLSettings.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)
	out = append(out, p.RXDelay)

	if p.CFList != nil {
		out = append(out, p.CFList[:]...)
	}
	return out, nil
}

// UnmarshalBinary decodes the object from its decrypted binary form.
func (p *JoinAcceptPayload) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) != 12 && len(data) != 28 {
		return errors.New("lorawan: 12 or 28 bytes of data are expected")
	}

	if err := p.JoinNonce.UnmarshalBinary(data[0:3]); err != nil {
		return err
	}
	if err := p.HomeNetID.UnmarshalBinary(data[3:6]); err != nil {
		return err
	}
	if err := p.DevAddr.UnmarshalBinary(data[6:10]); err != nil {
		return err
	}
	if err := p.DLSettings.UnmarshalBinary(data[10:11]); err != nil {
		return err
	}
	p.RXDelay = data[11]

	if len(data) == 28 {
		p.CFList = new([16]byte)
		copy(p.CFList[:], data[12:28])
	}
	return nil
}

// RejoinRequestType02Payload represents the rejoin-request payload of type
// 0 and 2.
type RejoinRequestType02Payload struct {
	RejoinType JoinType `json:"rejoinType"`
	NetID      NetID    `json:"netID"`
	DevEUI     EUI64    `json:"devEUI"`
	RJCount0   uint16   `json:"rjCount0"`
}

// MarshalBinary marshals the object in binary form.
func (p RejoinRequestType02Payload) MarshalBinary() ([]byte, error) {
	if p.RejoinType != RejoinRequestType0 && p.RejoinType != RejoinRequestType2 {
		return nil, errors.New("lorawan: RejoinType must be 0 or 2")
	}

	out := []byte{byte(p.RejoinType)}

	b, err := p.NetID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DevEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	rjCount := make([]byte, 2)
	binary.LittleEndian.PutUint16(rjCount, p.RJCount0)
	return append(out, rjCount...), nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RejoinRequestType02Payload) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) != 14 {
		return errors.New("lorawan: 14 bytes of data are expected")
	}
	if data[0] != 0 && data[0] != 2 {
		return fmt.Errorf("lorawan: invalid RejoinType %d", data[0])
	}

	p.RejoinType = JoinType(data[0])
	if err := p.NetID.UnmarshalBinary(data[1:4]); err != nil {
		return err
	}
	if err := p.DevEUI.UnmarshalBinary(data[4:12]); err != nil {
		return err
	}
	p.RJCount0 = binary.LittleEndian.Uint16(data[12:14])
	return nil
}

// RejoinRequestType1Payload represents the rejoin-request payload of type 1.
type RejoinRequestType1Payload struct {
	RejoinType JoinType `json:"rejoinType"`
	JoinEUI    EUI64    `json:"joinEUI"`
	DevEUI     EUI64    `json:"devEUI"`
	RJCount1   uint16   `json:"rjCount1"`
}

// MarshalBinary marshals the object in binary form.
func (p RejoinRequestType1Payload) MarshalBinary() ([]byte, error) {
	if p.RejoinType != RejoinRequestType1 {
		return nil, errors.New("lorawan: RejoinType must be 1")
	}

	out := []byte{byte(p.RejoinType)}

	b, err := p.JoinEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DevEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	rjCount := make([]byte, 2)
	binary.LittleEndian.PutUint16(rjCount, p.RJCount1)
	return append(out, rjCount...), nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RejoinRequestType1Payload) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) != 19 {
		return errors.New("lorawan: 19 bytes of data are expected")
	}
	if data[0] != 1 {
		return fmt.Errorf("lorawan: invalid RejoinType %d", data[0])
	}

	p.RejoinType = JoinType(data[0])
	if err := p.JoinEUI.UnmarshalBinary(data[1:9]); err != nil {
		return err
	}
	if err := p.DevEUI.UnmarshalBinary(data[9:17]); err != nil {
		return err
	}
	p.RJCount1 = binary.LittleEndian.Uint16(data[17:19])
	return nil
}
