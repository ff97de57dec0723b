package lorawan

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// DevAddr represents the device address. In memory it is kept in the
// logical MSB-first order; the binary (wire) form is byte-reversed.
type DevAddr [4]byte

// String implements fmt.Stringer.
func (a DevAddr) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a DevAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *DevAddr) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(a) {
		return fmt.Errorf("lorawan: exactly %d bytes are expected", len(a))
	}
	copy(a[:], b)
	return nil
}

// MarshalBinary encodes the DevAddr to LSB-first (wire) order.
func (a DevAddr) MarshalBinary() ([]byte, error) {
	out := make([]byte, len(a))
	for i, v := range a {
		// little endian
		out[len(a)-i-1] = v
	}
	return out, nil
}

// UnmarshalBinary decodes the DevAddr from LSB-first (wire) order.
func (a *DevAddr) UnmarshalBinary(data []byte) error {
	if len(data) != len(a) {
		return fmt.Errorf("lorawan: %d bytes of data are expected", len(a))
	}
	for i, v := range data {
		// little endian
		a[len(a)-i-1] = v
	}
	return nil
}

// Value implements driver.Valuer.
func (a DevAddr) Value() (driver.Value, error) {
	return a[:], nil
}

// Scan implements sql.Scanner.
func (a *DevAddr) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return errors.New("lorawan: []byte type expected")
	}
	if len(b) != len(a) {
		return fmt.Errorf("lorawan: []byte must have length %d", len(a))
	}
	copy(a[:], b)
	return nil
}

// FCtrl represents the frame control field. The ADRACKReq and ClassB flags
// are only used on uplink frames, FPending only on downlink frames; the
// shared bit position makes this a single struct with an uplink marker.
type FCtrl struct {
	ADR       bool `json:"adr"`
	ADRACKReq bool `json:"adrAckReq"`
	ACK       bool `json:"ack"`
	ClassB    bool `json:"classB"`   // uplink only
	FPending  bool `json:"fPending"` // downlink only
	fOptsLen  uint8
}

// FOptsLen returns the number of FOpts bytes announced by the frame.
func (c FCtrl) FOptsLen() uint8 {
	return c.fOptsLen
}

// MarshalBinary marshals the object in binary form.
func (c FCtrl) MarshalBinary() ([]byte, error) {
	if c.fOptsLen > 15 {
		return nil, errors.New("lorawan: the max value of FOptsLen is 15")
	}

	var b byte
	if c.ADR {
		b |= 0x80
	}
	if c.ADRACKReq {
		b |= 0x40
	}
	if c.ACK {
		b |= 0x20
	}
	if c.ClassB || c.FPending {
		b |= 0x10
	}
	b |= c.fOptsLen & 0x0f

	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form. The uplink flag
// selects between the uplink and downlink views of bit 4 and 6.
func (c *FCtrl) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}

	c.ADR = data[0]&0x80 != 0
	c.ACK = data[0]&0x20 != 0
	c.fOptsLen = data[0] & 0x0f
	if uplink {
		c.ADRACKReq = data[0]&0x40 != 0
		c.ClassB = data[0]&0x10 != 0
		c.FPending = false
	} else {
		c.ADRACKReq = false
		c.ClassB = false
		c.FPending = data[0]&0x10 != 0
	}
	return nil
}

// FHDR represents the frame header.
type FHDR struct {
	DevAddr DevAddr `json:"devAddr"`
	FCtrl   FCtrl   `json:"fCtrl"`
	FCnt    uint16  `json:"fCnt"`
	FOpts   []byte  `json:"fOpts"` // max. number of allowed bytes is 15
}

// SetFOpts sets the piggy-backed MAC command bytes, clamping to the 15
// byte maximum and keeping FCtrl.FOptsLen coherent.
func (h *FHDR) SetFOpts(fOpts []byte) {
	if len(fOpts) > 15 {
		fOpts = fOpts[:15]
	}
	h.FOpts = make([]byte, len(fOpts))
	copy(h.FOpts, fOpts)
	h.FCtrl.fOptsLen = uint8(len(fOpts))
}

// MarshalBinary marshals the object in binary form. FOpts are emitted as
// they are stored; encryption for 1.1 devices happens at the packet layer.
func (h FHDR) MarshalBinary() ([]byte, error) {
	if len(h.FOpts) > 15 {
		return nil, errors.New("lorawan: max number of FOpts bytes is 15")
	}

	out := make([]byte, 0, 7+len(h.FOpts))

	b, err := h.DevAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	h.FCtrl.fOptsLen = uint8(len(h.FOpts))
	b, err = h.FCtrl.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	fCnt := make([]byte, 2)
	binary.LittleEndian.PutUint16(fCnt, h.FCnt)
	out = append(out, fCnt...)

	return append(out, h.FOpts...), nil
}

// UnmarshalBinary decodes the object from binary form.
func (h *FHDR) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) < 7 || len(data) > 22 {
		return ErrInvalidBufferLength
	}

	if err := h.DevAddr.UnmarshalBinary(data[0:4]); err != nil {
		return err
	}
	if err := h.FCtrl.UnmarshalBinary(uplink, data[4:5]); err != nil {
		return err
	}
	h.FCnt = binary.LittleEndian.Uint16(data[5:7])

	fOptsLen := int(h.FCtrl.fOptsLen)
	if len(data) < 7+fOptsLen {
		return ErrInvalidBufferLength
	}
	h.FOpts = make([]byte, fOptsLen)
	copy(h.FOpts, data[7:7+fOptsLen])

	return nil
}
