package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"errors"
)

// MACPayload represents the MAC payload of a data frame. FRMPayload holds
// the payload bytes as they travel on the wire: encryption and decryption
// happen at the PHYPayload layer, where the device context lives.
type MACPayload struct {
	FHDR       FHDR   `json:"fhdr"`
	FPort      *uint8 `json:"fPort"`
	FRMPayload []byte `json:"frmPayload"`
}

// validate enforces the FPort / FRMPayload / FOpts coherence rules for
// frame construction.
func (p MACPayload) validate() error {
	if p.FPort != nil && *p.FPort == 0 && len(p.FHDR.FOpts) != 0 {
		// mac-commands are either piggy-backed or in the body, not both
		return ErrFPortInvalidValue
	}
	if p.FPort == nil && len(p.FRMPayload) != 0 {
		return ErrFPortInvalidValue
	}
	if p.FPort != nil && len(p.FRMPayload) == 0 {
		return ErrFPortInvalidValue
	}
	return nil
}

// IsApplication reports whether the frame carries application data
// (FPort present and non-zero).
func (p MACPayload) IsApplication() bool {
	return p.FPort != nil && *p.FPort != 0
}

// MarshalBinary marshals the object in binary form.
func (p MACPayload) MarshalBinary() ([]byte, error) {
	out, err := p.FHDR.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if p.FPort != nil {
		out = append(out, *p.FPort)
		out = append(out, p.FRMPayload...)
	} else if len(p.FRMPayload) != 0 {
		return nil, ErrFPortInvalidValue
	}
	return out, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *MACPayload) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) < 7 {
		return ErrInvalidBufferLength
	}

	fOptsLen := int(data[4] & 0x0f)
	fhdrLen := 7 + fOptsLen
	if len(data) < fhdrLen {
		return ErrInvalidBufferLength
	}

	if err := p.FHDR.UnmarshalBinary(uplink, data[0:fhdrLen]); err != nil {
		return err
	}

	p.FPort = nil
	p.FRMPayload = nil
	if len(data) > fhdrLen {
		fPort := data[fhdrLen]
		p.FPort = &fPort
		if len(data) > fhdrLen+1 {
			p.FRMPayload = make([]byte, len(data)-fhdrLen-1)
			copy(p.FRMPayload, data[fhdrLen+1:])
		}
	}
	return nil
}

// EncryptFRMPayload encrypts (or, being an XOR stream, decrypts) a
// FRMPayload with the given key and full 32 bit frame counter. The
// ciphertext is truncated to the plaintext length.
func EncryptFRMPayload(key AES128Key, uplink bool, devAddr DevAddr, fCnt uint32, data []byte) ([]byte, error) {
	pLen := len(data)
	buf := PadTo16(append([]byte{}, data...))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	a := make([]byte, 16)
	a[0] = 0x01
	if !uplink {
		a[5] = 0x01
	}

	b, err := devAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(a[6:10], b)
	binary.LittleEndian.PutUint32(a[10:14], fCnt)

	s := make([]byte, 16)
	for i := 0; i < len(buf)/16; i++ {
		a[15] = byte(i + 1)
		block.Encrypt(s, a)
		for j := range s {
			buf[i*16+j] ^= s[j]
		}
	}
	return buf[0:pLen], nil
}

// EncryptFOpts encrypts (or decrypts) the FOpts bytes of a 1.1 frame with
// the NwkSEncKey keystream. The S block is the FRMPayload one with block
// index 0.
func EncryptFOpts(nwkSEncKey AES128Key, uplink bool, devAddr DevAddr, fCnt uint32, data []byte) ([]byte, error) {
	if len(data) > 15 {
		return nil, errors.New("lorawan: max size of FOpts is 15 bytes")
	}

	block, err := aes.NewCipher(nwkSEncKey[:])
	if err != nil {
		return nil, err
	}

	a := make([]byte, 16)
	a[0] = 0x01
	if !uplink {
		a[5] = 0x01
	}

	b, err := devAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(a[6:10], b)
	binary.LittleEndian.PutUint32(a[10:14], fCnt)

	s := make([]byte, 16)
	block.Encrypt(s, a)

	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ s[i]
	}
	return out, nil
}
