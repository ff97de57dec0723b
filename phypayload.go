package lorawan

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// AES128Key represents a 128 bit AES key.
type AES128Key [16]byte

// String implements fmt.Stringer.
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler.
func (k AES128Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AES128Key) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(k) {
		return ErrInvalidKeyBuffer
	}
	copy(k[:], b)
	return nil
}

// Scan implements sql.Scanner.
func (k *AES128Key) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return errors.New("lorawan: []byte type expected")
	}
	if len(b) != len(k) {
		return fmt.Errorf("lorawan: []byte must have length %d", len(k))
	}
	copy(k[:], b)
	return nil
}

// Value implements driver.Valuer.
func (k AES128Key) Value() (driver.Value, error) {
	return k[:], nil
}

// MIC represents the message integrity code.
type MIC [4]byte

// String implements fmt.Stringer.
func (m MIC) String() string {
	return hex.EncodeToString(m[:])
}

// MarshalText implements encoding.TextMarshaler.
func (m MIC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// PHYPayload represents the physical payload.
type PHYPayload struct {
	MHDR       MHDR    `json:"mhdr"`
	MACPayload Payload `json:"macPayload"`
	MIC        MIC     `json:"mic"`
}

// checkCoherence validates that the payload variant and its direction
// agree with the MHDR.
func (p PHYPayload) checkCoherence() error {
	var ok bool
	switch p.MACPayload.(type) {
	case *JoinRequestPayload:
		ok = p.MHDR.MType == JoinRequest
	case *JoinAcceptPayload:
		ok = p.MHDR.MType == JoinAccept
	case *RejoinRequestType02Payload, *RejoinRequestType1Payload:
		ok = p.MHDR.MType == RejoinRequest
	case *ProprietaryPayload:
		ok = p.MHDR.MType == Proprietary
	case *MACPayload:
		ok = !p.MHDR.MType.IsJoinOrRejoin() && p.MHDR.MType != Proprietary
	default:
		return errors.New("lorawan: MACPayload must not be nil")
	}
	if !ok {
		return ErrMHDRNotCoherentWithPayload
	}
	return nil
}

// EncodeWithDevice serialises the packet using the device context for
// encryption and MIC derivation. The join-accept is MIC-ed first and then
// AES-ECB-decrypted as a whole (the LoRaWAN convention); data frames have
// their FOpts (1.1) and FRMPayload encrypted from the device's session
// keys. The device state is not mutated.
func (p *PHYPayload) EncodeWithDevice(d *Device) ([]byte, error) {
	if err := p.checkCoherence(); err != nil {
		return nil, err
	}

	mhdr, err := p.MHDR.MarshalBinary()
	if err != nil {
		return nil, err
	}

	switch pl := p.MACPayload.(type) {
	case *JoinAcceptPayload:
		return p.encodeJoinAccept(d, mhdr, pl)
	case *MACPayload:
		return p.encodeData(d, mhdr, pl)
	case *ProprietaryPayload:
		body, err := pl.MarshalBinary()
		if err != nil {
			return nil, err
		}
		p.MIC = MIC{}
		out := append(mhdr, body...)
		return append(out, p.MIC[:]...), nil
	default:
		body, err := p.MACPayload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		key, err := p.uplinkJoinKey(d)
		if err != nil {
			return nil, err
		}
		mic, err := ComputeMIC(key, append(append([]byte{}, mhdr...), body...))
		if err != nil {
			return nil, err
		}
		p.MIC = mic
		out := append(mhdr, body...)
		return append(out, mic[:]...), nil
	}
}

// uplinkJoinKey returns the MIC key of an uplink join-flow frame.
func (p PHYPayload) uplinkJoinKey(d *Device) (AES128Key, error) {
	switch pl := p.MACPayload.(type) {
	case *JoinRequestPayload:
		return d.NwkKey, nil
	case *RejoinRequestType1Payload:
		return d.JoinContext.JSIntKey, nil
	case *RejoinRequestType02Payload:
		if d.Session == nil {
			return AES128Key{}, ErrSessionContextMissing
		}
		return d.Session.Network.SNwkSIntKey, nil
	default:
		return AES128Key{}, fmt.Errorf("lorawan: no join mic key for %T", pl)
	}
}

func (p *PHYPayload) encodeJoinAccept(d *Device, mhdr []byte, ja *JoinAcceptPayload) ([]byte, error) {
	body, err := ja.MarshalBinary()
	if err != nil {
		return nil, err
	}

	mic, err := joinAcceptMIC(d, ja, append(append([]byte{}, mhdr...), body...))
	if err != nil {
		return nil, err
	}
	p.MIC = mic

	key := d.NwkKey
	if ja.JoinReqType.IsRejoin() {
		key = d.JoinContext.JSEncKey
	}

	ct, err := DecryptAES128ECB(key, append(body, mic[:]...))
	if err != nil {
		return nil, err
	}
	return append(mhdr, ct...), nil
}

// joinAcceptMIC computes the join-accept MIC over the decrypted MHDR +
// payload bytes, selecting the 1.1 (OptNeg) or 1.0.x block.
func joinAcceptMIC(d *Device, ja *JoinAcceptPayload, mhdrAndBody []byte) (MIC, error) {
	if !ja.DLSettings.OptNeg {
		return ComputeMIC(d.NwkKey, mhdrAndBody)
	}

	b := make([]byte, 0, 11+len(mhdrAndBody))
	b = append(b, byte(ja.JoinReqType))
	eui, err := d.JoinEUI.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	b = append(b, eui...)
	b = append(b, byte(d.DevNonce>>8), byte(d.DevNonce)) // big endian
	b = append(b, mhdrAndBody...)
	return ComputeMIC(d.JoinContext.JSIntKey, b)
}

func (p *PHYPayload) encodeData(d *Device, mhdr []byte, macPL *MACPayload) ([]byte, error) {
	if err := macPL.validate(); err != nil {
		return nil, err
	}
	if d.Session == nil {
		return nil, ErrSessionContextMissing
	}

	uplink := p.MHDR.MType.IsUplink()
	wire := *macPL // shallow copy, the caller's payload stays cleartext

	if len(macPL.FHDR.FOpts) > 0 && d.Version >= LoRaWAN1_1 {
		fOptsCnt := fOptsCounter(d, uplink, macPL.FHDR.FCnt)
		enc, err := EncryptFOpts(d.Session.Network.NwkSEncKey, uplink, macPL.FHDR.DevAddr, fOptsCnt, macPL.FHDR.FOpts)
		if err != nil {
			return nil, err
		}
		wire.FHDR.SetFOpts(enc)
	}

	if len(macPL.FRMPayload) > 0 {
		key := d.Session.Application.AppSKey
		if *macPL.FPort == 0 {
			key = d.Session.Network.NwkSEncKey
		}
		fCnt := dataCounter(d, uplink, macPL.FPort, macPL.FHDR.FCnt)
		enc, err := EncryptFRMPayload(key, uplink, macPL.FHDR.DevAddr, fCnt, macPL.FRMPayload)
		if err != nil {
			return nil, err
		}
		wire.FRMPayload = enc
	}

	body, err := wire.MarshalBinary()
	if err != nil {
		return nil, err
	}

	micBytes := append(append([]byte{}, mhdr...), body...)
	mic, err := dataMIC(d, uplink, &wire, micBytes)
	if err != nil {
		return nil, err
	}
	p.MIC = mic

	return append(micBytes, mic[:]...), nil
}

// reconstructFCnt merges the device's stored 32 bit counter (high half)
// with the 16 bits observed on the wire.
func reconstructFCnt(stored uint32, wire uint16) uint32 {
	return stored&0xffff0000 | uint32(wire)
}

// dataCounter returns the full frame counter of a data frame: FCntUp for
// uplinks, NFCntDwn for network downlinks (FPort absent or zero) and
// AFCntDwn for application downlinks.
func dataCounter(d *Device, uplink bool, fPort *uint8, wire uint16) uint32 {
	switch {
	case uplink:
		return reconstructFCnt(d.Session.Network.FCntUp, wire)
	case fPort != nil && *fPort > 0:
		return reconstructFCnt(d.Session.Application.AFCntDwn, wire)
	default:
		return reconstructFCnt(d.Session.Network.NFCntDwn, wire)
	}
}

// fOptsCounter returns the full frame counter feeding the FOpts
// keystream; FOpts are a network-layer field, so the network counters
// apply in both directions.
func fOptsCounter(d *Device, uplink bool, wire uint16) uint32 {
	if uplink {
		return reconstructFCnt(d.Session.Network.FCntUp, wire)
	}
	return reconstructFCnt(d.Session.Network.NFCntDwn, wire)
}

// dataMIC computes the data-frame MIC over B0 (B1 for 1.1 uplinks)
// followed by the serialised frame.
func dataMIC(d *Device, uplink bool, macPL *MACPayload, micBytes []byte) (MIC, error) {
	var mic MIC

	b0 := make([]byte, 16)
	b0[0] = 0x49
	if !uplink {
		b0[5] = 0x01
	}

	devAddr, err := macPL.FHDR.DevAddr.MarshalBinary()
	if err != nil {
		return mic, err
	}
	copy(b0[6:10], devAddr)
	binary.LittleEndian.PutUint32(b0[10:14], dataCounter(d, uplink, macPL.FPort, macPL.FHDR.FCnt))
	b0[15] = byte(len(micBytes))

	if !uplink {
		// downlink: ConfFCnt is only set for 1.1 acknowledgements
		if d.Version >= LoRaWAN1_1 && macPL.FHDR.FCtrl.ACK {
			binary.LittleEndian.PutUint16(b0[1:3], uint16(d.Session.Network.FCntUp))
		}
		key := d.Session.Network.SNwkSIntKey
		if d.Version < LoRaWAN1_1 {
			key = d.Session.Network.FNwkSIntKey
		}
		return ComputeMIC(key, append(b0, micBytes...))
	}

	if d.Version < LoRaWAN1_1 {
		return ComputeMIC(d.Session.Network.FNwkSIntKey, append(b0, micBytes...))
	}

	// 1.1 uplink: cmacS over B1 (ConfFCnt, TxDR, TxCh set), cmacF over B0
	b1 := make([]byte, 16)
	copy(b1, b0)
	if macPL.FHDR.FCtrl.ACK {
		binary.LittleEndian.PutUint16(b1[1:3], uint16(d.Session.Network.NFCntDwn))
	}

	cmacS, err := ComputeMIC(d.Session.Network.SNwkSIntKey, append(b1, micBytes...))
	if err != nil {
		return mic, err
	}
	cmacF, err := ComputeMIC(d.Session.Network.FNwkSIntKey, append(b0, micBytes...))
	if err != nil {
		return mic, err
	}

	copy(mic[0:2], cmacS[0:2])
	copy(mic[2:4], cmacF[0:2])
	return mic, nil
}

// DecodePHYPayload parses a packet. With a device context the payload is
// decrypted and the MIC verified; without one only the cleartext structure
// is parsed. The uplink flag must match the direction the frame was
// received on; a downlink MType on an uplink path (or vice versa) is
// rejected. The device state is never mutated: counter updates are the
// caller's responsibility, after a successful decode.
func DecodePHYPayload(data []byte, d *Device, uplink bool) (PHYPayload, error) {
	var p PHYPayload

	if len(data) < 12 {
		return p, ErrInvalidBufferLength
	}
	if err := p.MHDR.UnmarshalBinary(data[0:1]); err != nil {
		return p, err
	}
	if p.MHDR.MType != Proprietary && p.MHDR.MType.IsUplink() != uplink {
		return p, ErrMHDRNotCoherentWithContext
	}

	switch p.MHDR.MType {
	case JoinRequest:
		pl := &JoinRequestPayload{}
		if err := pl.UnmarshalBinary(uplink, data[1:len(data)-4]); err != nil {
			return p, err
		}
		p.MACPayload = pl
		copy(p.MIC[:], data[len(data)-4:])
		if d != nil {
			if err := verifyMIC(d.NwkKey, data); err != nil {
				return p, err
			}
		}
		return p, nil

	case JoinAccept:
		return decodeJoinAccept(data, d)

	case RejoinRequest:
		return decodeRejoinRequest(data, d)

	case Proprietary:
		pl := &ProprietaryPayload{}
		if err := pl.UnmarshalBinary(uplink, data[1:len(data)-4]); err != nil {
			return p, err
		}
		p.MACPayload = pl
		copy(p.MIC[:], data[len(data)-4:])
		return p, nil

	default:
		return decodeData(data, d, uplink, p.MHDR)
	}
}

// verifyMIC compares the trailing 4 bytes of data against the CMAC of the
// rest.
func verifyMIC(key AES128Key, data []byte) error {
	mic, err := ComputeMIC(key, data[:len(data)-4])
	if err != nil {
		return err
	}
	var got MIC
	copy(got[:], data[len(data)-4:])
	if mic != got {
		return ErrInvalidMic
	}
	return nil
}

func decodeJoinAccept(data []byte, d *Device) (PHYPayload, error) {
	p := PHYPayload{MHDR: MHDR{MType: JoinAccept, Major: Major(data[0] & 3)}}

	if d == nil {
		// without the key the payload can only be treated as decrypted
		pl := &JoinAcceptPayload{JoinReqType: JoinRequestType}
		if err := pl.UnmarshalBinary(false, data[1:len(data)-4]); err != nil {
			return p, err
		}
		p.MACPayload = pl
		copy(p.MIC[:], data[len(data)-4:])
		return p, nil
	}

	key := d.NwkKey
	if d.LastJoinReqType.IsRejoin() {
		key = d.JoinContext.JSEncKey
	}

	// the accept was built with an ECB decrypt, so an encrypt undoes it
	pt, err := EncryptAES128ECB(key, data[1:])
	if err != nil {
		return p, err
	}

	pl := &JoinAcceptPayload{JoinReqType: d.LastJoinReqType}
	if err := pl.UnmarshalBinary(false, pt[:len(pt)-4]); err != nil {
		return p, err
	}
	p.MACPayload = pl
	copy(p.MIC[:], pt[len(pt)-4:])

	expected, err := joinAcceptMIC(d, pl, append([]byte{data[0]}, pt[:len(pt)-4]...))
	if err != nil {
		return p, err
	}
	if expected != p.MIC {
		return p, ErrInvalidMic
	}
	return p, nil
}

func decodeRejoinRequest(data []byte, d *Device) (PHYPayload, error) {
	p := PHYPayload{MHDR: MHDR{MType: RejoinRequest, Major: Major(data[0] & 3)}}

	body := data[1 : len(data)-4]
	if len(body) < 1 {
		return p, ErrInvalidBufferLength
	}

	switch body[0] {
	case 0, 2:
		pl := &RejoinRequestType02Payload{}
		if err := pl.UnmarshalBinary(true, body); err != nil {
			return p, err
		}
		p.MACPayload = pl
	case 1:
		pl := &RejoinRequestType1Payload{}
		if err := pl.UnmarshalBinary(true, body); err != nil {
			return p, err
		}
		p.MACPayload = pl
	default:
		return p, fmt.Errorf("lorawan: invalid RejoinType %d", body[0])
	}
	copy(p.MIC[:], data[len(data)-4:])

	if d != nil {
		key, err := p.uplinkJoinKey(d)
		if err != nil {
			return p, err
		}
		if err := verifyMIC(key, data); err != nil {
			return p, err
		}
	}
	return p, nil
}

func decodeData(data []byte, d *Device, uplink bool, mhdr MHDR) (PHYPayload, error) {
	p := PHYPayload{MHDR: mhdr}

	pl := &MACPayload{}
	if err := pl.UnmarshalBinary(uplink, data[1:len(data)-4]); err != nil {
		return p, err
	}
	p.MACPayload = pl
	copy(p.MIC[:], data[len(data)-4:])

	if d == nil {
		return p, nil
	}
	if d.Session == nil {
		return p, ErrSessionContextMissing
	}
	if d.Session.Network.DevAddr != pl.FHDR.DevAddr {
		return p, ErrInvalidDevAddr
	}
	if pl.FPort != nil && *pl.FPort == 0 && len(pl.FHDR.FOpts) > 0 && len(pl.FRMPayload) > 0 {
		return p, ErrFPortInvalidValue
	}

	if len(pl.FHDR.FOpts) > 0 && d.Version >= LoRaWAN1_1 {
		fOptsCnt := fOptsCounter(d, uplink, pl.FHDR.FCnt)
		dec, err := EncryptFOpts(d.Session.Network.NwkSEncKey, uplink, pl.FHDR.DevAddr, fOptsCnt, pl.FHDR.FOpts)
		if err != nil {
			return p, err
		}
		pl.FHDR.SetFOpts(dec)
	}

	if len(pl.FRMPayload) > 0 {
		key := d.Session.Application.AppSKey
		if *pl.FPort == 0 {
			key = d.Session.Network.NwkSEncKey
		}
		fCnt := dataCounter(d, uplink, pl.FPort, pl.FHDR.FCnt)
		dec, err := EncryptFRMPayload(key, uplink, pl.FHDR.DevAddr, fCnt, pl.FRMPayload)
		if err != nil {
			return p, err
		}
		pl.FRMPayload = dec
	}

	// the MIC covers the frame as transmitted
	micBytes := make([]byte, len(data)-4)
	copy(micBytes, data[:len(data)-4])

	expected, err := dataMIC(d, uplink, pl, micBytes)
	if err != nil {
		return p, err
	}
	if expected != p.MIC {
		return p, ErrInvalidMic
	}
	return p, nil
}
