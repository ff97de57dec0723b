// Package ledger defines the contract between the network controller and
// the distributed ledger that owns device configurations, sessions and
// uplink records. Any ledger can back it; redisledger provides the
// reference implementation and ledgertest an in-memory one.
package ledger

import (
	"context"
	"crypto/aes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/pkg/errors"

	lorawan "github.com/DeLoRaN-Org/lorawan-backend"
)

// ErrorKind classifies ledger failures.
type ErrorKind string

// Ledger failure kinds.
const (
	KindNotFound    ErrorKind = "NotFound"
	KindConflict    ErrorKind = "Conflict"
	KindEncoding    ErrorKind = "Encoding"
	KindUnavailable ErrorKind = "Unavailable"
)

// Error is the uniform error of every ledger operation.
type Error struct {
	Kind   ErrorKind
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Kind, e.Reason)
}

// NewError builds a ledger error.
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// IsNotFound reports whether err is a ledger not-found error.
func IsNotFound(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr) && lerr.Kind == KindNotFound
}

// DeviceConfig is the static device record kept on the ledger.
type DeviceConfig struct {
	Class      lorawan.DeviceClass    `json:"class"`
	Version    lorawan.MACVersion     `json:"version"`
	Activation lorawan.ActivationMode `json:"activation"`

	DevEUI  lorawan.EUI64     `json:"devEUI"`
	JoinEUI lorawan.EUI64     `json:"joinEUI"`
	NwkKey  lorawan.AES128Key `json:"nwkKey"`
	AppKey  lorawan.AES128Key `json:"appKey"`

	DevNonce  uint32 `json:"devNonce"`
	JoinNonce uint32 `json:"joinNonce"`
	RJCount1  uint16 `json:"rjCount1"`

	LastJoinReqType lorawan.JoinType `json:"lastJoinReqType"`

	DevAddr *lorawan.DevAddr `json:"devAddr"`
	Owner   string           `json:"owner"`
}

// Device materializes the record into a device ready for codec
// operations.
func (c DeviceConfig) Device() (*lorawan.Device, error) {
	d, err := lorawan.NewDevice(c.Class, c.DevEUI, c.JoinEUI, c.NwkKey, c.AppKey, c.Version)
	if err != nil {
		return nil, err
	}
	d.DevNonce = c.DevNonce
	d.JoinContext.JoinNonce = c.JoinNonce
	d.JoinContext.RJCount1 = c.RJCount1
	d.LastJoinReqType = c.LastJoinReqType
	return d, nil
}

// ConfigFromDevice builds the ledger record of a device.
func ConfigFromDevice(d *lorawan.Device, owner string) DeviceConfig {
	cfg := DeviceConfig{
		Class:           d.Class,
		Version:         d.Version,
		Activation:      d.Activation,
		DevEUI:          d.DevEUI,
		JoinEUI:         d.JoinEUI,
		NwkKey:          d.NwkKey,
		AppKey:          d.AppKey,
		DevNonce:        d.DevNonce,
		JoinNonce:       d.JoinContext.JoinNonce,
		RJCount1:        d.JoinContext.RJCount1,
		LastJoinReqType: d.LastJoinReqType,
		Owner:           owner,
	}
	if d.Session != nil {
		devAddr := d.Session.Network.DevAddr
		cfg.DevAddr = &devAddr
	}
	return cfg
}

// KeyEnvelope carries a session key, KEK-wrapped when a label and key
// encryption key are configured.
type KeyEnvelope struct {
	KEKLabel string `json:"kekLabel"`
	AESKey   []byte `json:"aesKey"`
}

// NewKeyEnvelope wraps key with the given KEK. Without a label the key
// travels in clear.
func NewKeyEnvelope(kekLabel string, kek []byte, key lorawan.AES128Key) (KeyEnvelope, error) {
	if kekLabel == "" || len(kek) == 0 {
		return KeyEnvelope{AESKey: key[:]}, nil
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return KeyEnvelope{}, errors.Wrap(err, "new cipher error")
	}

	b, err := keywrap.Wrap(block, key[:])
	if err != nil {
		return KeyEnvelope{}, errors.Wrap(err, "key wrap error")
	}

	return KeyEnvelope{KEKLabel: kekLabel, AESKey: b}, nil
}

// Unwrap recovers the session key with the given KEK.
func (k KeyEnvelope) Unwrap(kek []byte) (lorawan.AES128Key, error) {
	var key lorawan.AES128Key

	if k.KEKLabel == "" {
		if len(k.AESKey) != len(key) {
			return key, errors.New("invalid key length")
		}
		copy(key[:], k.AESKey)
		return key, nil
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return key, errors.Wrap(err, "new cipher error")
	}

	b, err := keywrap.Unwrap(block, k.AESKey)
	if err != nil {
		return key, errors.Wrap(err, "key unwrap error")
	}

	copy(key[:], b)
	return key, nil
}

// DeviceSession is the per-activation record kept on the ledger. NCIDs
// lists the controllers authorized to take part in the deduplication
// rounds of this device.
type DeviceSession struct {
	DevEUI  lorawan.EUI64   `json:"devEUI"`
	DevAddr lorawan.DevAddr `json:"devAddr"`

	FNwkSIntKey KeyEnvelope `json:"fNwkSIntKey"`
	SNwkSIntKey KeyEnvelope `json:"sNwkSIntKey"`
	NwkSEncKey  KeyEnvelope `json:"nwkSEncKey"`
	AppSKey     KeyEnvelope `json:"appSKey"`

	HomeNetID lorawan.NetID `json:"homeNetID"`
	FCntUp    uint32        `json:"fCntUp"`
	NFCntDwn  uint32        `json:"nFCntDwn"`
	AFCntDwn  uint32        `json:"aFCntDwn"`
	RJCount0  uint16        `json:"rjCount0"`

	NCIDs []string `json:"ncIDs"`
	Owner string   `json:"owner"`
}

// SessionFromContext builds the ledger record of a session, wrapping the
// keys when a KEK is configured.
func SessionFromContext(devEUI lorawan.EUI64, ctx lorawan.SessionContext, ncIDs []string, owner, kekLabel string, kek []byte) (DeviceSession, error) {
	s := DeviceSession{
		DevEUI:    devEUI,
		DevAddr:   ctx.Network.DevAddr,
		HomeNetID: ctx.Network.HomeNetID,
		FCntUp:    ctx.Network.FCntUp,
		NFCntDwn:  ctx.Network.NFCntDwn,
		AFCntDwn:  ctx.Application.AFCntDwn,
		RJCount0:  ctx.Network.RJCount0,
		NCIDs:     append([]string{}, ncIDs...),
		Owner:     owner,
	}

	var err error
	if s.FNwkSIntKey, err = NewKeyEnvelope(kekLabel, kek, ctx.Network.FNwkSIntKey); err != nil {
		return s, err
	}
	if s.SNwkSIntKey, err = NewKeyEnvelope(kekLabel, kek, ctx.Network.SNwkSIntKey); err != nil {
		return s, err
	}
	if s.NwkSEncKey, err = NewKeyEnvelope(kekLabel, kek, ctx.Network.NwkSEncKey); err != nil {
		return s, err
	}
	if s.AppSKey, err = NewKeyEnvelope(kekLabel, kek, ctx.Application.AppSKey); err != nil {
		return s, err
	}
	return s, nil
}

// Context rebuilds the session context, unwrapping the keys with the
// given KEK (nil for clear envelopes).
func (s DeviceSession) Context(kek []byte) (lorawan.SessionContext, error) {
	var ctx lorawan.SessionContext
	var err error

	if ctx.Network.FNwkSIntKey, err = s.FNwkSIntKey.Unwrap(kek); err != nil {
		return ctx, err
	}
	if ctx.Network.SNwkSIntKey, err = s.SNwkSIntKey.Unwrap(kek); err != nil {
		return ctx, err
	}
	if ctx.Network.NwkSEncKey, err = s.NwkSEncKey.Unwrap(kek); err != nil {
		return ctx, err
	}
	if ctx.Application.AppSKey, err = s.AppSKey.Unwrap(kek); err != nil {
		return ctx, err
	}

	ctx.Network.HomeNetID = s.HomeNetID
	ctx.Network.DevAddr = s.DevAddr
	ctx.Network.FCntUp = s.FCntUp
	ctx.Network.NFCntDwn = s.NFCntDwn
	ctx.Network.RJCount0 = s.RJCount0
	ctx.Application.AFCntDwn = s.AFCntDwn
	return ctx, nil
}

// Device materializes the session record into an ABP-activated device
// carrying only the session state (the root keys stay on the ledger's
// config record).
func (s DeviceSession) Device(kek []byte) (*lorawan.Device, error) {
	ctx, err := s.Context(kek)
	if err != nil {
		return nil, err
	}

	d, err := lorawan.NewDevice(lorawan.ClassA, s.DevEUI, lorawan.EUI64{}, lorawan.AES128Key{}, lorawan.AES128Key{}, lorawan.LoRaWAN1_0)
	if err != nil {
		return nil, err
	}
	d.ActivateABP(ctx)
	return d, nil
}

// PacketRecord is the uplink record kept on the ledger.
type PacketRecord struct {
	Hash      string   `json:"hash"`
	Timestamp string   `json:"timestamp"`
	DevID     string   `json:"devID"`
	Length    uint32   `json:"length"`
	SF        uint16   `json:"sf"`
	Gateways  []string `json:"gws"`

	Packet []byte `json:"packet"`
	Answer []byte `json:"answer,omitempty"`
}

// Client is the ledger contract. Every operation is fallible with a
// *ledger.Error and honors context cancellation.
type Client interface {
	GetDeviceConfig(ctx context.Context, devEUI lorawan.EUI64) (DeviceConfig, error)
	GetDeviceSession(ctx context.Context, devAddr lorawan.DevAddr) (DeviceSession, error)
	CreateDeviceConfig(ctx context.Context, cfg DeviceConfig) error
	DeleteDeviceConfig(ctx context.Context, devEUI lorawan.EUI64) error
	DeleteDeviceSession(ctx context.Context, devAddr lorawan.DevAddr) error

	// CreateUplink records an uplink together with the answer this
	// controller produced for it, if any.
	CreateUplink(ctx context.Context, packet []byte, answer []byte) error

	// JoinProcedure coordinates a join across controllers; it reports
	// whether this controller is the elected responder.
	JoinProcedure(ctx context.Context, joinRequest, joinAccept []byte, devEUI lorawan.EUI64) (bool, error)

	// SessionGeneration stores the session derived during a join.
	SessionGeneration(ctx context.Context, session DeviceSession, devEUI lorawan.EUI64) error

	GetPacket(ctx context.Context, hash string) (PacketRecord, error)
	GetAllDevices(ctx context.Context) ([]DeviceConfig, error)
	GetDeviceOrg(ctx context.Context, devID []byte) (string, error)
}

// PacketHash is the ledger key of an uplink packet.
func PacketHash(packet []byte) string {
	sum := sha256.Sum256(packet)
	return hex.EncodeToString(sum[:])
}
