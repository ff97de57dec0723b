package lorawan

// DeviceClass defines the LoRaWAN device class.
type DeviceClass byte

// Device classes.
const (
	ClassA DeviceClass = iota
	ClassB
	ClassC
)

// ActivationMode defines how a device obtained its session.
type ActivationMode byte

// Activation modes.
const (
	OTAA ActivationMode = iota
	ABP
)

// Device holds the static configuration and the mutable state of an
// end-device as seen by the network controller (or by a device
// simulator). The join-session keys are derived once at construction; the
// session context appears after an activation.
type Device struct {
	Class      DeviceClass    `json:"class"`
	Version    MACVersion     `json:"version"`
	Activation ActivationMode `json:"activation"`

	DevEUI  EUI64     `json:"devEUI"`
	JoinEUI EUI64     `json:"joinEUI"`
	NwkKey  AES128Key `json:"nwkKey"`
	AppKey  AES128Key `json:"appKey"`

	// DevNonce keeps the full 32 bit view of the 16 bit wire nonce; the
	// high half counts wrap-arounds.
	DevNonce uint32 `json:"devNonce"`

	JoinContext JoinSessionContext `json:"joinContext"`
	Session     *SessionContext    `json:"session"`

	// LastJoinReqType selects the join-accept decryption key and the 1.1
	// join-accept MIC block.
	LastJoinReqType JoinType `json:"lastJoinReqType"`
}

// NewDevice creates a Device and derives its join-session keys.
func NewDevice(class DeviceClass, devEUI, joinEUI EUI64, nwkKey, appKey AES128Key, version MACVersion) (*Device, error) {
	joinCtx, err := DeriveJoinSessionContext(nwkKey, devEUI)
	if err != nil {
		return nil, err
	}

	return &Device{
		Class:           class,
		Version:         version,
		Activation:      OTAA,
		DevEUI:          devEUI,
		JoinEUI:         joinEUI,
		NwkKey:          nwkKey,
		AppKey:          appKey,
		JoinContext:     joinCtx,
		LastJoinReqType: JoinRequestType,
	}, nil
}

// GenerateSessionContext derives and installs a fresh session from a
// join-accept. The device's current DevNonce feeds the derivation.
func (d *Device) GenerateSessionContext(ja *JoinAcceptPayload) error {
	ctx, err := DeriveSessionContext(
		ja.DLSettings.OptNeg,
		d.NwkKey,
		d.AppKey,
		ja.JoinNonce,
		d.JoinEUI,
		DevNonce(d.DevNonce),
		ja.DevAddr,
		ja.HomeNetID,
	)
	if err != nil {
		return err
	}
	d.Session = &ctx
	return nil
}

// ActivateABP installs a pre-provisioned session.
func (d *Device) ActivateABP(session SessionContext) {
	d.Activation = ABP
	d.Session = &session
}

// IsActivated reports whether the device carries a session.
func (d *Device) IsActivated() bool {
	return d.Session != nil
}

// DevNonceAutoinc increments and returns the device nonce.
func (d *Device) DevNonceAutoinc() uint32 {
	d.DevNonce++
	return d.DevNonce
}

// CreateJoinRequest builds a join-request frame, consuming a DevNonce.
func (d *Device) CreateJoinRequest() ([]byte, error) {
	phy := PHYPayload{
		MHDR: MHDR{MType: JoinRequest, Major: LoRaWANR1},
		MACPayload: &JoinRequestPayload{
			JoinEUI:  d.JoinEUI,
			DevEUI:   d.DevEUI,
			DevNonce: DevNonce(d.DevNonceAutoinc()),
		},
	}
	return phy.EncodeWithDevice(d)
}

// CreateUplink builds a data uplink frame, consuming an FCntUp value. A
// nil fPort builds a frame without FPort, which needs an empty payload (a
// non-empty one fails with ErrFPortInvalidValue); fOpts beyond 15 bytes
// are truncated.
func (d *Device) CreateUplink(payload []byte, confirmed bool, fPort *uint8, fOpts []byte) ([]byte, error) {
	if d.Session == nil {
		return nil, ErrSessionContextMissing
	}

	mType := UnconfirmedDataUp
	if confirmed {
		mType = ConfirmedDataUp
	}

	fCnt := d.Session.Network.FCntUpAutoinc()
	fhdr := FHDR{
		DevAddr: d.Session.Network.DevAddr,
		FCtrl:   FCtrl{ADR: true},
		FCnt:    uint16(fCnt),
	}
	fhdr.SetFOpts(fOpts)

	phy := PHYPayload{
		MHDR: MHDR{MType: mType, Major: LoRaWANR1},
		MACPayload: &MACPayload{
			FHDR:       fhdr,
			FPort:      fPort,
			FRMPayload: payload,
		},
	}
	return phy.EncodeWithDevice(d)
}
