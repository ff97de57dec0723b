package lorawan

// NetworkSessionContext holds the network-side state of an activated
// session. For 1.0.x devices the three keys hold the same value.
type NetworkSessionContext struct {
	FNwkSIntKey AES128Key `json:"fNwkSIntKey"`
	SNwkSIntKey AES128Key `json:"sNwkSIntKey"`
	NwkSEncKey  AES128Key `json:"nwkSEncKey"`

	HomeNetID NetID   `json:"homeNetID"`
	DevAddr   DevAddr `json:"devAddr"`
	FCntUp    uint32  `json:"fCntUp"`
	NFCntDwn  uint32  `json:"nFCntDwn"`
	RJCount0  uint16  `json:"rjCount0"`
}

// FCntUpAutoinc increments and returns the uplink frame-counter.
func (c *NetworkSessionContext) FCntUpAutoinc() uint32 {
	c.FCntUp++
	return c.FCntUp
}

// NFCntDwnAutoinc increments and returns the network downlink
// frame-counter.
func (c *NetworkSessionContext) NFCntDwnAutoinc() uint32 {
	c.NFCntDwn++
	return c.NFCntDwn
}

// RJCount0Autoinc increments and returns the rejoin type 0/2 counter.
func (c *NetworkSessionContext) RJCount0Autoinc() uint16 {
	c.RJCount0++
	return c.RJCount0
}

// ApplicationSessionContext holds the application-side state of an
// activated session.
type ApplicationSessionContext struct {
	AppSKey  AES128Key `json:"appSKey"`
	AFCntDwn uint32    `json:"aFCntDwn"`
}

// AFCntDwnAutoinc increments and returns the application downlink
// frame-counter.
func (c *ApplicationSessionContext) AFCntDwnAutoinc() uint32 {
	c.AFCntDwn++
	return c.AFCntDwn
}

// SessionContext pairs the application and network session state created
// by an activation.
type SessionContext struct {
	Application ApplicationSessionContext `json:"application"`
	Network     NetworkSessionContext     `json:"network"`
}

// JoinSessionContext holds the join-server keys and counters of a device.
// JSIntKey and JSEncKey are deterministic functions of NwkKey and DevEUI,
// derived once at device construction.
type JoinSessionContext struct {
	JSIntKey  AES128Key `json:"jsIntKey"`
	JSEncKey  AES128Key `json:"jsEncKey"`
	RJCount1  uint16    `json:"rjCount1"`
	JoinNonce uint32    `json:"joinNonce"`
}

// JoinNonceAutoinc increments the join-nonce and returns its new value.
func (c *JoinSessionContext) JoinNonceAutoinc() JoinNonce {
	c.JoinNonce++
	return JoinNonce(c.JoinNonce & 0x00ffffff)
}

// DeriveJoinSessionContext derives the JSIntKey and JSEncKey from the
// NwkKey and the DevEUI.
func DeriveJoinSessionContext(nwkKey AES128Key, devEUI EUI64) (JoinSessionContext, error) {
	var ctx JoinSessionContext
	var err error

	if ctx.JSIntKey, err = deriveJSKey(0x06, nwkKey, devEUI); err != nil {
		return ctx, err
	}
	if ctx.JSEncKey, err = deriveJSKey(0x05, nwkKey, devEUI); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func deriveJSKey(typ byte, nwkKey AES128Key, devEUI EUI64) (AES128Key, error) {
	var key AES128Key

	b := make([]byte, 16)
	b[0] = typ
	eui, err := devEUI.MarshalBinary()
	if err != nil {
		return key, err
	}
	copy(b[1:9], eui)

	ct, err := EncryptAES128ECB(nwkKey, b)
	if err != nil {
		return key, err
	}
	copy(key[:], ct)
	return key, nil
}

// DeriveNetworkSessionContext derives the network session keys from the
// join inputs. With OptNeg set (1.1) the three keys are distinct
// derivations over the JoinEUI with a big-endian DevNonce; without it the
// single 1.0.x derivation over the NetID with a little-endian DevNonce
// fills all three slots. Counters start at zero.
func DeriveNetworkSessionContext(optNeg bool, nwkKey AES128Key, joinNonce JoinNonce, joinEUI EUI64, devNonce DevNonce, devAddr DevAddr, netID NetID) (NetworkSessionContext, error) {
	ctx := NetworkSessionContext{
		HomeNetID: netID,
		DevAddr:   devAddr,
	}

	if optNeg {
		for _, d := range []struct {
			typ byte
			key *AES128Key
		}{
			{0x01, &ctx.FNwkSIntKey},
			{0x03, &ctx.SNwkSIntKey},
			{0x04, &ctx.NwkSEncKey},
		} {
			k, err := deriveSessionKey(d.typ, nwkKey, joinNonce, joinEUI, netID, devNonce, true, true)
			if err != nil {
				return ctx, err
			}
			*d.key = k
		}
		return ctx, nil
	}

	k, err := deriveSessionKey(0x01, nwkKey, joinNonce, joinEUI, netID, devNonce, false, false)
	if err != nil {
		return ctx, err
	}
	ctx.FNwkSIntKey = k
	ctx.SNwkSIntKey = k
	ctx.NwkSEncKey = k
	return ctx, nil
}

// DeriveApplicationSessionContext derives the AppSKey from the join
// inputs. The AFCntDwn counter starts at zero.
func DeriveApplicationSessionContext(optNeg bool, appKey AES128Key, joinNonce JoinNonce, joinEUI EUI64, devNonce DevNonce, netID NetID) (ApplicationSessionContext, error) {
	var ctx ApplicationSessionContext

	k, err := deriveSessionKey(0x02, appKey, joinNonce, joinEUI, netID, devNonce, optNeg, false)
	if err != nil {
		return ctx, err
	}
	ctx.AppSKey = k
	return ctx, nil
}

// DeriveSessionContext derives a complete session context from the join
// inputs.
func DeriveSessionContext(optNeg bool, nwkKey, appKey AES128Key, joinNonce JoinNonce, joinEUI EUI64, devNonce DevNonce, devAddr DevAddr, netID NetID) (SessionContext, error) {
	var ctx SessionContext
	var err error

	if ctx.Application, err = DeriveApplicationSessionContext(optNeg, appKey, joinNonce, joinEUI, devNonce, netID); err != nil {
		return ctx, err
	}
	if ctx.Network, err = DeriveNetworkSessionContext(optNeg, nwkKey, joinNonce, joinEUI, devNonce, devAddr, netID); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// deriveSessionKey builds the 16 byte derivation block. With optNeg the
// middle field is the JoinEUI (wire order), otherwise the NetID (wire
// order). devNonceBE selects the big-endian DevNonce layout used by the
// 1.1 network-key derivations.
func deriveSessionKey(typ byte, rootKey AES128Key, joinNonce JoinNonce, joinEUI EUI64, netID NetID, devNonce DevNonce, optNeg, devNonceBE bool) (AES128Key, error) {
	var key AES128Key

	b := make([]byte, 16)
	b[0] = typ

	jn, err := joinNonce.MarshalBinary()
	if err != nil {
		return key, err
	}
	copy(b[1:4], jn)

	pos := 4
	if optNeg {
		eui, err := joinEUI.MarshalBinary()
		if err != nil {
			return key, err
		}
		copy(b[pos:pos+8], eui)
		pos += 8
	} else {
		ni, err := netID.MarshalBinary()
		if err != nil {
			return key, err
		}
		copy(b[pos:pos+3], ni)
		pos += 3
	}

	if devNonceBE {
		b[pos] = byte(devNonce >> 8)
		b[pos+1] = byte(devNonce)
	} else {
		b[pos] = byte(devNonce)
		b[pos+1] = byte(devNonce >> 8)
	}

	ct, err := EncryptAES128ECB(rootKey, b)
	if err != nil {
		return key, err
	}
	copy(key[:], ct)
	return key, nil
}
