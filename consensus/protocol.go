package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// HEXBytes defines a type which represents bytes as HEX when marshaled to
// text.
type HEXBytes []byte

// String implements fmt.Stringer.
func (hb HEXBytes) String() string {
	return hex.EncodeToString(hb)
}

// MarshalText implements encoding.TextMarshaler.
func (hb HEXBytes) MarshalText() ([]byte, error) {
	return []byte(hb.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (hb *HEXBytes) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*hb = b
	return nil
}

// BroadcastReceptionRequest announces that the sender received the uplink
// of a round. Hash commits to the packet bytes and the sender's RSSI so a
// peer that did not receive the same packet cannot take part.
type BroadcastReceptionRequest struct {
	DevAddr string   `json:"devAddr"`
	Hash    HEXBytes `json:"hash"`
	RSSI    int32    `json:"rssi"`
}

// BroadcastReceptionResponse carries the receiver's own dissemination for
// the same round, or no answer when the sender is already accounted for.
type BroadcastReceptionResponse struct {
	Answer *BroadcastReceptionRequest `json:"answer"`
}

// BroadcastNcSetRequest shares the sender's accumulated set for a round.
type BroadcastNcSetRequest struct {
	DevAddr string           `json:"devAddr"`
	Set     map[string]int32 `json:"set"`
}

// BroadcastNcSetResponse carries the receiver's own set, or no answer
// when the sender's set was already merged.
type BroadcastNcSetResponse struct {
	Answer *BroadcastNcSetRequest `json:"answer"`
}

// ResultCode classifies a rejected peer request.
type ResultCode string

// Result codes carried by error responses.
const (
	NoRound           ResultCode = "NoRound"
	InvalidHash       ResultCode = "InvalidHash"
	InvalidHashLength ResultCode = "InvalidHashLength"
	NotPartOfRound    ResultCode = "NotPartOfRound"
	WrongState        ResultCode = "WrongState"
	Unauthenticated   ResultCode = "Unauthenticated"
	Other             ResultCode = "Other"
)

// Result is the body of a rejected peer request.
type Result struct {
	ResultCode  ResultCode `json:"resultCode"`
	Description string     `json:"description"`
}

// DisseminationHash commits to an uplink packet and the RSSI it was
// received with: SHA-256(packet || rssi as little-endian int32).
func DisseminationHash(packet []byte, rssi int32) []byte {
	h := sha256.New()
	h.Write(packet)

	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(rssi))
	h.Write(b)

	return h.Sum(nil)
}
