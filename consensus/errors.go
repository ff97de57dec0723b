package consensus

import "errors"

// Protocol and transport errors. The logical protocol errors travel to
// peers as result codes; ErrNCAlreadyInSet is downgraded to an empty
// answer at the RPC boundary to keep the protocol idempotent under
// retries.
var (
	ErrNoRound           = errors.New("consensus: no round for devaddr")
	ErrRoundExists       = errors.New("consensus: round already exists for devaddr")
	ErrInvalidHash       = errors.New("consensus: dissemination hash mismatch")
	ErrInvalidHashLength = errors.New("consensus: dissemination hash must be 32 bytes")
	ErrNotPartOfRound    = errors.New("consensus: peer not part of round")
	ErrNCAlreadyInSet    = errors.New("consensus: peer already in set")
	ErrWrongState        = errors.New("consensus: operation not allowed in current state")
	ErrRoundEnded        = errors.New("consensus: round ended already")
	ErrUnauthenticated   = errors.New("consensus: no verified peer certificate")
	ErrInvalidTLSConfig  = errors.New("consensus: invalid tls configuration")
	ErrInvalidPeerID     = errors.New("consensus: invalid peer id")
)
