package lorawan

import "errors"

// Errors returned by the codec. Parametric failures (unexpected lengths,
// out-of-range values) are reported through fmt.Errorf with the offending
// value; the sentinels below cover the conditions callers branch on.
var (
	ErrInvalidBufferLength         = errors.New("lorawan: invalid buffer length")
	ErrInvalidBufferContent        = errors.New("lorawan: invalid buffer content")
	ErrInvalidMic                  = errors.New("lorawan: invalid mic")
	ErrInvalidNonce                = errors.New("lorawan: invalid nonce")
	ErrInvalidDevAddr              = errors.New("lorawan: devaddr does not match session")
	ErrMHDRNotCoherentWithPayload  = errors.New("lorawan: mhdr not coherent with payload")
	ErrMHDRNotCoherentWithContext  = errors.New("lorawan: mhdr not coherent with context")
	ErrFCtrlNotCoherentWithPayload = errors.New("lorawan: fctrl not coherent with payload")
	ErrFPortInvalidValue           = errors.New("lorawan: invalid fport value")
	ErrMalformedMACCommand         = errors.New("lorawan: malformed mac-command")
	ErrSessionContextMissing       = errors.New("lorawan: session context missing")
	ErrInvalidKeyBuffer            = errors.New("lorawan: invalid key buffer")
	ErrInvalidEUI64Buffer          = errors.New("lorawan: invalid eui64 buffer")
)
