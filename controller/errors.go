package controller

import "errors"

// Errors returned by the dispatcher. Ledger failures are wrapped and
// carried alongside these.
var (
	ErrUnknownDevEUI             = errors.New("controller: unknown deveui")
	ErrUnknownDevAddr            = errors.New("controller: unknown devaddr")
	ErrInvalidJoinRequest        = errors.New("controller: invalid join-request")
	ErrInvalidUplink             = errors.New("controller: invalid uplink")
	ErrInvalidDownlink           = errors.New("controller: invalid downlink")
	ErrNotImplemented            = errors.New("controller: not implemented")
	ErrConfigurationMissing      = errors.New("controller: configuration missing")
	ErrCommandTransmissionFailed = errors.New("controller: command transmission failed")
)
