// Package controller implements the network-controller dispatcher: it
// decodes received uplinks, runs the join and data procedures against
// the ledger, deduplicates data uplinks through the consensus engine and
// schedules the timed downlink answers.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	lorawan "github.com/DeLoRaN-Org/lorawan-backend"
	"github.com/DeLoRaN-Org/lorawan-backend/consensus"
	"github.com/DeLoRaN-Org/lorawan-backend/ledger"
	"github.com/DeLoRaN-Org/lorawan-backend/transport"
)

// answer delays relative to the uplink arrival instant.
const (
	joinAnswerDelay = 5 * time.Second
	dataAnswerDelay = 1 * time.Second
)

// Config holds the dispatcher configuration.
type Config struct {
	// NCID is this controller's identity.
	NCID string

	// NCList lists the controllers recorded as deduplicators on the
	// sessions this controller creates.
	NCList []string

	// KEK decrypts the session key envelopes of ledger records; nil for
	// clear envelopes.
	KEK []byte

	// JoinAnswerDelay and DataAnswerDelay override the answer deadlines
	// (tests); zero keeps the defaults.
	JoinAnswerDelay time.Duration
	DataAnswerDelay time.Duration
}

// Dispatcher serves the uplinks of one network controller.
type Dispatcher struct {
	cfg       Config
	ledger    ledger.Client
	engine    *consensus.Engine
	scheduler *DownlinkScheduler
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, lc ledger.Client, engine *consensus.Engine, scheduler *DownlinkScheduler) *Dispatcher {
	if cfg.JoinAnswerDelay == 0 {
		cfg.JoinAnswerDelay = joinAnswerDelay
	}
	if cfg.DataAnswerDelay == 0 {
		cfg.DataAnswerDelay = dataAnswerDelay
	}
	return &Dispatcher{
		cfg:       cfg,
		ledger:    lc,
		engine:    engine,
		scheduler: scheduler,
	}
}

// UplinkSource yields received uplinks along with the reply address of
// transports that have one. The UDP receiver implements it.
type UplinkSource interface {
	ReceiveFrom(ctx context.Context, timeout time.Duration) ([]transport.ReceivedTransmission, *net.UDPAddr, error)
}

// Run receives uplinks until the context ends. Each uplink is served by
// its own goroutine; a failing frame is logged and dropped while the
// others keep flowing.
func (d *Dispatcher) Run(ctx context.Context, receiver UplinkSource) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		transmissions, addr, err := receiver.ReceiveFrom(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, transport.ErrMissingDownlink) {
				log.WithError(err).Error("controller: receive failed")
			}
			continue
		}

		for _, rt := range transmissions {
			rt := rt
			go func() {
				defer func() {
					if r := recover(); r != nil {
						log.WithField("panic", r).Error("controller: uplink handler panicked")
					}
				}()
				if err := d.HandleUplink(ctx, rt, addr); err != nil {
					log.WithError(err).WithField(
						"payload", hex.EncodeToString(rt.Transmission.Payload),
					).Warning("controller: uplink dropped")
				}
			}()
		}
	}
}

// dispatchResult is what a handler hands back to the uplink flow.
type dispatchResult struct {
	// answer is the downlink frame to schedule, if any.
	answer []byte

	// devAddr and ncList identify the consensus round of a data uplink;
	// an empty ncList falls back to the configured list, or to this
	// controller alone; join uplinks run no round.
	devAddr lorawan.DevAddr
	ncList  []string

	// session carries the counters advanced by this uplink; it is
	// persisted only when this controller wins the round.
	session *ledger.DeviceSession
}

// HandleUplink serves one received uplink end to end.
func (d *Dispatcher) HandleUplink(ctx context.Context, rt transport.ReceivedTransmission, addr *net.UDPAddr) error {
	arrival := time.Now()

	data := rt.Transmission.Payload
	if len(data) == 0 {
		return lorawan.ErrInvalidBufferLength
	}

	var mhdr lorawan.MHDR
	if err := mhdr.UnmarshalBinary(data[0:1]); err != nil {
		return err
	}

	result, err := d.dispatch(ctx, mhdr.MType, data)
	if err != nil {
		return err
	}

	isJoin := mhdr.MType.IsJoinOrRejoin()

	shouldAnswer := false
	if isJoin {
		shouldAnswer = result.answer != nil
	} else {
		won, err := d.consensusRound(ctx, result.devAddr, data, rt.ArrivalStats.RSSI, result.ncList)
		if err != nil {
			log.WithError(err).WithField("dev_addr", result.devAddr).Error("controller: consensus failed")
		}
		shouldAnswer = won
	}

	if !shouldAnswer {
		return nil
	}

	if result.answer != nil {
		delay := d.cfg.DataAnswerDelay
		if isJoin {
			delay = d.cfg.JoinAnswerDelay
		}

		downlink := Downlink{
			Transmission: transport.Transmission{
				Payload:         result.answer,
				Frequency:       rt.Transmission.Frequency,
				Bandwidth:       rt.Transmission.Bandwidth,
				SpreadingFactor: rt.Transmission.SpreadingFactor,
				CodeRate:        rt.Transmission.CodeRate,
				Uplink:          false,
			},
			SendAt: arrival.Add(delay),
			Addr:   addr,
		}
		if err := d.scheduler.Schedule(ctx, downlink); err != nil {
			return errors.Wrap(err, "schedule downlink error")
		}
	}

	if !isJoin {
		if err := d.ledger.CreateUplink(ctx, data, result.answer); err != nil {
			return errors.Wrap(err, "create uplink error")
		}
		if result.session != nil {
			if err := d.ledger.SessionGeneration(ctx, *result.session, result.session.DevEUI); err != nil {
				return errors.Wrap(err, "session update error")
			}
		}
		log.WithField("hash", ledger.PacketHash(data)).Info("controller: uplink recorded")
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, mType lorawan.MType, data []byte) (dispatchResult, error) {
	switch mType {
	case lorawan.JoinRequest:
		return d.handleJoinRequest(ctx, data)
	case lorawan.UnconfirmedDataUp:
		return d.handleDataUp(ctx, data, false)
	case lorawan.ConfirmedDataUp:
		return d.handleDataUp(ctx, data, true)
	case lorawan.RejoinRequest, lorawan.Proprietary:
		return dispatchResult{}, fmt.Errorf("%w: %s", ErrNotImplemented, mType)
	default:
		return dispatchResult{}, fmt.Errorf("%w: received %s", ErrInvalidUplink, mType)
	}
}

// handleJoinRequest runs the OTAA join procedure: validate the request
// against the ledger's device record, derive the session and ask the
// ledger which controller answers.
func (d *Dispatcher) handleJoinRequest(ctx context.Context, data []byte) (dispatchResult, error) {
	phy, err := lorawan.DecodePHYPayload(data, nil, true)
	if err != nil {
		return dispatchResult{}, err
	}
	jr, ok := phy.MACPayload.(*lorawan.JoinRequestPayload)
	if !ok {
		return dispatchResult{}, ErrInvalidJoinRequest
	}

	cfg, err := d.ledger.GetDeviceConfig(ctx, jr.DevEUI)
	if err != nil {
		if ledger.IsNotFound(err) {
			return dispatchResult{}, fmt.Errorf("%w: %s", ErrUnknownDevEUI, jr.DevEUI)
		}
		return dispatchResult{}, errors.Wrap(err, "get device config error")
	}

	device, err := cfg.Device()
	if err != nil {
		return dispatchResult{}, err
	}

	valid, looped := lorawan.NonceValid(uint16(jr.DevNonce), uint16(device.DevNonce))
	if !valid {
		return dispatchResult{}, fmt.Errorf("%w: devnonce %d not above %d", ErrInvalidJoinRequest, jr.DevNonce, uint16(device.DevNonce))
	}

	// re-decode with the device context to verify the MIC
	if _, err := lorawan.DecodePHYPayload(data, device, true); err != nil {
		return dispatchResult{}, err
	}

	devAddr := joinDevAddr(device.DevEUI, device.JoinEUI, jr.DevNonce)

	dlSettings := lorawan.DLSettings{RX1DROffset: 1, RX2DataRate: 1}
	if device.Version >= lorawan.LoRaWAN1_1 {
		dlSettings.OptNeg = true
	}

	ja := lorawan.JoinAcceptPayload{
		JoinReqType: lorawan.JoinRequestType,
		JoinNonce:   device.JoinContext.JoinNonceAutoinc(),
		HomeNetID:   lorawan.NetID{0x01, 0x02, 0x03},
		DevAddr:     devAddr,
		DLSettings:  dlSettings,
		RXDelay:     2,
	}

	device.DevNonce = lorawan.IncrementNonce(uint16(jr.DevNonce), device.DevNonce, looped)
	if err := device.GenerateSessionContext(&ja); err != nil {
		return dispatchResult{}, err
	}
	device.LastJoinReqType = lorawan.JoinRequestType

	accept := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWANR1},
		MACPayload: &ja,
	}
	answer, err := accept.EncodeWithDevice(device)
	if err != nil {
		return dispatchResult{}, err
	}

	elected, err := d.ledger.JoinProcedure(ctx, data, answer, device.DevEUI)
	if err != nil {
		return dispatchResult{}, errors.Wrap(err, "join procedure error")
	}

	log.WithFields(log.Fields{
		"dev_eui":  device.DevEUI,
		"dev_addr": devAddr,
		"elected":  elected,
	}).Info("controller: join-request served")

	if !elected {
		return dispatchResult{}, nil
	}

	session, err := ledger.SessionFromContext(device.DevEUI, *device.Session, d.cfg.NCList, cfg.Owner, "", nil)
	if err != nil {
		return dispatchResult{}, err
	}
	if err := d.ledger.SessionGeneration(ctx, session, device.DevEUI); err != nil {
		return dispatchResult{}, errors.Wrap(err, "session generation error")
	}

	cfg.DevNonce = device.DevNonce
	cfg.JoinNonce = device.JoinContext.JoinNonce
	cfg.DevAddr = &devAddr
	if err := d.ledger.CreateDeviceConfig(ctx, cfg); err != nil {
		return dispatchResult{}, errors.Wrap(err, "update device config error")
	}

	return dispatchResult{answer: answer}, nil
}

// joinDevAddr derives the address assigned at join: the first 4 bytes of
// SHA-256(DevEUI || JoinEUI || DevNonce as big-endian).
func joinDevAddr(devEUI, joinEUI lorawan.EUI64, devNonce lorawan.DevNonce) lorawan.DevAddr {
	h := sha256.New()
	h.Write(devEUI[:])
	h.Write(joinEUI[:])
	h.Write([]byte{byte(devNonce >> 8), byte(devNonce)})

	var devAddr lorawan.DevAddr
	copy(devAddr[:], h.Sum(nil)[:4])
	return devAddr
}

// handleDataUp validates and decrypts a data uplink against the ledger's
// session; for a confirmed uplink it also builds the acknowledging
// downlink.
func (d *Dispatcher) handleDataUp(ctx context.Context, data []byte, confirmed bool) (dispatchResult, error) {
	phy, err := lorawan.DecodePHYPayload(data, nil, true)
	if err != nil {
		return dispatchResult{}, err
	}
	macPL, ok := phy.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return dispatchResult{}, fmt.Errorf("%w: not a data frame", ErrInvalidUplink)
	}
	devAddr := macPL.FHDR.DevAddr

	session, err := d.ledger.GetDeviceSession(ctx, devAddr)
	if err != nil {
		if ledger.IsNotFound(err) {
			return dispatchResult{}, fmt.Errorf("%w: %s", ErrUnknownDevAddr, devAddr)
		}
		return dispatchResult{}, errors.Wrap(err, "get device session error")
	}

	valid, looped := lorawan.NonceValid(macPL.FHDR.FCnt, uint16(session.FCntUp))
	if !valid {
		return dispatchResult{}, fmt.Errorf("%w: fcntup %d not above %d", ErrInvalidUplink, macPL.FHDR.FCnt, uint16(session.FCntUp))
	}

	device, err := session.Device(d.cfg.KEK)
	if err != nil {
		return dispatchResult{}, err
	}

	// full decode: devaddr check, payload decryption, MIC verification
	phy, err = lorawan.DecodePHYPayload(data, device, true)
	if err != nil {
		return dispatchResult{}, err
	}
	macPL = phy.MACPayload.(*lorawan.MACPayload)

	if macPL.FPort != nil && *macPL.FPort == 0 && len(macPL.FRMPayload) > 0 {
		commands, err := lorawan.DecodeMACCommands(true, macPL.FRMPayload)
		if err != nil {
			return dispatchResult{}, err
		}
		for _, cmd := range commands {
			log.WithFields(log.Fields{
				"dev_addr": devAddr,
				"cid":      fmt.Sprintf("0x%02x", byte(cmd.CID)),
			}).Info("controller: mac-command received")
		}
	}

	result := dispatchResult{
		devAddr: devAddr,
		ncList:  session.NCIDs,
	}

	if confirmed {
		fPort := uint8(1)
		fCnt := device.Session.Application.AFCntDwnAutoinc()

		downlink := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{MType: lorawan.UnconfirmedDataDown, Major: lorawan.LoRaWANR1},
			MACPayload: &lorawan.MACPayload{
				FHDR: lorawan.FHDR{
					DevAddr: devAddr,
					FCtrl:   lorawan.FCtrl{ACK: true},
					FCnt:    uint16(fCnt),
				},
				FPort:      &fPort,
				FRMPayload: []byte("Confirmed Uplink answer"),
			},
		}

		if result.answer, err = downlink.EncodeWithDevice(device); err != nil {
			return dispatchResult{}, err
		}
	}

	// the counters advance only after the MIC validated; they reach the
	// ledger once the round is won
	updated := session
	updated.FCntUp = lorawan.IncrementNonce(macPL.FHDR.FCnt, session.FCntUp, looped)
	updated.NFCntDwn = device.Session.Network.NFCntDwn
	updated.AFCntDwn = device.Session.Application.AFCntDwn
	result.session = &updated

	return result, nil
}

// consensusRound runs (or joins) the deduplication round of a data
// uplink and reports whether this controller won it.
func (d *Dispatcher) consensusRound(ctx context.Context, devAddr lorawan.DevAddr, packet []byte, rssi float32, ncList []string) (bool, error) {
	done, err := d.engine.SubmitReception(ctx, d.ncListOrSelf(ncList), devAddr.String(), packet, int32(rssi*1000))
	if err != nil {
		return false, err
	}

	select {
	case won := <-done:
		return won, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (d *Dispatcher) ncListOrSelf(ncList []string) []string {
	if len(ncList) > 0 {
		return ncList
	}
	if len(d.cfg.NCList) > 0 {
		return d.cfg.NCList
	}
	return []string{d.cfg.NCID}
}
