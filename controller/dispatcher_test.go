package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	lorawan "github.com/DeLoRaN-Org/lorawan-backend"
	"github.com/DeLoRaN-Org/lorawan-backend/consensus"
	"github.com/DeLoRaN-Org/lorawan-backend/ledger"
	"github.com/DeLoRaN-Org/lorawan-backend/ledger/ledgertest"
	"github.com/DeLoRaN-Org/lorawan-backend/transport"
)

const testNCID = "peer0.org1"

type testEnv struct {
	dispatcher *Dispatcher
	ledger     *ledgertest.Client
	sender     *mockSender
	device     *lorawan.Device
	cancel     context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var devEUI, joinEUI lorawan.EUI64
	require.NoError(t, devEUI.UnmarshalText([]byte("50de2646f9a7ac8e")))
	require.NoError(t, joinEUI.UnmarshalText([]byte("dcbc65f607a47dea")))

	var key lorawan.AES128Key
	require.NoError(t, key.UnmarshalText([]byte("bbf326be9ac051453aa616410f110ee7")))

	device, err := lorawan.NewDevice(lorawan.ClassA, devEUI, joinEUI, key, key, lorawan.LoRaWAN1_0)
	require.NoError(t, err)

	lc := ledgertest.New(testNCID)
	require.NoError(t, lc.CreateDeviceConfig(context.Background(), ledger.ConfigFromDevice(device, "org1")))

	sender := &mockSender{}
	scheduler := NewDownlinkScheduler(sender)

	ctx, cancel := context.WithCancel(context.Background())
	go scheduler.Run(ctx)

	engine := consensus.NewEngine(consensus.Config{ID: testNCID, RoundTimeout: 200 * time.Millisecond})

	dispatcher := NewDispatcher(Config{
		NCID:            testNCID,
		NCList:          []string{testNCID},
		JoinAnswerDelay: 10 * time.Millisecond,
		DataAnswerDelay: 10 * time.Millisecond,
	}, lc, engine, scheduler)

	t.Cleanup(cancel)
	return &testEnv{
		dispatcher: dispatcher,
		ledger:     lc,
		sender:     sender,
		device:     device,
		cancel:     cancel,
	}
}

func uplinkOf(payload []byte) transport.ReceivedTransmission {
	return transport.ReceivedTransmission{
		Transmission: transport.Transmission{
			Payload:         payload,
			Frequency:       868_100_000,
			Bandwidth:       transport.BW125,
			SpreadingFactor: 7,
			CodeRate:        transport.CR4_5,
			Uplink:          true,
		},
		ArrivalStats: transport.ArrivalStats{RSSI: -97.5, SNR: 8},
	}
}

// join runs the full OTAA exchange and activates the simulated device.
func (env *testEnv) join(t *testing.T) lorawan.DevAddr {
	t.Helper()

	req, err := env.device.CreateJoinRequest()
	require.NoError(t, err)

	require.NoError(t, env.dispatcher.HandleUplink(context.Background(), uplinkOf(req), nil))

	env.sender.waitFor(t, 1, time.Second)
	emitted := env.sender.transmissions(t)
	accept := emitted[len(emitted)-1]
	require.False(t, accept.Uplink)
	require.Equal(t, uint32(868_100_000), accept.Frequency)

	phy, err := lorawan.DecodePHYPayload(accept.Payload, env.device, false)
	require.NoError(t, err)

	ja, ok := phy.MACPayload.(*lorawan.JoinAcceptPayload)
	require.True(t, ok)
	require.NoError(t, env.device.GenerateSessionContext(ja))
	return ja.DevAddr
}

func TestJoinFlow(t *testing.T) {
	env := newTestEnv(t)

	devAddr := env.join(t)

	t.Run("the ledger carries the generated session", func(t *testing.T) {
		record, err := env.ledger.GetDeviceSession(context.Background(), devAddr)
		require.NoError(t, err)
		require.Equal(t, []string{testNCID}, record.NCIDs)

		ctx, err := record.Context(nil)
		require.NoError(t, err)
		require.Equal(t, *env.device.Session, ctx)
	})

	t.Run("the device config advanced its nonces", func(t *testing.T) {
		cfg, err := env.ledger.GetDeviceConfig(context.Background(), env.device.DevEUI)
		require.NoError(t, err)
		require.Equal(t, uint32(1), cfg.DevNonce)
		require.NotNil(t, cfg.DevAddr)
		require.Equal(t, devAddr, *cfg.DevAddr)
	})

	t.Run("a replayed join-request is rejected", func(t *testing.T) {
		phy := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{MType: lorawan.JoinRequest, Major: lorawan.LoRaWANR1},
			MACPayload: &lorawan.JoinRequestPayload{
				JoinEUI:  env.device.JoinEUI,
				DevEUI:   env.device.DevEUI,
				DevNonce: 1, // already consumed
			},
		}
		req, err := phy.EncodeWithDevice(env.device)
		require.NoError(t, err)

		err = env.dispatcher.HandleUplink(context.Background(), uplinkOf(req), nil)
		require.ErrorIs(t, err, ErrInvalidJoinRequest)
	})

	t.Run("an unknown device is rejected", func(t *testing.T) {
		stranger, err := lorawan.NewDevice(lorawan.ClassA, lorawan.EUI64{9, 9, 9, 9, 9, 9, 9, 9}, env.device.JoinEUI, env.device.NwkKey, env.device.AppKey, lorawan.LoRaWAN1_0)
		require.NoError(t, err)
		req, err := stranger.CreateJoinRequest()
		require.NoError(t, err)

		err = env.dispatcher.HandleUplink(context.Background(), uplinkOf(req), nil)
		require.ErrorIs(t, err, ErrUnknownDevEUI)
	})
}

func TestConfirmedDataUp(t *testing.T) {
	env := newTestEnv(t)
	env.join(t)

	fPort := uint8(5)
	up, err := env.device.CreateUplink([]byte("sensor reading"), true, &fPort, nil)
	require.NoError(t, err)

	require.NoError(t, env.dispatcher.HandleUplink(context.Background(), uplinkOf(up), nil))

	// join accept + ack downlink
	env.sender.waitFor(t, 2, time.Second)

	t.Run("the ack downlink decodes on the device", func(t *testing.T) {
		emitted := env.sender.transmissions(t)
		ack := emitted[len(emitted)-1]
		require.False(t, ack.Uplink)

		phy, err := lorawan.DecodePHYPayload(ack.Payload, env.device, false)
		require.NoError(t, err)

		macPL := phy.MACPayload.(*lorawan.MACPayload)
		require.True(t, macPL.FHDR.FCtrl.ACK)
		require.Equal(t, "Confirmed Uplink answer", string(macPL.FRMPayload))
	})

	t.Run("the uplink and its answer reached the ledger", func(t *testing.T) {
		require.Len(t, env.ledger.Uplinks, 1)
		require.Equal(t, up, env.ledger.Uplinks[0].Packet)
		require.NotEmpty(t, env.ledger.Uplinks[0].Answer)
	})

	t.Run("the session counters advanced on the ledger", func(t *testing.T) {
		record, err := env.ledger.GetDeviceSession(context.Background(), env.device.Session.Network.DevAddr)
		require.NoError(t, err)
		require.Equal(t, uint32(1), record.FCntUp)
		require.Equal(t, uint32(1), record.AFCntDwn)
	})

	t.Run("a replayed frame counter is rejected", func(t *testing.T) {
		err := env.dispatcher.HandleUplink(context.Background(), uplinkOf(up), nil)
		require.ErrorIs(t, err, ErrInvalidUplink)
	})
}

func TestUnconfirmedDataUp(t *testing.T) {
	env := newTestEnv(t)
	env.join(t)

	fPort := uint8(0)
	commands, err := lorawan.EncodeMACCommands([]lorawan.MACCommand{
		{CID: lorawan.LinkCheckReqCID},
	})
	require.NoError(t, err)

	up, err := env.device.CreateUplink(commands, false, &fPort, nil)
	require.NoError(t, err)

	require.NoError(t, env.dispatcher.HandleUplink(context.Background(), uplinkOf(up), nil))

	t.Run("the uplink reached the ledger without an answer", func(t *testing.T) {
		require.Len(t, env.ledger.Uplinks, 1)
		require.Empty(t, env.ledger.Uplinks[0].Answer)
	})
}

func TestDispatchRejections(t *testing.T) {
	env := newTestEnv(t)
	devAddr := env.join(t)

	t.Run("downlink mtypes are rejected", func(t *testing.T) {
		fPort := uint8(1)
		fCnt := env.device.Session.Application.AFCntDwnAutoinc()
		phy := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{MType: lorawan.UnconfirmedDataDown, Major: lorawan.LoRaWANR1},
			MACPayload: &lorawan.MACPayload{
				FHDR:       lorawan.FHDR{DevAddr: devAddr, FCnt: uint16(fCnt)},
				FPort:      &fPort,
				FRMPayload: []byte("x"),
			},
		}
		down, err := phy.EncodeWithDevice(env.device)
		require.NoError(t, err)

		err = env.dispatcher.HandleUplink(context.Background(), uplinkOf(down), nil)
		require.ErrorIs(t, err, ErrInvalidUplink)
	})

	t.Run("rejoin-requests are declared unimplemented", func(t *testing.T) {
		phy := lorawan.PHYPayload{
			MHDR: lorawan.MHDR{MType: lorawan.RejoinRequest, Major: lorawan.LoRaWANR1},
			MACPayload: &lorawan.RejoinRequestType1Payload{
				RejoinType: lorawan.RejoinRequestType1,
				JoinEUI:    env.device.JoinEUI,
				DevEUI:     env.device.DevEUI,
				RJCount1:   1,
			},
		}
		rejoin, err := phy.EncodeWithDevice(env.device)
		require.NoError(t, err)

		err = env.dispatcher.HandleUplink(context.Background(), uplinkOf(rejoin), nil)
		require.ErrorIs(t, err, ErrNotImplemented)
	})

	t.Run("an unknown devaddr is rejected", func(t *testing.T) {
		other, err := lorawan.NewDevice(lorawan.ClassA, env.device.DevEUI, env.device.JoinEUI, env.device.NwkKey, env.device.AppKey, lorawan.LoRaWAN1_0)
		require.NoError(t, err)
		session := *env.device.Session
		session.Network.DevAddr = lorawan.DevAddr{0xde, 0xad, 0xbe, 0xef}
		other.ActivateABP(session)

		fPort := uint8(2)
		up, err := other.CreateUplink([]byte("ghost"), false, &fPort, nil)
		require.NoError(t, err)

		err = env.dispatcher.HandleUplink(context.Background(), uplinkOf(up), nil)
		require.ErrorIs(t, err, ErrUnknownDevAddr)
	})

	t.Run("a losing join election answers nothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.ledger.ElectedResponder = false

		req, err := env.device.CreateJoinRequest()
		require.NoError(t, err)

		require.NoError(t, env.dispatcher.HandleUplink(context.Background(), uplinkOf(req), nil))

		time.Sleep(100 * time.Millisecond)
		require.Empty(t, env.sender.transmissions(t))
	})
}
