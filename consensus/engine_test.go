package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memoryNetwork routes peer RPCs between in-process engines.
type memoryNetwork struct {
	mu      sync.Mutex
	engines map[string]*Engine
	dead    map[string]bool
}

func newMemoryNetwork() *memoryNetwork {
	return &memoryNetwork{
		engines: make(map[string]*Engine),
		dead:    make(map[string]bool),
	}
}

func (n *memoryNetwork) addEngine(id string, cfg Config) *Engine {
	cfg.ID = id
	e := newEngineWithTransport(cfg, &memoryTransport{network: n, src: id})
	n.mu.Lock()
	n.engines[id] = e
	n.mu.Unlock()
	return e
}

func (n *memoryNetwork) lookup(id string) (*Engine, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dead[id] {
		return nil, false
	}
	e, ok := n.engines[id]
	return e, ok
}

type memoryTransport struct {
	network *memoryNetwork
	src     string
}

func (t *memoryTransport) BroadcastReception(ctx context.Context, peerID string, req BroadcastReceptionRequest) (*BroadcastReceptionRequest, error) {
	e, ok := t.network.lookup(peerID)
	if !ok {
		return nil, ErrNoRound
	}
	answer, err := e.HandleReception(t.src, req)
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (t *memoryTransport) BroadcastNcSet(ctx context.Context, peerID string, req BroadcastNcSetRequest) (*BroadcastNcSetRequest, error) {
	e, ok := t.network.lookup(peerID)
	if !ok {
		return nil, ErrNoRound
	}
	answer, err := e.HandleNcSet(t.src, req)
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// testPacket ends with the given little-endian MIC value.
func testPacket(mic uint32) []byte {
	p := []byte{0x40, 0x01, 0x02, 0x03, 0x04, 0x80, 0x05, 0x00, 0x01, 0xaa}
	return append(p, byte(mic), byte(mic>>8), byte(mic>>16), byte(mic>>24))
}

func TestWinnerSelection(t *testing.T) {
	ncList := []string{"peer0.org1", "peer1.org1", "peer2.org1"}
	ncSet := map[string]int32{"peer0.org1": 3, "peer1.org1": 3, "peer2.org1": 3}

	// mic 1 indexes the second sorted peer
	require.Equal(t, "peer1.org1", winnerOf(ncList, ncSet, testPacket(1)))
	require.Equal(t, "peer0.org1", winnerOf(ncList, ncSet, testPacket(0)))
	require.Equal(t, "peer2.org1", winnerOf(ncList, ncSet, testPacket(5)))

	// a peer below the vote threshold cannot win
	ncSet["peer1.org1"] = 1
	require.Equal(t, "peer2.org1", winnerOf(ncList, ncSet, testPacket(1)))

	// no peer above the threshold: nobody wins
	require.Equal(t, "", winnerOf(ncList, map[string]int32{"peer0.org1": 1}, testPacket(1)))
}

func TestThreePeerRound(t *testing.T) {
	network := newMemoryNetwork()
	ncList := []string{"peer0.org1", "peer1.org1", "peer2.org1"}

	engines := make([]*Engine, 0, len(ncList))
	for _, id := range ncList {
		engines = append(engines, network.addEngine(id, Config{RoundTimeout: 5 * time.Second}))
	}

	packet := testPacket(1)
	devAddr := "e0113b2a"

	chans := make([]<-chan bool, len(engines))
	for i, e := range engines {
		ch, err := e.SubmitReception(context.Background(), ncList, devAddr, packet, int32(-100-i))
		require.NoError(t, err)
		chans[i] = ch
	}

	winners := 0
	for i, ch := range chans {
		select {
		case won := <-ch:
			if won {
				winners++
				// mic 1 selects the second sorted peer
				require.Equal(t, "peer1.org1", ncList[i])
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("engine %s did not resolve", ncList[i])
		}
	}
	require.Equal(t, 1, winners, "exactly one peer must win")

	for _, e := range engines {
		require.Equal(t, 0, e.RoundCount(), "round table must drain")
	}
}

func TestRoundTimeout(t *testing.T) {
	network := newMemoryNetwork()
	ncList := []string{"peer0.org1", "peer1.org1"}

	e := network.addEngine("peer0.org1", Config{RoundTimeout: 50 * time.Millisecond})
	network.dead["peer1.org1"] = true

	ch, err := e.SubmitReception(context.Background(), ncList, "aabbccdd", testPacket(1), -80)
	require.NoError(t, err)

	select {
	case won := <-ch:
		require.False(t, won)
	case <-time.After(time.Second):
		t.Fatal("timeout verdict never arrived")
	}
	require.Equal(t, 0, e.RoundCount())
}

func TestOneRoundPerDevAddr(t *testing.T) {
	network := newMemoryNetwork()
	e := network.addEngine("peer0.org1", Config{RoundTimeout: time.Second})

	_, err := e.SubmitReception(context.Background(), []string{"peer0.org1", "peer1.org1"}, "11223344", testPacket(1), -80)
	require.NoError(t, err)

	_, err = e.SubmitReception(context.Background(), []string{"peer0.org1", "peer1.org1"}, "11223344", testPacket(1), -85)
	require.ErrorIs(t, err, ErrRoundExists)
}

func TestHandleReception(t *testing.T) {
	network := newMemoryNetwork()
	ncList := []string{"peer0.org1", "peer1.org1", "peer2.org1"}
	e := network.addEngine("peer0.org1", Config{RoundTimeout: 5 * time.Second})

	packet := testPacket(7)
	_, err := e.SubmitReception(context.Background(), ncList, "00112233", packet, -90)
	require.NoError(t, err)

	t.Run("unknown round", func(t *testing.T) {
		_, err := e.HandleReception("peer1.org1", BroadcastReceptionRequest{
			DevAddr: "ffffffff",
			Hash:    DisseminationHash(packet, -70),
			RSSI:    -70,
		})
		require.ErrorIs(t, err, ErrNoRound)
	})

	t.Run("wrong hash", func(t *testing.T) {
		_, err := e.HandleReception("peer1.org1", BroadcastReceptionRequest{
			DevAddr: "00112233",
			Hash:    DisseminationHash([]byte("other packet"), -70),
			RSSI:    -70,
		})
		require.ErrorIs(t, err, ErrInvalidHash)
	})

	t.Run("wrong hash length", func(t *testing.T) {
		_, err := e.HandleReception("peer1.org1", BroadcastReceptionRequest{
			DevAddr: "00112233",
			Hash:    []byte{1, 2, 3},
			RSSI:    -70,
		})
		require.ErrorIs(t, err, ErrInvalidHashLength)
	})

	t.Run("stranger peer", func(t *testing.T) {
		_, err := e.HandleReception("peer9.org9", BroadcastReceptionRequest{
			DevAddr: "00112233",
			Hash:    DisseminationHash(packet, -70),
			RSSI:    -70,
		})
		require.ErrorIs(t, err, ErrNotPartOfRound)
	})

	t.Run("valid dissemination answers with our own", func(t *testing.T) {
		answer, err := e.HandleReception("peer1.org1", BroadcastReceptionRequest{
			DevAddr: "00112233",
			Hash:    DisseminationHash(packet, -70),
			RSSI:    -70,
		})
		require.NoError(t, err)
		require.NotNil(t, answer)
		require.Equal(t, "00112233", answer.DevAddr)
		require.Equal(t, int32(-90), answer.RSSI)
		require.Equal(t, DisseminationHash(packet, -90), []byte(answer.Hash))
	})

	t.Run("duplicate dissemination answers empty", func(t *testing.T) {
		answer, err := e.HandleReception("peer1.org1", BroadcastReceptionRequest{
			DevAddr: "00112233",
			Hash:    DisseminationHash(packet, -70),
			RSSI:    -70,
		})
		require.NoError(t, err)
		require.Nil(t, answer)
	})
}

func TestHandleNcSetStates(t *testing.T) {
	network := newMemoryNetwork()
	ncList := []string{"peer0.org1", "peer1.org1"}
	e := network.addEngine("peer0.org1", Config{RoundTimeout: 5 * time.Second})
	network.dead["peer1.org1"] = true

	packet := testPacket(0)
	ch, err := e.SubmitReception(context.Background(), ncList, "00112233", packet, -90)
	require.NoError(t, err)

	t.Run("set before dissemination phase completes", func(t *testing.T) {
		_, err := e.HandleNcSet("peer1.org1", BroadcastNcSetRequest{
			DevAddr: "00112233",
			Set:     map[string]int32{"peer1.org1": 1},
		})
		require.ErrorIs(t, err, ErrWrongState)
	})

	t.Run("set with a stranger key is rejected", func(t *testing.T) {
		// complete the dissemination phase first
		_, err := e.HandleReception("peer1.org1", BroadcastReceptionRequest{
			DevAddr: "00112233",
			Hash:    DisseminationHash(packet, -70),
			RSSI:    -70,
		})
		require.NoError(t, err)

		_, err = e.HandleNcSet("peer1.org1", BroadcastNcSetRequest{
			DevAddr: "00112233",
			Set:     map[string]int32{"peer1.org1": 1, "peer9.org9": 1},
		})
		require.ErrorIs(t, err, ErrNotPartOfRound)
	})

	t.Run("last set ends the round", func(t *testing.T) {
		answer, err := e.HandleNcSet("peer1.org1", BroadcastNcSetRequest{
			DevAddr: "00112233",
			Set:     map[string]int32{"peer0.org1": 1, "peer1.org1": 1},
		})
		require.NoError(t, err)
		require.NotNil(t, answer)

		select {
		case won := <-ch:
			// both peers counted twice, mic 0 selects peer0
			require.True(t, won)
		case <-time.After(time.Second):
			t.Fatal("verdict never arrived")
		}
		require.Equal(t, 0, e.RoundCount())
	})
}

func TestDisseminationHash(t *testing.T) {
	packet := testPacket(3)

	require.Len(t, DisseminationHash(packet, -80), 32)
	require.Equal(t, DisseminationHash(packet, -80), DisseminationHash(packet, -80))
	require.NotEqual(t, DisseminationHash(packet, -80), DisseminationHash(packet, -81))
	require.NotEqual(t, DisseminationHash(packet, -80), DisseminationHash(packet[:len(packet)-1], -80))
}
