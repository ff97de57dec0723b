package controller

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeLoRaN-Org/lorawan-backend/transport"
)

// mockSender records every frame it was asked to emit.
type mockSender struct {
	mu    sync.Mutex
	sent  [][]byte
	addrs []*net.UDPAddr
}

func (m *mockSender) Send(ctx context.Context, payload []byte, addr *net.UDPAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte{}, payload...))
	m.addrs = append(m.addrs, addr)
	return nil
}

func (m *mockSender) transmissions(t *testing.T) []transport.Transmission {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]transport.Transmission, 0, len(m.sent))
	for _, b := range m.sent {
		var tr transport.Transmission
		require.NoError(t, json.Unmarshal(b, &tr))
		out = append(out, tr)
	}
	return out
}

func (m *mockSender) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		count := len(m.sent)
		m.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sends", n)
}

func TestSchedulerOrdering(t *testing.T) {
	sender := &mockSender{}
	scheduler := NewDownlinkScheduler(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	now := time.Now()

	// submitted out of order on purpose
	require.NoError(t, scheduler.Schedule(ctx, Downlink{
		Transmission: transport.Transmission{Payload: []byte("pktA")},
		SendAt:       now.Add(100 * time.Millisecond),
	}))
	require.NoError(t, scheduler.Schedule(ctx, Downlink{
		Transmission: transport.Transmission{Payload: []byte("pktB")},
		SendAt:       now.Add(50 * time.Millisecond),
	}))

	sender.waitFor(t, 2, time.Second)

	got := sender.transmissions(t)
	require.Equal(t, "pktB", string(got[0].Payload))
	require.Equal(t, "pktA", string(got[1].Payload))
}

func TestSchedulerEmitsOnce(t *testing.T) {
	sender := &mockSender{}
	scheduler := NewDownlinkScheduler(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, scheduler.Schedule(ctx, Downlink{
			Transmission: transport.Transmission{Payload: []byte{byte(i)}},
			SendAt:       time.Now().Add(time.Duration(i) * 10 * time.Millisecond),
		}))
	}

	sender.waitFor(t, 5, time.Second)
	time.Sleep(50 * time.Millisecond)

	got := sender.transmissions(t)
	require.Len(t, got, 5)
	for i, tr := range got {
		require.Equal(t, []byte{byte(i)}, tr.Payload)
	}
}

func TestSchedulerPastDeadline(t *testing.T) {
	sender := &mockSender{}
	scheduler := NewDownlinkScheduler(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	// an already-expired instant fires immediately
	require.NoError(t, scheduler.Schedule(ctx, Downlink{
		Transmission: transport.Transmission{Payload: []byte("late")},
		SendAt:       time.Now().Add(-time.Second),
	}))

	sender.waitFor(t, 1, time.Second)
}
