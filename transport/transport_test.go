package transport

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeJSON(t *testing.T) {
	rt := ReceivedTransmission{
		Transmission: Transmission{
			Payload:         []byte{0x40, 0x01, 0x02},
			Frequency:       868_100_000,
			Bandwidth:       BW125,
			SpreadingFactor: 7,
			CodeRate:        CR4_5,
			Uplink:          true,
			StartTime:       1700000000000,
			StartPosition:   Position{X: 1, Y: 2, Z: 3},
			StartingPower:   14,
		},
		ArrivalStats: ArrivalStats{Time: 1700000000123, RSSI: -97.5, SNR: 9.25},
	}

	b, err := json.Marshal(rt)
	require.NoError(t, err)

	// the carrier field names are part of the wire contract
	for _, field := range []string{
		`"payload"`, `"frequency"`, `"bandwidth"`, `"spreading_factor"`,
		`"code_rate"`, `"uplink"`, `"start_time"`, `"start_position"`,
		`"starting_power"`, `"arrival_stats"`, `"rssi"`, `"snr"`,
	} {
		require.Contains(t, string(b), field)
	}

	var out ReceivedTransmission
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, rt, out)
}

func TestUDPSendReceive(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	sender := NewUDPSender(clientConn)
	receiver := NewUDPReceiver(serverConn)

	sent := Transmission{
		Payload:         []byte{0x00, 0x01, 0x02, 0x03},
		Frequency:       868_100_000,
		Bandwidth:       BW125,
		SpreadingFactor: 7,
		CodeRate:        CR4_5,
		Uplink:          true,
	}

	require.NoError(t, SendTransmission(context.Background(), sender, sent, nil))

	got, addr, err := receiver.ReceiveFrom(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, addr)
	require.Len(t, got, 1)
	// a raw Transmission datagram decodes with zeroed arrival stats
	require.Equal(t, sent.Payload, got[0].Transmission.Payload)

	t.Run("timeout surfaces ErrMissingDownlink", func(t *testing.T) {
		_, err := receiver.Receive(context.Background(), 20*time.Millisecond)
		require.ErrorIs(t, err, ErrMissingDownlink)
	})

	t.Run("undecodable datagrams are skipped", func(t *testing.T) {
		_, err := clientConn.Write([]byte("not json"))
		require.NoError(t, err)

		require.NoError(t, SendTransmission(context.Background(), sender, sent, nil))

		got, err := receiver.Receive(context.Background(), time.Second)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})
}

func TestTimeOnAir(t *testing.T) {
	base := Transmission{
		Payload:         make([]byte, 23),
		Bandwidth:       BW125,
		SpreadingFactor: 7,
		CodeRate:        CR4_5,
	}

	toa := base.TimeOnAir()
	require.Greater(t, toa, 30*time.Millisecond)
	require.Less(t, toa, 120*time.Millisecond)

	t.Run("slower spreading factors stay longer on air", func(t *testing.T) {
		slow := base
		slow.SpreadingFactor = 12
		require.Greater(t, slow.TimeOnAir(), 4*toa)
	})

	t.Run("larger payloads stay longer on air", func(t *testing.T) {
		big := base
		big.Payload = make([]byte, 200)
		require.Greater(t, big.TimeOnAir(), toa)
	})

	t.Run("ended transmissions are reported", func(t *testing.T) {
		done := base
		done.StartTime = uint64(time.Now().Add(-time.Minute).UnixMilli())
		require.True(t, done.Ended(time.Now()))

		ongoing := base
		ongoing.StartTime = uint64(time.Now().Add(time.Minute).UnixMilli())
		require.False(t, ongoing.Ended(time.Now()))
	})
}
