package transport

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// UDPSender emits JSON-encoded transmissions over a shared UDP socket.
type UDPSender struct {
	conn *net.UDPConn
}

// NewUDPSender wraps an existing socket.
func NewUDPSender(conn *net.UDPConn) *UDPSender {
	return &UDPSender{conn: conn}
}

// Send implements Sender. With an addr the payload goes to that peer;
// without one it goes to the socket's connected remote.
func (s *UDPSender) Send(ctx context.Context, payload []byte, addr *net.UDPAddr) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetWriteDeadline(deadline); err != nil {
			return errors.Wrap(err, "set write deadline error")
		}
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	var err error
	if addr != nil {
		_, err = s.conn.WriteToUDP(payload, addr)
	} else {
		_, err = s.conn.Write(payload)
	}
	return errors.Wrap(err, "udp write error")
}

// UDPReceiver yields the JSON-encoded transmissions arriving on a UDP
// socket.
type UDPReceiver struct {
	conn *net.UDPConn
}

// NewUDPReceiver wraps an existing socket.
func NewUDPReceiver(conn *net.UDPConn) *UDPReceiver {
	return &UDPReceiver{conn: conn}
}

// Receive implements Receiver. Each datagram carries one
// ReceivedTransmission; undecodable datagrams are logged and skipped.
// The source address is dropped; ReceiveFrom returns it.
func (r *UDPReceiver) Receive(ctx context.Context, timeout time.Duration) ([]ReceivedTransmission, error) {
	transmissions, _, err := r.ReceiveFrom(ctx, timeout)
	return transmissions, err
}

// ReceiveFrom is Receive plus the datagram source address.
func (r *UDPReceiver) ReceiveFrom(ctx context.Context, timeout time.Duration) ([]ReceivedTransmission, *net.UDPAddr, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, errors.Wrap(err, "set read deadline error")
	}

	buf := make([]byte, 2048)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return nil, nil, ErrMissingDownlink
			}
			return nil, nil, errors.Wrap(err, "udp read error")
		}

		t, err := decodeEnvelope(buf[:n])
		if err != nil {
			log.WithError(err).WithField("src", addr).Warning("transport: dropping undecodable datagram")
			continue
		}
		return []ReceivedTransmission{t}, addr, nil
	}
}

// decodeEnvelope accepts both envelope forms: a full
// ReceivedTransmission and a bare Transmission (downlinks carry no
// arrival statistics).
func decodeEnvelope(b []byte) (ReceivedTransmission, error) {
	var rt ReceivedTransmission
	if err := json.Unmarshal(b, &rt); err != nil {
		return rt, errors.Wrap(err, "unmarshal envelope error")
	}
	if len(rt.Transmission.Payload) > 0 {
		return rt, nil
	}

	var t Transmission
	if err := json.Unmarshal(b, &t); err != nil {
		return rt, errors.Wrap(err, "unmarshal envelope error")
	}
	if len(t.Payload) == 0 {
		return rt, errors.New("empty payload")
	}
	return ReceivedTransmission{Transmission: t}, nil
}

// SendTransmission JSON-encodes a transmission and sends it.
func SendTransmission(ctx context.Context, s Sender, t Transmission, addr *net.UDPAddr) error {
	b, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal transmission error")
	}
	return s.Send(ctx, b, addr)
}
