// Package transport carries LoRa frames between radio front-ends (or
// their simulators) and the network controller. The sending and the
// receiving capability are split so that components needing only one
// direction depend only on that one.
package transport

import (
	"context"
	"errors"
	"math"
	"net"
	"time"
)

// ErrMissingDownlink is returned by a receive that timed out with
// nothing to deliver.
var ErrMissingDownlink = errors.New("transport: missing downlink")

// Sender emits a raw frame. The optional addr routes the frame on
// transports that need a destination (e.g. answering over UDP).
type Sender interface {
	Send(ctx context.Context, payload []byte, addr *net.UDPAddr) error
}

// Receiver yields the transmissions that arrived. A zero timeout blocks
// until something arrives; a positive timeout that elapses first yields
// ErrMissingDownlink.
type Receiver interface {
	Receive(ctx context.Context, timeout time.Duration) ([]ReceivedTransmission, error)
}

// CodeRate enumerates the LoRa forward-error-correction rates.
type CodeRate string

// Supported code rates.
const (
	CR4_5 CodeRate = "CR4_5"
	CR4_6 CodeRate = "CR4_6"
	CR5_7 CodeRate = "CR5_7"
	CR4_8 CodeRate = "CR4_8"
)

// denominator returns the number of total bits per 4 data bits.
func (c CodeRate) denominator() int {
	switch c {
	case CR4_6:
		return 6
	case CR5_7:
		return 7
	case CR4_8:
		return 8
	default:
		return 5
	}
}

// SpreadingFactor is the LoRa spreading factor, 7 to 12. Out-of-range
// values are clamped.
type SpreadingFactor uint8

// NewSpreadingFactor clamps sf into the 7 - 12 range.
func NewSpreadingFactor(sf uint8) SpreadingFactor {
	if sf < 7 {
		return 7
	}
	if sf > 12 {
		return 12
	}
	return SpreadingFactor(sf)
}

// Bandwidth is the LoRa channel bandwidth in Hz.
type Bandwidth uint32

// Supported bandwidths.
const (
	BW125 Bandwidth = 125_000
	BW250 Bandwidth = 250_000
	BW500 Bandwidth = 500_000
)

// KHz returns the bandwidth in kHz.
func (b Bandwidth) KHz() float64 {
	return float64(b) / 1000.0
}

// Position locates a simulated antenna in space.
type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Distance returns the euclidean distance between two positions.
func (p Position) Distance(other Position) float64 {
	dx := float64(p.X - other.X)
	dy := float64(p.Y - other.Y)
	dz := float64(p.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Transmission is a frame together with the PHY parameters it travels
// with. The same envelope serves uplinks and downlinks; Uplink tells the
// direction.
type Transmission struct {
	Payload         []byte          `json:"payload"`
	Frequency       uint32          `json:"frequency"`
	Bandwidth       Bandwidth       `json:"bandwidth"`
	SpreadingFactor SpreadingFactor `json:"spreading_factor"`
	CodeRate        CodeRate        `json:"code_rate"`
	Uplink          bool            `json:"uplink"`
	StartTime       uint64          `json:"start_time"` // ms since the unix epoch
	StartPosition   Position        `json:"start_position"`
	StartingPower   float32         `json:"starting_power"`
}

// ArrivalStats describes how a transmission was received.
type ArrivalStats struct {
	Time uint64  `json:"time"` // ms since the unix epoch
	RSSI float32 `json:"rssi"`
	SNR  float32 `json:"snr"`
}

// ReceivedTransmission pairs a transmission with its arrival statistics.
type ReceivedTransmission struct {
	Transmission Transmission `json:"transmission"`
	ArrivalStats ArrivalStats `json:"arrival_stats"`
}

// TimeOnAir estimates the air time of the transmission. Preamble length
// is the 8 symbol LoRaWAN default; low data-rate optimization is applied
// for BW125 with SF11 and SF12.
func (t Transmission) TimeOnAir() time.Duration {
	sf := int(NewSpreadingFactor(uint8(t.SpreadingFactor)))
	bw := t.Bandwidth
	if bw == 0 {
		bw = BW125
	}

	dataRateOptimization := 0
	if bw == BW125 && sf >= 11 {
		dataRateOptimization = 1
	}

	const nPreamble = 8.0
	tSym := math.Pow(2, float64(sf)) / bw.KHz() // ms
	tPreamble := (nPreamble + 4.25) * tSym

	cr := t.CodeRate.denominator() - 4

	numerator := 8*len(t.Payload) - 4*sf + 44
	denominator := 4 * (sf - 2*dataRateOptimization)
	v := numerator / denominator * (cr + 4)
	if v < 0 {
		v = 0
	}
	payloadSymbNb := 8 + v

	tPayload := float64(payloadSymbNb) * tSym
	return time.Duration((tPreamble + tPayload) * float64(time.Millisecond))
}

// Ended reports whether the transmission is over at the given instant.
func (t Transmission) Ended(now time.Time) bool {
	end := time.UnixMilli(int64(t.StartTime)).Add(t.TimeOnAir())
	return now.After(end)
}
