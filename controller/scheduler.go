package controller

import (
	"container/heap"
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DeLoRaN-Org/lorawan-backend/transport"
)

// Downlink is a transmission scheduled for a precise send instant.
type Downlink struct {
	Transmission transport.Transmission
	SendAt       time.Time
	Addr         *net.UDPAddr
}

// downlinkHeap orders downlinks by send instant.
type downlinkHeap []Downlink

func (h downlinkHeap) Len() int            { return len(h) }
func (h downlinkHeap) Less(i, j int) bool  { return h[i].SendAt.Before(h[j].SendAt) }
func (h downlinkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *downlinkHeap) Push(x interface{}) { *h = append(*h, x.(Downlink)) }
func (h *downlinkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// DownlinkScheduler owns a min-heap of pending downlinks drained by a
// single sender loop. Submissions arrive over a bounded channel: when
// the queue is full, submitters block.
type DownlinkScheduler struct {
	sender      transport.Sender
	submissions chan Downlink
}

// NewDownlinkScheduler creates a scheduler emitting through sender.
func NewDownlinkScheduler(sender transport.Sender) *DownlinkScheduler {
	return &DownlinkScheduler{
		sender:      sender,
		submissions: make(chan Downlink, 100),
	}
}

// Schedule queues a downlink. It blocks while the submission queue is
// full and fails only when the context ends first.
func (s *DownlinkScheduler) Schedule(ctx context.Context, d Downlink) error {
	select {
	case s.submissions <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the scheduler until the context ends. Downlinks are emitted
// in send-instant order, at most once each; each iteration waits for
// whichever fires first between the next submission and the timer armed
// on the heap's root.
func (s *DownlinkScheduler) Run(ctx context.Context) {
	var pending downlinkHeap
	heap.Init(&pending)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	rearm := func() {
		if armed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			armed = false
		}
		if len(pending) > 0 {
			timer.Reset(time.Until(pending[0].SendAt))
			armed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case d := <-s.submissions:
			heap.Push(&pending, d)
			rearm()

		case <-timer.C:
			armed = false
			if len(pending) == 0 {
				continue
			}
			d := heap.Pop(&pending).(Downlink)
			if err := transport.SendTransmission(ctx, s.sender, d.Transmission, d.Addr); err != nil {
				log.WithError(err).Error("controller: downlink send failed")
			}
			rearm()
		}
	}
}
