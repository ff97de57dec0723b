package consensus

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RoundState tracks the phase of a consensus round.
type RoundState int

// Round phases. A round starts accumulating disseminations, moves to
// accumulating sets once every authorized peer announced its reception,
// and ends when every peer's set arrived.
const (
	ReceivingDisseminations RoundState = iota
	ReceivingSets
	End
)

// round is one per-DevAddr consensus instance. The table lock only guards
// the map; each round carries its own mutex so independent devices never
// contend.
type round struct {
	mu sync.Mutex

	startedAt    time.Time
	state        RoundState
	ncList       []string
	packet       []byte
	rssi         int32
	ncSet        map[string]int32
	receivedSets []string

	done  chan bool
	fired bool
}

// fire resolves the round's back-channel exactly once.
func (r *round) fire(winner bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired {
		return
	}
	r.fired = true
	r.done <- winner
}

func (r *round) inList(id string) bool {
	for _, nc := range r.ncList {
		if nc == id {
			return true
		}
	}
	return false
}

func (r *round) inReceivedSets(id string) bool {
	for _, nc := range r.receivedSets {
		if nc == id {
			return true
		}
	}
	return false
}

// Config holds the engine configuration.
type Config struct {
	// ID is this controller's identity; it must equal the CommonName of
	// its TLS certificate.
	ID string

	// ListenAddr is the address the peer RPC server binds to.
	ListenAddr string

	// CACert, TLSCert and TLSKey are the paths of the shared CA and of
	// this peer's certificate and key.
	CACert  string
	TLSCert string
	TLSKey  string

	// RPCTimeout bounds a single peer RPC (default 300 ms).
	RPCTimeout time.Duration

	// RoundTimeout bounds a whole round; on expiry the submitter is
	// resolved with a lost verdict (default 600 ms).
	RoundTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RPCTimeout == 0 {
		c.RPCTimeout = 300 * time.Millisecond
	}
	if c.RoundTimeout == 0 {
		c.RoundTimeout = 600 * time.Millisecond
	}
	return c
}

// peerTransport sends the two round RPCs to a peer. The production
// implementation speaks JSON over mutually-authenticated HTTPS.
type peerTransport interface {
	BroadcastReception(ctx context.Context, peerID string, req BroadcastReceptionRequest) (*BroadcastReceptionRequest, error)
	BroadcastNcSet(ctx context.Context, peerID string, req BroadcastNcSetRequest) (*BroadcastNcSetRequest, error)
}

// Engine runs the uplink-deduplication consensus rounds of one network
// controller.
type Engine struct {
	cfg       Config
	transport peerTransport

	mu     sync.RWMutex
	rounds map[string]*round
}

// NewEngine creates an engine using the HTTPS peer transport.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		rounds: make(map[string]*round),
	}
	e.transport = &httpsTransport{cfg: cfg}
	return e
}

// newEngineWithTransport is the test seam for in-memory peer wiring.
func newEngineWithTransport(cfg Config, t peerTransport) *Engine {
	e := NewEngine(cfg)
	e.transport = t
	return e
}

// ID returns the engine's identity.
func (e *Engine) ID() string {
	return e.cfg.ID
}

// SubmitReception opens the consensus round for a locally received uplink
// and returns the channel that resolves with the winner verdict: true iff
// this controller must forward the uplink. Only one round per DevAddr may
// be in flight.
func (e *Engine) SubmitReception(ctx context.Context, ncList []string, devAddr string, packet []byte, rssi int32) (<-chan bool, error) {
	r := &round{
		startedAt:    time.Now(),
		state:        ReceivingDisseminations,
		ncList:       append([]string{}, ncList...),
		packet:       append([]byte{}, packet...),
		rssi:         rssi,
		ncSet:        map[string]int32{e.cfg.ID: 1},
		receivedSets: []string{e.cfg.ID},
		done:         make(chan bool, 1),
	}

	e.mu.Lock()
	if _, ok := e.rounds[devAddr]; ok {
		e.mu.Unlock()
		return nil, ErrRoundExists
	}
	e.rounds[devAddr] = r
	e.mu.Unlock()

	// a round whose peer list is only this node is already complete
	if len(r.ncList) <= 1 {
		e.removeRound(devAddr, r)
		r.fire(winnerOf(r.ncList, r.ncSet, r.packet) == e.cfg.ID)
		return r.done, nil
	}

	// a round that cannot complete resolves as lost and leaves the table
	time.AfterFunc(e.cfg.RoundTimeout, func() {
		if e.removeRound(devAddr, r) {
			log.WithFields(log.Fields{
				"nc_id":    e.cfg.ID,
				"dev_addr": devAddr,
			}).Warning("consensus: round timed out")
			r.fire(false)
		}
	})

	go e.broadcastReceptions(ctx, devAddr, r)

	return r.done, nil
}

// removeRound removes the round from the table iff it is still the one
// given; it reports whether a removal happened.
func (e *Engine) removeRound(devAddr string, r *round) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.rounds[devAddr]; ok && cur == r {
		delete(e.rounds, devAddr)
		return true
	}
	return false
}

func (e *Engine) lookupRound(devAddr string) (*round, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rounds[devAddr]
	return r, ok
}

// RoundCount returns the number of in-flight rounds.
func (e *Engine) RoundCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rounds)
}

// broadcastReceptions announces the local reception to every other peer
// and feeds their answers back into the local handler. Transport errors
// are logged and do not abort the round.
func (e *Engine) broadcastReceptions(ctx context.Context, devAddr string, r *round) {
	req := BroadcastReceptionRequest{
		DevAddr: devAddr,
		Hash:    DisseminationHash(r.packet, r.rssi),
		RSSI:    r.rssi,
	}

	for _, nc := range r.ncList {
		if nc == e.cfg.ID {
			continue
		}

		rpcCtx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout)
		answer, err := e.transport.BroadcastReception(rpcCtx, nc, req)
		cancel()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"nc_id":    e.cfg.ID,
				"peer":     nc,
				"dev_addr": devAddr,
			}).Warning("consensus: broadcast reception failed")
			continue
		}
		if answer != nil {
			if _, err := e.HandleReception(nc, *answer); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"nc_id": e.cfg.ID,
					"peer":  nc,
				}).Debug("consensus: reception answer rejected")
			}
		}
	}
}

// HandleReception processes a peer's dissemination for a round. It
// returns this node's own dissemination as the answer, or a nil answer
// when the peer was already accounted for.
func (e *Engine) HandleReception(src string, req BroadcastReceptionRequest) (*BroadcastReceptionRequest, error) {
	r, ok := e.lookupRound(req.DevAddr)
	if !ok {
		return nil, ErrNoRound
	}

	r.mu.Lock()
	if _, present := r.ncSet[src]; present {
		r.mu.Unlock()
		return nil, nil
	}
	if r.state != ReceivingDisseminations {
		r.mu.Unlock()
		return nil, ErrWrongState
	}
	if len(req.Hash) != 32 {
		r.mu.Unlock()
		return nil, ErrInvalidHashLength
	}
	if expected := DisseminationHash(r.packet, req.RSSI); string(expected) != string(req.Hash) {
		r.mu.Unlock()
		return nil, ErrInvalidHash
	}
	if !r.inList(src) {
		r.mu.Unlock()
		return nil, ErrNotPartOfRound
	}

	r.ncSet[src] = 1

	answer := &BroadcastReceptionRequest{
		DevAddr: req.DevAddr,
		Hash:    DisseminationHash(r.packet, r.rssi),
		RSSI:    r.rssi,
	}

	full := len(r.ncSet) == len(r.ncList)
	var snapshot map[string]int32
	if full {
		r.state = ReceivingSets
		snapshot = copySet(r.ncSet)
	}
	r.mu.Unlock()

	if full {
		go e.broadcastSets(context.Background(), req.DevAddr, r, snapshot)
	}
	return answer, nil
}

// broadcastSets shares the local set with every other peer once the
// dissemination phase completed.
func (e *Engine) broadcastSets(ctx context.Context, devAddr string, r *round, set map[string]int32) {
	req := BroadcastNcSetRequest{DevAddr: devAddr, Set: set}

	for _, nc := range r.ncList {
		if nc == e.cfg.ID {
			continue
		}

		rpcCtx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout)
		answer, err := e.transport.BroadcastNcSet(rpcCtx, nc, req)
		cancel()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"nc_id":    e.cfg.ID,
				"peer":     nc,
				"dev_addr": devAddr,
			}).Warning("consensus: broadcast set failed")
			continue
		}
		if answer != nil {
			if _, err := e.HandleNcSet(nc, *answer); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"nc_id": e.cfg.ID,
					"peer":  nc,
				}).Debug("consensus: set answer rejected")
			}
		}
	}
}

// HandleNcSet merges a peer's set into the round. It returns this node's
// own set as the answer, or a nil answer when the peer's set was already
// merged. When the last expected set arrives the round ends: the winner
// is computed, the submitter woken and the round removed.
func (e *Engine) HandleNcSet(src string, req BroadcastNcSetRequest) (*BroadcastNcSetRequest, error) {
	r, ok := e.lookupRound(req.DevAddr)
	if !ok {
		return nil, ErrNoRound
	}

	r.mu.Lock()
	if r.state != ReceivingSets {
		r.mu.Unlock()
		return nil, ErrWrongState
	}
	if !r.inList(src) {
		r.mu.Unlock()
		return nil, ErrNotPartOfRound
	}
	if r.inReceivedSets(src) {
		r.mu.Unlock()
		return nil, nil
	}
	for nc := range req.Set {
		if !r.inList(nc) {
			r.mu.Unlock()
			return nil, ErrNotPartOfRound
		}
	}

	for nc := range req.Set {
		if _, ok := r.ncSet[nc]; ok {
			r.ncSet[nc]++
		}
	}
	r.receivedSets = append(r.receivedSets, src)

	answer := &BroadcastNcSetRequest{
		DevAddr: req.DevAddr,
		Set:     copySet(r.ncSet),
	}

	ended := len(r.receivedSets) == len(r.ncList)
	var winner string
	if ended {
		r.state = End
		winner = winnerOf(r.ncList, r.ncSet, r.packet)
	}
	r.mu.Unlock()

	if ended {
		e.removeRound(req.DevAddr, r)
		log.WithFields(log.Fields{
			"nc_id":    e.cfg.ID,
			"dev_addr": req.DevAddr,
			"winner":   winner,
		}).Info("consensus: round ended")
		r.fire(winner == e.cfg.ID)
	}
	return answer, nil
}

// winnerOf selects the round winner: the sorted list of peers whose vote
// count exceeds 0.66 * |ncList|, indexed by the packet MIC read as a
// little-endian uint32. Tying the index to the MIC keeps the selection
// out of reach of peers that cannot forge the MIC.
func winnerOf(ncList []string, ncSet map[string]int32, packet []byte) string {
	if len(packet) < 4 {
		return ""
	}

	threshold := 0.66 * float64(len(ncList))
	var valid []string
	for nc, votes := range ncSet {
		if float64(votes) > threshold {
			valid = append(valid, nc)
		}
	}
	if len(valid) == 0 {
		return ""
	}
	sort.Strings(valid)

	n := binary.LittleEndian.Uint32(packet[len(packet)-4:])
	return valid[int(n)%len(valid)]
}

func copySet(set map[string]int32) map[string]int32 {
	out := make(map[string]int32, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}
