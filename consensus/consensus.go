/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package consensus implements the rotating-coordinator Chandra-Toueg
// consensus algorithm: N nodes propose a value, the round's coordinator
// collects a quorum of preferences and picks the newest, and a second
// quorum round confirms the decision. The detector package's
// eventually-strong failure detection is what lets a round with a dead
// coordinator be abandoned in bounded time.
package consensus

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

// Clock abstracts wall-clock time so tests can control the timestamp used
// to break ties between preferences. This is deliberately wall-clock, not
// monotonic, because clock skew is part of the protocol's tie-break
// contract.
type Clock func() time.Time

// OnDecide is invoked exactly once per consensus instance, the first time
// this node learns the agreed value, whether as coordinator or follower.
type OnDecide func(value string)

// Engine runs Chandra-Toueg consensus against a membership that grows via
// AddNeighbor. After a Decide (or a quorum of NegativeAcks),
// resetStateLocked returns round bookkeeping to round 0 without touching
// membership, so the next StartConsensus begins a fresh instance at round 1
// on the same Engine.
type Engine struct {
	self     endpoint.Endpoint
	tr       transport.Transport
	clock    Clock
	onDecide OnDecide

	mu       sync.Mutex
	members  []endpoint.Endpoint // sortAsc(neighbors U {self}), recomputed on AddNeighbor
	neighbor *endpoint.Set

	round    int
	value    string
	decision string

	receivedPreference  map[int][]wire.Preference
	receivedPositiveAck map[int]int
	receivedNegativeAck map[int]int

	// broadcastCoordinatorPref/broadcastDecide guard against re-broadcasting
	// once a round has already crossed quorum, since duplicate or delayed
	// messages keep arriving after the threshold.
	broadcastCoordinatorPref map[int]bool
	broadcastDecide          map[int]bool
}

// New constructs an Engine for self among neighbors, proposing value.
// onDecide may be nil.
func New(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, value string, onDecide OnDecide) *Engine {
	e := &Engine{
		self:     self,
		tr:       tr,
		clock:    time.Now,
		onDecide: onDecide,
		value:    value,
		neighbor: endpoint.NewSet(self, neighbors...),
	}
	e.recomputeMembersLocked()
	e.resetStateLocked()
	return e
}

// SetClock overrides the wall-clock source; intended for tests only.
func (e *Engine) SetClock(c Clock) {
	e.mu.Lock()
	e.clock = c
	e.mu.Unlock()
}

func (e *Engine) recomputeMembersLocked() {
	all := append([]endpoint.Endpoint{e.self}, e.neighbor.List()...)
	e.members = endpoint.SortAsc(all)
}

func (e *Engine) resetStateLocked() {
	e.round = 0
	e.receivedPreference = map[int][]wire.Preference{}
	e.receivedPositiveAck = map[int]int{}
	e.receivedNegativeAck = map[int]int{}
	e.broadcastCoordinatorPref = map[int]bool{}
	e.broadcastDecide = map[int]bool{}
}

// AddNeighbor grows the membership used by future rounds. It does not
// affect a round already in flight.
func (e *Engine) AddNeighbor(n endpoint.Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.neighbor.Add(e.self, n) {
		e.recomputeMembersLocked()
	}
}

// quorum returns Q = floor(N/2)+1 for the current membership.
func (e *Engine) quorumLocked() int {
	n := len(e.members)
	return n/2 + 1
}

// coordinatorLocked returns coordinator(r) = members[r mod N].
func (e *Engine) coordinatorLocked(round int) endpoint.Endpoint {
	n := len(e.members)
	return e.members[((round%n)+n)%n]
}

// Value returns the most recently decided or proposed value.
func (e *Engine) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Round returns the current round number (0 means idle).
func (e *Engine) Round() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// StartConsensus advances to the next round and proposes the current value
// to that round's coordinator.
func (e *Engine) StartConsensus() {
	e.mu.Lock()
	e.round++
	pref := wire.Preference{Round: e.round, Preference: e.value, TimestampUnixMilli: e.clock().UnixMilli()}
	coord := e.coordinatorLocked(e.round)
	self, tr := e.self, e.tr
	e.mu.Unlock()

	log.Debugf("consensus: round %d starting, proposing %q to coordinator %s", pref.Round, pref.Preference, coord)
	if coord == self {
		e.handlePreference(pref, self)
		return
	}
	sendTo(tr, self, coord, pref)
}

// OnFailureDetected is wired to the node's failure detector: if the
// current round's coordinator is the endpoint that just went suspected,
// abandon the round and start the next one.
func (e *Engine) OnFailureDetected(n endpoint.Endpoint) {
	e.mu.Lock()
	round := e.round
	coord := e.coordinatorLocked(round)
	self, tr := e.self, e.tr
	e.mu.Unlock()

	if round == 0 || coord != n {
		return
	}
	// Best-effort: n is believed dead, but NegativeAck is idempotent on
	// the receiving end, so sending it anyway costs nothing.
	sendTo(tr, self, n, wire.NegativeAck{Round: round})
	e.StartConsensus()
}

// ReceiveMessage dispatches msg to the matching consensus handler. It
// reports whether msg was one of this engine's own kinds.
func (e *Engine) ReceiveMessage(msg wire.Message, sender endpoint.Endpoint) bool {
	switch m := msg.(type) {
	case *wire.Preference:
		e.handlePreference(*m, sender)
	case *wire.CoordinatorPreference:
		e.handleCoordinatorPreference(*m, sender)
	case *wire.PositiveAck:
		e.handlePositiveAck(*m, sender)
	case *wire.NegativeAck:
		e.handleNegativeAck(*m, sender)
	case *wire.Decide:
		e.handleDecide(*m)
	case *wire.RequestConsensus:
		e.StartConsensus()
	default:
		return false
	}
	return true
}

// handlePreference runs on whichever node is round(msg.Round)'s
// coordinator; it collects preferences until a quorum has voted, then
// picks the one with the latest timestamp.
func (e *Engine) handlePreference(p wire.Preference, sender endpoint.Endpoint) {
	e.mu.Lock()
	e.receivedPreference[p.Round] = append(e.receivedPreference[p.Round], p)
	q := e.quorumLocked()
	votes := e.receivedPreference[p.Round]
	if len(votes) < q || e.broadcastCoordinatorPref[p.Round] {
		e.mu.Unlock()
		return
	}
	e.broadcastCoordinatorPref[p.Round] = true
	winner := latestByTimestamp(votes)
	targets := e.neighbor.List()
	self, tr, round := e.self, e.tr, p.Round
	e.mu.Unlock()

	cp := wire.CoordinatorPreference{Round: round, Preference: winner}
	log.Debugf("consensus: round %d quorum reached, coordinator picks %q", round, winner)
	for _, n := range targets {
		sendTo(tr, self, n, cp)
	}
	e.handleCoordinatorPreference(cp, self)
}

// handleCoordinatorPreference adopts the coordinator's chosen value as the
// tentative decision and acknowledges it back to the coordinator.
func (e *Engine) handleCoordinatorPreference(cp wire.CoordinatorPreference, _ endpoint.Endpoint) {
	e.mu.Lock()
	e.decision = cp.Preference
	coord := e.coordinatorLocked(cp.Round)
	self, tr := e.self, e.tr
	e.mu.Unlock()

	ack := wire.PositiveAck{Round: cp.Round}
	if coord == self {
		e.handlePositiveAck(ack, self)
		return
	}
	sendTo(tr, self, coord, ack)
}

// handlePositiveAck runs on the round's coordinator; once a quorum of
// acks has arrived, it broadcasts Decide carrying the inner preference
// value, never the whole Preference record.
func (e *Engine) handlePositiveAck(ack wire.PositiveAck, _ endpoint.Endpoint) {
	e.mu.Lock()
	e.receivedPositiveAck[ack.Round]++
	q := e.quorumLocked()
	count := e.receivedPositiveAck[ack.Round]
	if count < q || e.broadcastDecide[ack.Round] {
		e.mu.Unlock()
		return
	}
	e.broadcastDecide[ack.Round] = true
	votes := e.receivedPreference[ack.Round]
	winner := latestByTimestamp(votes)
	targets := e.neighbor.List()
	self, tr := e.self, e.tr
	e.mu.Unlock()

	decide := wire.Decide{Preference: winner}
	log.Debugf("consensus: round %d decided %q", ack.Round, winner)
	for _, n := range targets {
		sendTo(tr, self, n, decide)
	}
	e.handleDecide(decide)
}

// handleNegativeAck runs on any recipient; once a quorum of peers has
// given up on the current round's coordinator, state is cleared (but the
// decided Value, if any, is untouched) so a fresh StartConsensus can run.
func (e *Engine) handleNegativeAck(nack wire.NegativeAck, _ endpoint.Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receivedNegativeAck[nack.Round]++
	if e.receivedNegativeAck[nack.Round] < e.quorumLocked() {
		return
	}
	e.resetStateLocked()
}

// handleDecide commits msg.Preference as the agreed Value and clears all
// round bookkeeping. resetStateLocked resets Round to 0 deliberately: each
// consensus instance is independent of how many rounds it took.
func (e *Engine) handleDecide(msg wire.Decide) {
	e.mu.Lock()
	already := e.value == msg.Preference && e.round == 0
	e.value = msg.Preference
	e.resetStateLocked()
	cb := e.onDecide
	e.mu.Unlock()

	if !already && cb != nil {
		cb(msg.Preference)
	}
}

func latestByTimestamp(votes []wire.Preference) string {
	best := votes[0]
	for _, v := range votes[1:] {
		if v.TimestampUnixMilli > best.TimestampUnixMilli {
			best = v
		}
	}
	return best.Preference
}

func sendTo(tr transport.Transport, self, to endpoint.Endpoint, msg wire.Message) {
	b, err := wire.Encode(self, msg)
	if err != nil {
		log.Errorf("consensus: encoding %s for %s: %v", msg.Kind(), to, err)
		return
	}
	tr.Send(b, to)
}

// WarmUpAndStart waits delay then calls StartConsensus once, unless ctx is
// canceled first. It is meant to be launched in its own goroutine by the
// node package so every node gets a chance to learn its neighbors before
// the first round begins.
func (e *Engine) WarmUpAndStart(ctx context.Context, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		e.StartConsensus()
	}
}
