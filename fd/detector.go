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

// Package fd implements a family of failure detectors: an active ping-ack
// prober and four heartbeat variants, plus a gossip decorator that layers
// suspect-set propagation atop any of them.
package fd

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

// OnFailure is invoked exactly once per healthy-to-suspected transition
// found by a detector's own failure detection. Recovery never fires it, and
// neither do suspects injected through AddSuspects.
type OnFailure func(endpoint.Endpoint)

// LearnNeighbor is called by ReceiveMessage with any sender that was not
// already a known neighbor, before the message is otherwise handled.
type LearnNeighbor func(endpoint.Endpoint)

// Detector is the common capability set every failure-detector algorithm
// implements: initialize, run its periodic workflows, consume messages of
// its own kinds, track neighbors, and report suspects.
type Detector interface {
	// Initialize wires in the transport and the starting neighbor set and
	// prepares per-peer health records. onFailure is called on every
	// healthy-to-suspected transition the detector itself finds (not for
	// suspects added through AddSuspects).
	Initialize(self endpoint.Endpoint, tr transport.Transport, neighbors []endpoint.Endpoint, onFailure OnFailure)

	// DetectFailures spawns the detector's periodic background workflows
	// and returns immediately; the workflows run until ctx is canceled.
	DetectFailures(ctx context.Context)

	// ReceiveMessage tries to consume msg as one of this detector's own
	// wire kinds. It reports whether it did. learnNeighbor is invoked with
	// sender if sender was not already known, before msg is handled.
	ReceiveMessage(msg wire.Message, sender endpoint.Endpoint, learnNeighbor LearnNeighbor) bool

	// AddNeighbor introduces a new peer, idempotently, and initializes its
	// health record.
	AddNeighbor(n endpoint.Endpoint)

	// AddSuspects bulk-injects suspects (used by the gossip decorator).
	// self is always excluded; already-present suspects are ignored.
	AddSuspects(list []endpoint.Endpoint)

	// GetSuspectedList returns a snapshot of the current suspect set.
	GetSuspectedList() []endpoint.Endpoint
}

func send(tr transport.Transport, self, to endpoint.Endpoint, msg wire.Message) {
	b, err := wire.Encode(self, msg)
	if err != nil {
		// Encoding failures are a local bug, not a transport-transient
		// condition; there is nothing useful to retry, so we only log.
		log.Errorf("fd: encoding %s for %s: %v", msg.Kind(), to, err)
		return
	}
	tr.Send(b, to)
}
