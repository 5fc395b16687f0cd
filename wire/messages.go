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

// Package wire defines the on-the-wire message kinds exchanged between
// nodes and the self-describing codec used to (de)serialize them.
//
// Every concrete message implements Kind, which names the message for the
// envelope's type tag; downstream code recovers the concrete type with a
// type switch on the value Decode returns, never past the codec boundary.
package wire

import "github.com/facebookincubator/p2pfd/endpoint"

// Message is the marker interface implemented by every wire message.
type Message interface {
	Kind() string
}

// Failure-detector message kinds.
const (
	KindPing        = "Ping"
	KindAck         = "Ack"
	KindHeartbeat   = "Heartbeat"
	KindSuspectList = "SendSuspectedList"
)

// Consensus message kinds (Chandra-Toueg rotating-coordinator protocol).
const (
	KindPreference            = "Preference"
	KindCoordinatorPreference = "CoordinatorPreference"
	KindPositiveAck           = "PositiveAck"
	KindNegativeAck           = "NegativeAck"
	KindDecide                = "Decide"
	KindRequestConsensus      = "RequestConsensus"
)

// Ping is the ping-ack detector's active probe.
type Ping struct {
	MessageID string `json:"messageId"`
}

// Kind implements Message.
func (Ping) Kind() string { return KindPing }

// Ack answers a Ping, echoing its MessageID in InResponse.
type Ack struct {
	MessageID  string `json:"messageId"`
	InResponse string `json:"inResponse"`
}

// Kind implements Message.
func (Ack) Kind() string { return KindAck }

// Heartbeat is the passive "I am alive" message sent by every heartbeat
// detector variant. It carries no payload; arrival time is what matters.
type Heartbeat struct{}

// Kind implements Message.
func (Heartbeat) Kind() string { return KindHeartbeat }

// SuspectList is the gossip decorator's periodic suspect-set broadcast.
type SuspectList struct {
	Suspects []endpoint.Endpoint `json:"suspects"`
}

// Kind implements Message.
func (SuspectList) Kind() string { return KindSuspectList }

// Preference is a node's candidate value proposed to a round's coordinator.
// TimestampUnixMilli breaks ties across processes; it is wall-clock UTC,
// not monotonic, so the same instant compares equal across processes that
// propose independently.
type Preference struct {
	Round              int    `json:"round"`
	Preference         string `json:"preference"`
	TimestampUnixMilli int64  `json:"timestamp"`
}

// Kind implements Message.
func (Preference) Kind() string { return KindPreference }

// CoordinatorPreference is the coordinator's chosen winner for a round.
type CoordinatorPreference struct {
	Round      int    `json:"round"`
	Preference string `json:"preference"`
}

// Kind implements Message.
func (CoordinatorPreference) Kind() string { return KindCoordinatorPreference }

// PositiveAck acknowledges a CoordinatorPreference.
type PositiveAck struct {
	Round int `json:"round"`
}

// Kind implements Message.
func (PositiveAck) Kind() string { return KindPositiveAck }

// NegativeAck signals that the sender has given up on the round's
// coordinator (usually because a failure detector convicted it).
type NegativeAck struct {
	Round int `json:"round"`
}

// Kind implements Message.
func (NegativeAck) Kind() string { return KindNegativeAck }

// Decide announces the agreed value. Preference carries only the decided
// value, never the whole Preference record, so a follower can't mistake a
// re-broadcast decision for a fresh proposal.
type Decide struct {
	Preference string `json:"preference"`
}

// Kind implements Message.
func (Decide) Kind() string { return KindDecide }

// RequestConsensus asks the receiving node to (re)start a consensus round.
type RequestConsensus struct {
	Round int `json:"round"`
}

// Kind implements Message.
func (RequestConsensus) Kind() string { return KindRequestConsensus }

// registry maps a wire type tag to a constructor for its zero value, so
// Decode can materialize the right concrete type before unmarshaling the
// payload into it.
var registry = map[string]func() Message{
	KindPing:                  func() Message { return &Ping{} },
	KindAck:                   func() Message { return &Ack{} },
	KindHeartbeat:             func() Message { return &Heartbeat{} },
	KindSuspectList:           func() Message { return &SuspectList{} },
	KindPreference:            func() Message { return &Preference{} },
	KindCoordinatorPreference: func() Message { return &CoordinatorPreference{} },
	KindPositiveAck:           func() Message { return &PositiveAck{} },
	KindNegativeAck:           func() Message { return &NegativeAck{} },
	KindDecide:                func() Message { return &Decide{} },
	KindRequestConsensus:      func() Message { return &RequestConsensus{} },
}
