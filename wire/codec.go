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

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/facebookincubator/p2pfd/endpoint"
)

// ProtocolVersion is the handshake tag carried on every envelope (SPEC_FULL
// S3.1). Bump the minor component for wire-compatible additions.
const ProtocolVersion = "1.0.0"

// envelope is the self-describing frame put on the wire: a type tag plus
// the concrete message, encoded as a nested JSON value so the receiver can
// discriminate kind before attempting to unmarshal the payload.
type envelope struct {
	Kind     string          `json:"kind"`
	Sender   endpoint.Endpoint `json:"sender"`
	Version  string          `json:"version"`
	Payload  json.RawMessage `json:"payload"`
}

// Encode serializes msg, tagging it with sender's address and the local
// protocol version so the receiver can learn the sender and discriminate
// the concrete kind on decode.
func Encode(sender endpoint.Endpoint, msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding %s payload: %w", msg.Kind(), err)
	}
	env := envelope{
		Kind:    msg.Kind(),
		Sender:  sender,
		Version: ProtocolVersion,
		Payload: payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding envelope: %w", err)
	}
	return b, nil
}

// Decode recovers the concrete Message, the sender's endpoint, and the
// sender's protocol version from an encoded frame. The returned Message is
// always a pointer to one of this package's concrete types; callers
// recover the concrete kind with a type switch.
func Decode(b []byte) (msg Message, sender endpoint.Endpoint, version string, err error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, endpoint.Endpoint{}, "", fmt.Errorf("wire: decoding envelope: %w", err)
	}
	factory, ok := registry[env.Kind]
	if !ok {
		return nil, endpoint.Endpoint{}, "", fmt.Errorf("wire: unknown message kind %q", env.Kind)
	}
	out := factory()
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return nil, endpoint.Endpoint{}, "", fmt.Errorf("wire: decoding %s payload: %w", env.Kind, err)
	}
	return out, env.Sender, env.Version, nil
}
