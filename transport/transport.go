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

// Package transport sends and receives opaque byte frames over a
// connectionless datagram or a length-prefixed stream socket. It never
// looks inside a frame; encoding and decoding is the wire package's job.
package transport

import (
	"context"

	"github.com/facebookincubator/p2pfd/endpoint"
)

// Process is called with the payload bytes of every inbound frame. It must
// not block for long: a slow Process starves no timers only because
// ReceiveLoop hands each frame to it without synchronous fan-out, but a
// Process that never returns will stall delivery of subsequent frames on
// the same connection.
type Process func(payload []byte)

// Transport sends typed-opaque byte payloads to a peer and runs a
// receive loop that hands inbound payloads to a Process callback.
//
// Send failures are logged and swallowed: detectors reason only about the
// absence of return traffic, never about a failed Send.
type Transport interface {
	// Send encodes nothing itself; payload is already wire-encoded bytes.
	// Errors are logged internally; Send never returns one to the caller.
	Send(payload []byte, to endpoint.Endpoint)

	// ReceiveLoop runs until ctx is canceled, passing every inbound
	// frame's payload to process. A decode or per-frame I/O error is
	// logged and the loop continues.
	ReceiveLoop(ctx context.Context, process Process) error

	// Close releases the underlying socket(s).
	Close() error
}
