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

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/facebookincubator/p2pfd/endpoint"
)

// Stream is a length-prefixed TCP Transport: each message is framed with a
// 4-byte native-endian length prefix followed by exactly that many payload
// bytes. Send dials one connection per destination and reuses it for later
// Sends until a write fails; ReceiveLoop accepts inbound connections and
// frames each one independently.
type Stream struct {
	listener net.Listener

	mu      sync.Mutex
	dialers map[endpoint.Endpoint]net.Conn
}

// NewStream binds a TCP listener on self.
func NewStream(self endpoint.Endpoint) (*Stream, error) {
	ln, err := net.Listen("tcp", self.String())
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", self, err)
	}
	return &Stream{listener: ln, dialers: map[endpoint.Endpoint]net.Conn{}}, nil
}

// Send dials (or reuses) a connection to to, writes the length prefix, then
// the payload. Failures are logged and swallowed, and the cached connection
// for to is dropped so the next Send redials.
func (s *Stream) Send(payload []byte, to endpoint.Endpoint) {
	conn, err := s.dial(to)
	if err != nil {
		log.Warningf("transport(tcp): dial %s failed: %v", to, err)
		return
	}
	if err := writeFrame(conn, payload); err != nil {
		log.Warningf("transport(tcp): send to %s failed: %v", to, err)
		s.mu.Lock()
		delete(s.dialers, to)
		s.mu.Unlock()
		_ = conn.Close()
	}
}

func (s *Stream) dial(to endpoint.Endpoint) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.dialers[to]; ok {
		return conn, nil
	}
	conn, err := net.Dial("tcp", to.String())
	if err != nil {
		return nil, err
	}
	s.dialers[to] = conn
	return conn, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.NativeEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads exactly one length-prefixed frame, retrying partial
// reads until the full payload has arrived.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.NativeEndian.Uint32(prefix[:])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReceiveLoop accepts inbound connections until ctx is canceled, and frames
// each connection's byte stream independently, handing every decoded frame
// to process. An error on one connection only closes that connection; it
// never terminates the accept loop.
func (s *Stream) ReceiveLoop(ctx context.Context, process Process) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transport(tcp): accept failed: %w", err)
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			for {
				frame, err := readFrame(c)
				if err != nil {
					if err != io.EOF {
						log.Warningf("transport(tcp): frame read from %s failed: %v", c.RemoteAddr(), err)
					}
					return
				}
				process(frame)
			}
		}(conn)
	}
}

// Close releases the listener and any cached outbound connections.
func (s *Stream) Close() error {
	s.mu.Lock()
	for to, conn := range s.dialers {
		_ = conn.Close()
		delete(s.dialers, to)
	}
	s.mu.Unlock()
	return s.listener.Close()
}
