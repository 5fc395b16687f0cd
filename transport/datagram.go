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
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/facebookincubator/p2pfd/endpoint"
)

// datagramBufSize bounds the receive buffer to a generous size for a single
// UDP datagram; the OS drops anything the kernel socket buffer can't hold,
// and messages larger than this are undefined.
const datagramBufSize = 65507

// Datagram is a UDP Transport: one message per packet, lossy, unordered.
type Datagram struct {
	conn *net.UDPConn
}

// NewDatagram binds a UDP socket on self.
func NewDatagram(self endpoint.Endpoint) (*Datagram, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(self.Host), Port: self.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", self, err)
	}
	return &Datagram{conn: conn}, nil
}

// Send writes payload as a single UDP datagram to to. Failures are logged
// and swallowed.
func (d *Datagram) Send(payload []byte, to endpoint.Endpoint) {
	addr := &net.UDPAddr{IP: net.ParseIP(to.Host), Port: to.Port}
	if _, err := d.conn.WriteToUDP(payload, addr); err != nil {
		log.Warningf("transport(udp): send to %s failed: %v", to, err)
	}
}

// ReceiveLoop reads datagrams forever until ctx is canceled, handing each
// packet's payload to process. A read error on one packet never stops the
// loop. Canceling ctx closes the socket to unblock the pending read.
func (d *Datagram) ReceiveLoop(ctx context.Context, process Process) error {
	go func() {
		<-ctx.Done()
		_ = d.conn.Close()
	}()

	buf := make([]byte, datagramBufSize)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warningf("transport(udp): receive failed: %v", err)
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		process(frame)
	}
}

// Close releases the UDP socket.
func (d *Datagram) Close() error {
	return d.conn.Close()
}
