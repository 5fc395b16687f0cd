package consensus

import (
	"context"
	"sync"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

// fakeTransport is an in-memory Transport used by unit tests that only
// need to observe what an Engine sends, never deliver it anywhere.
type sentMessage struct {
	payload []byte
	to      endpoint.Endpoint
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransport) Send(payload []byte, to endpoint.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{payload: payload, to: to})
}

func (f *fakeTransport) ReceiveLoop(ctx context.Context, _ transport.Process) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) messagesTo(to endpoint.Endpoint) []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Message
	for _, s := range f.sent {
		if s.to != to {
			continue
		}
		msg, _, _, err := wire.Decode(s.payload)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// network wires a fixed set of Engines together: every Send on a member's
// endpoint is synchronously decoded and delivered to the matching Engine's
// ReceiveMessage, mirroring how node.Node would route inbound wire frames
// in production but without any real transport.
type network struct {
	mu      sync.Mutex
	engines map[endpoint.Endpoint]*Engine
	dead    map[endpoint.Endpoint]bool
}

func newNetwork() *network {
	return &network{engines: map[endpoint.Endpoint]*Engine{}, dead: map[endpoint.Endpoint]bool{}}
}

func (n *network) register(ep endpoint.Endpoint, e *Engine) {
	n.mu.Lock()
	n.engines[ep] = e
	n.mu.Unlock()
}

func (n *network) kill(ep endpoint.Endpoint) {
	n.mu.Lock()
	n.dead[ep] = true
	n.mu.Unlock()
}

// networkTransport routes one sender's outbound messages through the
// shared network to their destination Engine, synchronously.
type networkTransport struct {
	net  *network
	self endpoint.Endpoint
}

// transportFor returns a Transport bound to sender's identity.
func (n *network) transportFor(self endpoint.Endpoint) networkTransport {
	return networkTransport{net: n, self: self}
}

func (t networkTransport) Send(payload []byte, to endpoint.Endpoint) {
	t.net.mu.Lock()
	if t.net.dead[to] || t.net.dead[t.self] {
		t.net.mu.Unlock()
		return
	}
	target := t.net.engines[to]
	t.net.mu.Unlock()
	if target == nil {
		return
	}
	msg, sender, _, err := wire.Decode(payload)
	if err != nil {
		return
	}
	target.ReceiveMessage(msg, sender)
}

func (t networkTransport) ReceiveLoop(ctx context.Context, _ transport.Process) error {
	<-ctx.Done()
	return ctx.Err()
}

func (t networkTransport) Close() error { return nil }
