package fd

import (
	"context"
	"sync"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/transport"
)

type sentMessage struct {
	payload []byte
	to      endpoint.Endpoint
}

// fakeTransport is an in-memory Transport used by the fd package's tests;
// it never touches the network, matching the style of the sptp/client
// package's hand-rolled mock interfaces in sptp_test.go.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransport) Send(payload []byte, to endpoint.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{payload: payload, to: to})
}

func (f *fakeTransport) ReceiveLoop(ctx context.Context, process transport.Process) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}
