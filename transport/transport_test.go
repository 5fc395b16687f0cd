package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/p2pfd/endpoint"
)

func TestDatagramSendReceive(t *testing.T) {
	a, err := NewDatagram(endpoint.Endpoint{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer a.Close()
	aAddr := a.conn.LocalAddr().(*net.UDPAddr)
	aEp := endpoint.Endpoint{Host: "127.0.0.1", Port: aAddr.Port}

	b, err := NewDatagram(endpoint.Endpoint{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.ReceiveLoop(ctx, func(payload []byte) { received <- payload })

	b.Send([]byte("hello"), aEp)

	select {
	case got := <-received:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestDatagramSendToClosedPeerIsSwallowed(t *testing.T) {
	a, err := NewDatagram(endpoint.Endpoint{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer a.Close()

	// Nothing listens on this port; Send must not panic or block.
	a.Send([]byte("hello"), endpoint.Endpoint{Host: "127.0.0.1", Port: 1})
}

func TestStreamSendReceiveMultipleFrames(t *testing.T) {
	a, err := NewStream(endpoint.Endpoint{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer a.Close()
	aEp := endpoint.Endpoint{Host: "127.0.0.1", Port: a.listener.Addr().(*net.TCPAddr).Port}

	b, err := NewStream(endpoint.Endpoint{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	var received []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.ReceiveLoop(ctx, func(payload []byte) {
		mu.Lock()
		received = append(received, string(payload))
		mu.Unlock()
	})

	b.Send([]byte("one"), aEp)
	b.Send([]byte("two"), aEp)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"one", "two"}, received)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	go writeFrame(w, []byte("payload"))

	got, err := readFrame(r)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}
