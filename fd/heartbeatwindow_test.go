package fd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/wire"
)

func TestHeartbeatWindowUsesSlidingMeanAsThreshold(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	peerEp := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	h := NewHeartbeatWindow()
	h.Initialize(self, tr, []endpoint.Endpoint{peerEp}, nil)

	// Seed the window with tight, consistent samples so the mean acceptable
	// roundtrip shrinks well below the initial 2s seed sample.
	for i := 0; i < slidingWindowSize; i++ {
		h.peers[peerEp].window.add(100 * time.Millisecond)
	}

	h.peers[peerEp].lastReceivedHeartbeat = time.Now().Add(-(200*time.Millisecond + heartbeatInterval + time.Millisecond))
	h.detectFailures()
	require.True(t, h.peers[peerEp].suspected)
}

func TestHeartbeatWindowRecoveryFeedsNewSample(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	peerEp := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	h := NewHeartbeatWindow()
	h.Initialize(self, tr, []endpoint.Endpoint{peerEp}, nil)

	staleSince := time.Now().Add(-5 * time.Second)
	h.peers[peerEp].suspected = true
	h.peers[peerEp].suspectedSince = staleSince

	before := h.peers[peerEp].window.mean()
	h.ReceiveMessage(&wire.Heartbeat{}, peerEp, func(endpoint.Endpoint) {})

	require.False(t, h.peers[peerEp].suspected)
	require.NotEqual(t, before, h.peers[peerEp].window.mean())
}

func TestHeartbeatWindowDoesNotConvictAtExactThreshold(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	peerEp := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	h := NewHeartbeatWindow()
	h.Initialize(self, tr, []endpoint.Endpoint{peerEp}, nil)

	acceptable := h.peers[peerEp].window.mean()
	h.peers[peerEp].lastReceivedHeartbeat = time.Now().Add(-(acceptable + heartbeatInterval))
	h.detectFailures()
	require.False(t, h.peers[peerEp].suspected)
}
