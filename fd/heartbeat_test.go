package fd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/wire"
)

func TestHeartbeatDoesNotConvictAtExactThreshold(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	peerEp := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	var failed []endpoint.Endpoint
	h := NewHeartbeat()
	h.Initialize(self, tr, []endpoint.Endpoint{peerEp}, func(n endpoint.Endpoint) { failed = append(failed, n) })

	h.peers[peerEp].lastReceivedHeartbeat = time.Now().Add(-(fixedRoundtripTime + heartbeatInterval))
	h.detectFailures()
	require.Empty(t, failed)
	require.False(t, h.peers[peerEp].suspected)
}

func TestHeartbeatConvictsPastThreshold(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	peerEp := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	done := make(chan endpoint.Endpoint, 1)
	h := NewHeartbeat()
	h.Initialize(self, tr, []endpoint.Endpoint{peerEp}, func(n endpoint.Endpoint) { done <- n })

	h.peers[peerEp].lastReceivedHeartbeat = time.Now().Add(-(fixedRoundtripTime + heartbeatInterval + time.Millisecond))
	h.detectFailures()

	select {
	case n := <-done:
		require.Equal(t, peerEp, n)
	case <-time.After(time.Second):
		t.Fatal("onFailure was not called")
	}
	require.True(t, h.peers[peerEp].suspected)
}

func TestHeartbeatRecoversOnceWithinThreshold(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	peerEp := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	h := NewHeartbeat()
	h.Initialize(self, tr, []endpoint.Endpoint{peerEp}, nil)
	h.peers[peerEp].suspected = true
	h.peers[peerEp].lastReceivedHeartbeat = time.Now()
	h.detectFailures()
	require.False(t, h.peers[peerEp].suspected)
}

func TestHeartbeatReceiveMessageLearnsUnknownSender(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	tr := &fakeTransport{}
	h := NewHeartbeat()
	h.Initialize(self, tr, nil, nil)

	unknown := endpoint.Endpoint{Host: "127.0.0.1", Port: 9999}
	var learned endpoint.Endpoint
	ok := h.ReceiveMessage(&wire.Heartbeat{}, unknown, func(n endpoint.Endpoint) { learned = n })
	require.True(t, ok)
	require.Equal(t, unknown, learned)
}

func TestHeartbeatReceiveMessageIgnoresOtherKinds(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	tr := &fakeTransport{}
	h := NewHeartbeat()
	h.Initialize(self, tr, nil, nil)

	ok := h.ReceiveMessage(&wire.Ping{MessageID: "x"}, self, func(endpoint.Endpoint) {})
	require.False(t, ok)
}
