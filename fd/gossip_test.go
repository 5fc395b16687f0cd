package fd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/wire"
)

func TestGossipBroadcastsInnerSuspectsToNeighbors(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	a := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	b := endpoint.Endpoint{Host: "127.0.0.1", Port: 1236}
	tr := &fakeTransport{}

	inner := NewHeartbeat()
	g := NewGossip(inner)
	g.Initialize(self, tr, []endpoint.Endpoint{a, b}, nil)
	inner.peers[a].suspected = true

	g.gossip()
	require.Equal(t, 2, tr.count())
}

func TestGossipSkipsBroadcastWhenNoSuspects(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	a := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	inner := NewHeartbeat()
	g := NewGossip(inner)
	g.Initialize(self, tr, []endpoint.Endpoint{a}, nil)

	g.gossip()
	require.Equal(t, 0, tr.count())
}

func TestGossipReceiveMessageMergesSuspectList(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	a := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	stranger := endpoint.Endpoint{Host: "127.0.0.1", Port: 9999}
	tr := &fakeTransport{}

	inner := NewHeartbeat()
	g := NewGossip(inner)
	g.Initialize(self, tr, []endpoint.Endpoint{a}, nil)

	handled := g.ReceiveMessage(&wire.SuspectList{Suspects: []endpoint.Endpoint{stranger}}, a, func(endpoint.Endpoint) {})
	require.True(t, handled)
	require.Contains(t, inner.GetSuspectedList(), stranger)
}

func TestGossipReceiveMessagePrefersInnerHandling(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	a := endpoint.Endpoint{Host: "127.0.0.1", Port: 1235}
	tr := &fakeTransport{}

	inner := NewHeartbeat()
	g := NewGossip(inner)
	g.Initialize(self, tr, []endpoint.Endpoint{a}, nil)

	handled := g.ReceiveMessage(&wire.Heartbeat{}, a, func(endpoint.Endpoint) {})
	require.True(t, handled)
	require.False(t, inner.peers[a].lastReceivedHeartbeat.IsZero())
}

func TestGossipLearnsUnknownSenderFromSuspectList(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	stranger := endpoint.Endpoint{Host: "127.0.0.1", Port: 9999}
	tr := &fakeTransport{}

	inner := NewHeartbeat()
	g := NewGossip(inner)
	g.Initialize(self, tr, nil, nil)

	var learned endpoint.Endpoint
	g.ReceiveMessage(&wire.SuspectList{}, stranger, func(n endpoint.Endpoint) { learned = n })
	require.Equal(t, stranger, learned)
}
