package node

import (
	"context"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/stretchr/testify/require"

	"github.com/facebookincubator/p2pfd/consensus"
	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/facebookincubator/p2pfd/fd"
	"github.com/facebookincubator/p2pfd/metrics"
	"github.com/facebookincubator/p2pfd/transport"
	"github.com/facebookincubator/p2pfd/wire"
)

// noopTransport discards everything; only used to construct a
// consensus.Engine for router tests that never expect it to send.
type noopTransport struct{}

func (noopTransport) Send(payload []byte, to endpoint.Endpoint) {}
func (noopTransport) ReceiveLoop(ctx context.Context, process transport.Process) error {
	<-ctx.Done()
	return ctx.Err()
}
func (noopTransport) Close() error { return nil }

func TestNewDetectorRejectsUnknownName(t *testing.T) {
	_, err := newDetector("does-not-exist")
	require.Error(t, err)
}

func TestNewDetectorDefaultsToHeartbeatWindow(t *testing.T) {
	d, err := newDetector("")
	require.NoError(t, err)
	require.IsType(t, &fd.HeartbeatWindow{}, d)
}

func TestConfigResolveParsesAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfAddr = "127.0.0.1:9000"
	cfg.NeighborAddr = "127.0.0.1:9001,127.0.0.1:9002"
	require.NoError(t, cfg.Resolve())
	require.Equal(t, "127.0.0.1:9000", cfg.Self.String())
	require.Len(t, cfg.Neighbors, 2)
}

func TestConfigResolveRejectsBadSelfAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfAddr = "not-an-address"
	require.Error(t, cfg.Resolve())
}

func TestStatusReflectsConfiguredSelf(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfAddr = "127.0.0.1:0"
	cfg.MonitoringPort = 0
	require.NoError(t, cfg.Resolve())

	n, err := New(cfg)
	require.NoError(t, err)
	defer n.Close()

	s := n.status()
	require.Equal(t, cfg.Self.String(), s.Self)
	require.Empty(t, s.Suspects)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfAddr = "127.0.0.1:0"
	cfg.WarmUp = time.Hour // never fires during the test
	cfg.MonitoringPort = 0
	require.NoError(t, cfg.Resolve())

	n, err := New(cfg)
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func newTestNode(t *testing.T, detector fd.Detector) *Node {
	t.Helper()
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}
	n := &Node{
		cfg:       &Config{Self: self},
		tr:        noopTransport{},
		detector:  detector,
		engine:    consensus.New(self, noopTransport{}, nil, "", nil),
		metrics:   metrics.NewRegistry(),
		neighbors: endpoint.NewSet(self),
	}
	return n
}

// TestHandleFrameStopsAtDetectorWhenConsumed verifies the router never
// offers a message to the user handler once the detector has consumed it:
// FD gets first refusal, then consensus, then the user handler.
func TestHandleFrameStopsAtDetectorWhenConsumed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	det := NewMockDetector(ctrl)
	det.EXPECT().ReceiveMessage(gomock.Any(), gomock.Any(), gomock.Any()).Return(true)
	det.EXPECT().GetSuspectedList().Return(nil).AnyTimes()

	n := newTestNode(t, det)
	userCalled := false
	n.SetUserHandler(func(wire.Message, endpoint.Endpoint) bool {
		userCalled = true
		return true
	})

	sender := endpoint.Endpoint{Host: "127.0.0.1", Port: 9999}
	payload, err := wire.Encode(sender, &wire.Heartbeat{})
	require.NoError(t, err)

	n.handleFrame(payload)
	require.False(t, userCalled)
}

// TestHandleFrameFallsThroughToUserHandler verifies an unconsumed message
// reaches the user handler once both the detector and the consensus
// engine have declined it.
func TestHandleFrameFallsThroughToUserHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	det := NewMockDetector(ctrl)
	det.EXPECT().ReceiveMessage(gomock.Any(), gomock.Any(), gomock.Any()).Return(false)
	det.EXPECT().GetSuspectedList().Return(nil).AnyTimes()

	n := newTestNode(t, det)
	userCalled := false
	n.SetUserHandler(func(wire.Message, endpoint.Endpoint) bool {
		userCalled = true
		return true
	})

	sender := endpoint.Endpoint{Host: "127.0.0.1", Port: 9999}
	payload, err := wire.Encode(sender, &wire.Ping{MessageID: "x"})
	require.NoError(t, err)

	n.handleFrame(payload)
	require.True(t, userCalled)
}
