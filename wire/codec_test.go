package wire

import (
	"testing"

	"github.com/facebookincubator/p2pfd/endpoint"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, sender endpoint.Endpoint, msg Message) Message {
	t.Helper()
	b, err := Encode(sender, msg)
	require.NoError(t, err)
	decoded, from, version, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, sender, from)
	require.Equal(t, ProtocolVersion, version)
	return decoded
}

func TestRoundTripPreservesKindAndValue(t *testing.T) {
	self := endpoint.Endpoint{Host: "127.0.0.1", Port: 1234}

	cases := []Message{
		&Ping{MessageID: "abc"},
		&Ack{MessageID: "def", InResponse: "abc"},
		&Heartbeat{},
		&SuspectList{Suspects: []endpoint.Endpoint{{Host: "127.0.0.1", Port: 1235}}},
		&Preference{Round: 3, Preference: "A", TimestampUnixMilli: 42},
		&CoordinatorPreference{Round: 3, Preference: "A"},
		&PositiveAck{Round: 3},
		&NegativeAck{Round: 3},
		&Decide{Preference: "A"},
		&RequestConsensus{Round: 3},
	}

	for _, want := range cases {
		got := roundTrip(t, self, want)
		require.Equal(t, want, got)
		require.Equal(t, want.Kind(), got.Kind())
	}
}

func TestDecodeUnknownKindErrors(t *testing.T) {
	_, _, _, err := Decode([]byte(`{"kind":"Bogus","payload":{}}`))
	require.Error(t, err)
}

func TestDecodeGarbageErrors(t *testing.T) {
	_, _, _, err := Decode([]byte(`not json`))
	require.Error(t, err)
}
