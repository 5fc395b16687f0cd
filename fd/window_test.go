package fd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowInitialMeanIsSeedSample(t *testing.T) {
	w := newSlidingWindow()
	require.Equal(t, initialRoundtripSample, w.mean())
}

func TestSlidingWindowMeanNeverZero(t *testing.T) {
	w := newSlidingWindow()
	require.NotZero(t, w.mean())
	w.add(0)
	require.NotZero(t, w.mean())
}

func TestSlidingWindowMeanTracksRecentSamples(t *testing.T) {
	w := newSlidingWindow()
	w.add(1000 * time.Millisecond)
	w.add(1000 * time.Millisecond)
	// mean of [2000 (seed), 1000, 1000] == 1333ms-ish
	require.InDelta(t, 1333, w.mean().Milliseconds(), 1)
}

func TestSlidingWindowEvictsOldestBeyondCapacity(t *testing.T) {
	w := newSlidingWindow()
	for i := 0; i < slidingWindowSize+10; i++ {
		w.add(100 * time.Millisecond)
	}
	require.Equal(t, 100*time.Millisecond, w.mean())
}
