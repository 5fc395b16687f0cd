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

package fd

import (
	"container/ring"
	"time"

	"github.com/eclesh/welford"
)

// slidingWindowSize bounds the window: acceptableRoundtrip is the mean of
// at most this many of the most recent samples.
const slidingWindowSize = 50

// initialRoundtripSample seeds every new sliding window so the mean is
// always defined, even before the first real sample arrives.
const initialRoundtripSample = 2000 * time.Millisecond

// slidingWindow holds the most recent roundtrip samples, most-recent
// first, and reports their mean. Grounded on sptp/client.slidingWindow: a
// fixed-capacity container/ring used as the running sample buffer.
type slidingWindow struct {
	r    *ring.Ring
	n    int // number of real samples currently held, capped at r.Len()
	sum  time.Duration

	// jitter tracks running mean/variance of every sample ever added,
	// independent of the fixed window above; exposed via /metrics, it
	// never feeds the conviction threshold itself.
	jitter *welford.Stats
}

func newSlidingWindow() *slidingWindow {
	w := &slidingWindow{r: ring.New(slidingWindowSize), jitter: welford.New()}
	w.add(initialRoundtripSample)
	return w
}

// add prepends sample to the window, evicting the oldest once full.
func (w *slidingWindow) add(sample time.Duration) {
	if w.n == w.r.Len() {
		w.sum -= w.r.Value.(time.Duration)
	} else {
		w.n++
	}
	w.r.Value = sample
	w.sum += sample
	w.r = w.r.Next()
	w.jitter.Add(sample.Seconds() * 1000)
}

// mean returns the arithmetic mean of the held samples. Always defined:
// the window is seeded at construction, so n is never 0.
func (w *slidingWindow) mean() time.Duration {
	if w.n == 0 {
		return initialRoundtripSample
	}
	return w.sum / time.Duration(w.n)
}
