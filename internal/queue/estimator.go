package queue

import (
	"sync"
	"time"
)

// ewmaWeight is the smoothing factor for the average consultation duration.
const ewmaWeight = 0.2

// waitEstimator keeps an exponential moving average of completed
// consultation durations. Estimates are advisory only and carry no
// correctness guarantee.
type waitEstimator struct {
	lock sync.Mutex
	avg  time.Duration
}

func newWaitEstimator(seed time.Duration) *waitEstimator {
	return &waitEstimator{avg: seed}
}

func (e *waitEstimator) Record(d time.Duration) {
	if d <= 0 {
		return
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	e.avg = time.Duration(float64(e.avg)*(1-ewmaWeight) + float64(d)*ewmaWeight)
}

func (e *waitEstimator) Estimate(position int) time.Duration {
	e.lock.Lock()
	defer e.lock.Unlock()

	return time.Duration(position) * e.avg
}
