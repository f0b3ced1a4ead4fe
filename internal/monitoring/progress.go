package monitoring

import (
	"math"
	"sync"
)

// ProgressFunc receives the completed fraction of a long-running operation
// in [0, 1] and a short message. Returning false asks the operation to stop.
type ProgressFunc func(fraction float64, message string) bool

// Report calls f if it is set. A nil ProgressFunc always continues.
func Report(f ProgressFunc, fraction float64, message string) bool {
	if f == nil {
		return true
	}
	return f(fraction, message)
}

// NopProgress ignores every report.
func NopProgress(float64, string) bool { return true }

// TextProgress logs every report through Logf.
func TextProgress(prefix string) ProgressFunc {
	return func(fraction float64, message string) bool {
		Logf("%s %5.1f%% %s", prefix, fraction*100, message)
		return true
	}
}

// StepProgress logs through Logf only when the fraction crosses the next
// multiple of step, so tight loops can report freely. It is safe for use
// by concurrent callers.
func StepProgress(prefix string, step float64) ProgressFunc {
	if step <= 0 || step > 1 {
		step = 0.1
	}
	var mu sync.Mutex
	last := -1.0
	return func(fraction float64, message string) bool {
		bucket := math.Floor(fraction/step) * step
		mu.Lock()
		emit := bucket > last
		if emit {
			last = bucket
		}
		mu.Unlock()
		if emit {
			Logf("%s %3.0f%% %s", prefix, bucket*100, message)
		}
		return true
	}
}
