// Package guard races long-running external calls against a deadline.
//
// The guard observes, it never cancels: when the deadline fires the
// underlying operation keeps running, and a later completion still lands
// on whatever record tracks it. Callers get an answer by the deadline,
// work in flight is left alone. This suits providers that offer no
// reliable cancellation primitive, where a hung call must not be allowed
// to stall the orchestration layer.
package guard

import "time"

// Await blocks until done is closed or d elapses, whichever happens
// first. It reports true when the operation completed within the
// deadline. A non-positive d only checks whether done is already closed.
func Await(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Recv waits up to d for a single value on ch. The second return is
// false when the deadline fired first, in which case the value is the
// zero of T and ch is left untouched for a later receiver.
func Recv[T any](ch <-chan T, d time.Duration) (T, bool) {
	var zero T

	if d <= 0 {
		select {
		case v, ok := <-ch:
			if !ok {
				return zero, false
			}

			return v, true
		default:
			return zero, false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v, ok := <-ch:
		if !ok {
			return zero, false
		}

		return v, true
	case <-timer.C:
		return zero, false
	}
}
