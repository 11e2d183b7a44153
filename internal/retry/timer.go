package retry

import "time"

func timeAfter(d time.Duration) *time.Timer {
	if d <= 0 {
		t := time.NewTimer(0)
		return t
	}
	return time.NewTimer(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
