package stream

import "time"

// ReconnectDelay returns the wait before reconnect attempt N (1-based).
// Attempts past the end of the schedule reuse its last entry.
func ReconnectDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
