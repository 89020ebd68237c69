package infra

import "time"

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// CalculateBackoff returns the reconnect delay for the given retry count,
// doubling from the base up to the cap.
func CalculateBackoff(retry int) time.Duration {
	delay := backoffBase
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}
