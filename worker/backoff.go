package worker

import "time"

const (
	// retryBackoffBase is the delay before the second attempt.
	retryBackoffBase = 30 * time.Second

	// retryBackoffCap bounds the delay however many attempts accumulate.
	retryBackoffCap = time.Hour
)

// RetryBackoff returns the delay before the next attempt after the given
// number of completed attempts. Doubles per attempt: 30s, 1m, 2m, ... up
// to the cap.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	backoff := retryBackoffBase
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return backoff
}
