package dispatcher

import "time"

// maxAttempts is the hard cap before a record is dead-lettered.
const maxAttempts = 3

// retryDelay maps the attempt count just made to the wait before the next
// try. A fixed lookup, not a formula: retry timing stays human-predictable
// at clinic volume.
func retryDelay(attempts int) time.Duration {
	switch {
	case attempts <= 1:
		return 1 * time.Minute
	default:
		return 15 * time.Minute
	}
}
