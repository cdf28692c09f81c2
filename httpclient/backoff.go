package httpclient

import "time"

// BackoffType selects the delay growth curve used between retry attempts,
// mirroring original_source/src/http/client.rs's calculate_backoff.
type BackoffType string

const (
	BackoffConstant    BackoffType = "constant"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// Backoff computes the delay before retry attempt (0-indexed), capped by
// max. Exponential uses initial * 2^attempt, matching the original's
// saturating_pow(2, attempt) to avoid overflow at large attempt counts.
func Backoff(kind BackoffType, attempt int, initial, max time.Duration) time.Duration {
	var delay time.Duration
	switch kind {
	case BackoffLinear:
		delay = initial * time.Duration(attempt+1)
	case BackoffExponential:
		var factor time.Duration = 1
		for i := 0; i < attempt; i++ {
			if factor > max {
				break
			}
			factor *= 2
		}
		delay = initial * factor
	default: // BackoffConstant
		delay = initial
	}
	if delay < 0 {
		// overflow guard: a saturating multiply gone negative clamps to max.
		delay = max
	}
	if delay > max {
		return max
	}
	return delay
}
