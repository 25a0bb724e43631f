package app

import "time"

const maxBackoff = 60 * time.Minute

// Backoff is the delay after scheduled_at before a job with the given retry count may be attempted.
// JobRepository.FindProcessable applies the same curve in SQL.
func Backoff(retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	if retries >= 6 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(retries)) * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Eligible reports whether the job's backoff window has elapsed at now.
func Eligible(scheduledAt time.Time, retries int, now time.Time) bool {
	return !scheduledAt.Add(Backoff(retries)).After(now)
}
