// Package caches decorates timestamped containers with persisted, validity
// checked Code storage. Entries are valid while they are not older than
// their source and not older than the configured time to live.
package caches

import "time"

// now is replaced in tests.
var now = time.Now

// CheckValidity reports whether an entry cached at cacheMtime may still be
// used for a source last modified at sourceMtime. Times are nanoseconds
// since the epoch. A ttl <= 0 never expires entries.
func CheckValidity(sourceMtime, cacheMtime int64, ttl time.Duration) bool {
	if cacheMtime < sourceMtime {
		return false
	}
	if ttl <= 0 {
		return true
	}

	return now().UnixNano()-cacheMtime < int64(ttl)
}

// TTLFromSeconds converts a configured number of seconds to a Duration.
func TTLFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
