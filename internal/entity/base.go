package entity

import (
	"time"
)

// NowUTC returns the current time at the store's timestamp precision (milliseconds, UTC)
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// CanonicalPair orders a user pair so (a, b) and (b, a) map to the same key
func CanonicalPair(userA, userB int64) (low, high int64) {
	if userA <= userB {
		return userA, userB
	}
	return userB, userA
}
