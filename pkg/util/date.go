// Package util holds small parsing helpers shared by the codecs.
package util

import (
	"strconv"
	"time"
)

// ParseTime accepts RFC3339 with or without fractional seconds, and unix
// seconds. It reports false when none of them match.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}
