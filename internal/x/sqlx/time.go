package sqlx

import "time"

// MarshalTime marshals a time into its stored representation, the number of
// nanoseconds since the Unix epoch.
func MarshalTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// UnmarshalTime unmarshals a time from its stored representation.
func UnmarshalTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}
