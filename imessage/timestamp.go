package imessage

import (
	"database/sql"
	"time"
)

// AppleEpoch is the reference point for Apple timestamps (2001-01-01 00:00:00 UTC)
var AppleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// appleEpochOffset is AppleEpoch in Unix seconds
var appleEpochOffset = AppleEpoch.Unix()

// nanosecondThreshold separates nanosecond timestamps (High Sierra and later)
// from the older seconds encoding.
const nanosecondThreshold = 1e12

// NormalizeTimestamp converts a raw chat.db date to a UTC time.
// NULL and 0 mean "no timestamp". Values whose magnitude exceeds 1e12 are
// divided by 1e9; smaller values are taken as seconds.
func NormalizeTimestamp(raw sql.NullInt64) (time.Time, bool) {
	if !raw.Valid || raw.Int64 == 0 {
		return time.Time{}, false
	}

	v := raw.Int64
	if v > nanosecondThreshold || v < -nanosecondThreshold {
		return time.Unix(appleEpochOffset+v/1e9, v%1e9).UTC(), true
	}
	return time.Unix(appleEpochOffset+v, 0).UTC(), true
}
