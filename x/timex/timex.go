// Package timex is the wall clock behind event timestamps.
package timex

import "time"

// Clock returns the current time. Boards without an RTC start near the epoch,
// so timestamps are only comparable within one boot.
var Clock = time.Now

// NowMs is Clock in Unix milliseconds.
func NowMs() int64 { return Clock().UnixMilli() }

// SinceMs is the whole milliseconds elapsed from t.
func SinceMs(t time.Time) int64 { return int64(Clock().Sub(t) / time.Millisecond) }
