// Package apitime provides the monotonic time source and timeval arithmetic
// that target scheduling and statistics are built on.
package apitime

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timeval is a BSD-style (seconds, microseconds) timestamp. Scheduling
// deadlines and probe timestamps are expressed in this type so that
// timeradd/timersub/timercmp/timerisset/timerclear semantics are explicit
// rather than hidden behind time.Time subtraction.
type Timeval struct {
	Sec  int64
	Usec int64
}

// FromDuration converts a time.Duration into a Timeval.
func FromDuration(d time.Duration) Timeval {
	return Timeval{
		Sec:  int64(d / time.Second),
		Usec: int64((d % time.Second) / time.Microsecond),
	}
}

// FromTime converts a time.Time into a Timeval.
func FromTime(t time.Time) Timeval {
	return Timeval{
		Sec:  t.Unix(),
		Usec: int64(t.Nanosecond() / 1000),
	}
}

// Duration converts a Timeval back to a time.Duration (since whatever epoch
// it was constructed relative to).
func (tv Timeval) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// IsSet reports whether the timeval has ever been assigned (timerisset).
func (tv Timeval) IsSet() bool {
	return tv.Sec != 0 || tv.Usec != 0
}

// Add returns tv+other, normalizing the microsecond field (timeradd).
func (tv Timeval) Add(other Timeval) Timeval {
	return normalize(Timeval{Sec: tv.Sec + other.Sec, Usec: tv.Usec + other.Usec})
}

// Sub returns tv-other, normalizing the microsecond field (timersub).
func (tv Timeval) Sub(other Timeval) Timeval {
	return normalize(Timeval{Sec: tv.Sec - other.Sec, Usec: tv.Usec - other.Usec})
}

// Compare returns -1, 0, or 1 as tv is before, equal to, or after other
// (timercmp with <, ==, >).
func (tv Timeval) Compare(other Timeval) int {
	switch {
	case tv.Sec != other.Sec:
		if tv.Sec < other.Sec {
			return -1
		}
		return 1
	case tv.Usec != other.Usec:
		if tv.Usec < other.Usec {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether tv is strictly earlier than other.
func (tv Timeval) Before(other Timeval) bool { return tv.Compare(other) < 0 }

// Clear resets the timeval to the zero value (timerclear).
func (tv *Timeval) Clear() { *tv = Timeval{} }

func normalize(tv Timeval) Timeval {
	for tv.Usec >= 1_000_000 {
		tv.Usec -= 1_000_000
		tv.Sec++
	}
	for tv.Usec < 0 {
		tv.Usec += 1_000_000
		tv.Sec--
	}
	return tv
}

// Clock exposes a monotonic-or-wallclock now(), wrapping clockwork.Clock so
// the engine and its tests can share a single injectable time source.
type Clock interface {
	Now() Timeval
	Underlying() clockwork.Clock
}

type clock struct {
	c    clockwork.Clock
	base time.Time
}

// NewClock wraps an existing clockwork.Clock (real or fake).
func NewClock(c clockwork.Clock) Clock {
	return &clock{c: c, base: c.Now()}
}

// NewRealClock returns the production clock, backed by the runtime's
// monotonic reading (time.Now() already carries a monotonic component on
// every platform Go supports; there is no separate fallback branch needed
// the way a C program must special-case clock_gettime(CLOCK_MONOTONIC)).
func NewRealClock() Clock {
	return NewClock(clockwork.NewRealClock())
}

// Now returns the wall-clock time at construction plus the elapsed time
// since then as measured by c.Since, which uses the monotonic reading on a
// real clock, so later wall-clock steps do not move it.
func (c *clock) Now() Timeval {
	return FromTime(c.base.Add(c.c.Since(c.base)))
}

func (c *clock) Underlying() clockwork.Clock {
	return c.c
}
