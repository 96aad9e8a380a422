package engine

import (
	"time"

	"golang.org/x/sys/unix"
)

const microsPerSecond = int64(1_000_000)

// Time is a microsecond-resolution wall-clock timestamp, normalized so that
// Usec always lies in [0, 1_000_000). It exists as its own type (rather than
// time.Time) because the round-trip and timeout arithmetic the engine
// performs is defined directly in terms of this normalized (seconds,
// microseconds) pair.
type Time struct {
	Sec  int64
	Usec int64
}

func normalizeTime(sec, usec int64) Time {
	if usec >= microsPerSecond {
		sec += usec / microsPerSecond
		usec %= microsPerSecond
	} else if usec < 0 {
		borrow := (-usec + microsPerSecond - 1) / microsPerSecond
		sec -= borrow
		usec += borrow * microsPerSecond
	}
	return Time{Sec: sec, Usec: usec}
}

// Now reads the wall clock via gettimeofday. A failure here is fatal: the
// caller should treat a non-nil error as unrecoverable and terminate the
// process after logging it.
func Now() (Time, error) {
	var tv unix.Timeval
	if err := unix.Gettimeofday(&tv); err != nil {
		return Time{}, err
	}
	return normalizeTime(int64(tv.Sec), int64(tv.Usec)), nil
}

// Add returns t advanced by d, normalized.
func (t Time) Add(d time.Duration) Time {
	usec := d.Microseconds()
	return normalizeTime(t.Sec+usec/microsPerSecond, t.Usec+usec%microsPerSecond)
}

// Sub returns t - o as a duration. The result may be negative.
func (t Time) Sub(o Time) time.Duration {
	sec := t.Sec - o.Sec
	usec := t.Usec - o.Usec
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}

// Before reports whether t is strictly earlier than o.
func (t Time) Before(o Time) bool {
	if t.Sec != o.Sec {
		return t.Sec < o.Sec
	}
	return t.Usec < o.Usec
}

// Micros returns t as a single microsecond count since the Unix epoch.
func (t Time) Micros() int64 {
	return t.Sec*microsPerSecond + t.Usec
}

// CheckTimeouts scans the probe table for every used probe whose deadline
// has passed, freeing it and reporting it as no-reply.
func (e *Engine) CheckTimeouts() error {
	now, err := Now()
	if err != nil {
		return fatalf("gettimeofday (timeout scan)", err)
	}
	var expired []*Probe
	e.table.IterateUsed(func(p *Probe) bool {
		if p.deadline.Before(now) {
			expired = append(expired, p)
		}
		return true
	})
	for _, p := range expired {
		token := p.token
		e.table.Free(p)
		e.emitter.Emit(token, Outcome{Kind: OutcomeNoReply})
	}
	return nil
}

// NextDeadline returns the minimum remaining time across all outstanding
// probes. haveTimeout is false when no probe is
// outstanding, in which case the event loop may wait indefinitely.
func (e *Engine) NextDeadline() (remaining time.Duration, haveTimeout bool, err error) {
	now, err := Now()
	if err != nil {
		return 0, false, fatalf("gettimeofday (next deadline)", err)
	}
	e.table.IterateUsed(func(p *Probe) bool {
		r := p.deadline.Sub(now)
		if !haveTimeout || r < remaining {
			remaining = r
			haveTimeout = true
		}
		return true
	})
	return remaining, haveTimeout, nil
}
