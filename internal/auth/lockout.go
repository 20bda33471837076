package auth

import "time"

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 2 * time.Hour
)

type LockState int

const (
	LockOpen LockState = iota
	LockLocked
	// LockExpired means a lock timestamp is still recorded but has elapsed.
	// It behaves like LockOpen and is cleared by the next transition.
	LockExpired
)

func (s LockState) String() string {
	switch s {
	case LockLocked:
		return "locked"
	case LockExpired:
		return "expired"
	default:
		return "open"
	}
}

type LockoutFields struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutPolicy is a pure state machine over LockoutFields. It never touches
// storage; callers persist its output with a conditional write.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: defaultMaxAttempts, LockDuration: defaultLockDuration}
}

func (p LockoutPolicy) State(f LockoutFields, now time.Time) LockState {
	if f.LockedUntil == nil {
		return LockOpen
	}
	if f.LockedUntil.After(now) {
		return LockLocked
	}
	return LockExpired
}

func (p LockoutPolicy) OnFailure(f LockoutFields, now time.Time) LockoutFields {
	switch p.State(f, now) {
	case LockLocked:
		return f
	case LockExpired:
		return LockoutFields{FailedAttempts: 1}
	}

	next := LockoutFields{FailedAttempts: f.FailedAttempts + 1}
	if next.FailedAttempts >= p.MaxAttempts {
		until := now.Add(p.LockDuration)
		next.LockedUntil = &until
	}
	return next
}

func (p LockoutPolicy) OnSuccess(LockoutFields, time.Time) LockoutFields {
	return LockoutFields{}
}

func (p LockoutPolicy) RetryAfter(f LockoutFields, now time.Time) time.Duration {
	if p.State(f, now) != LockLocked {
		return 0
	}
	return f.LockedUntil.Sub(now)
}
