package pipeline

import "time"

// Clock bundles the time sources the engine depends on so tests can drive
// watchdog and idle-stop decisions deterministically
type Clock struct {
	Now   func() time.Time
	Sleep func(time.Duration)
}

// RealClock returns a wall-clock backed Clock
func RealClock() Clock {
	return Clock{
		Now:   time.Now,
		Sleep: time.Sleep,
	}
}
