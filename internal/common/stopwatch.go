package common

import (
	"time"

	"github.com/coder/quartz"
)

// This stopwatch keeps track of time. You can set a timeout for it,
// make it start counting time, and ask it if the timeout has been reached.
// A stopwatch that was never started counts as stopped
type Stopwatch struct {
	Timeout   time.Duration
	startTime time.Time
	Running   bool
	clock     quartz.Clock
}

func NewStopwatch(clock quartz.Clock, timeout time.Duration) Stopwatch {
	return Stopwatch{Timeout: timeout, clock: clock}
}

func (s *Stopwatch) Start() {
	s.Running = true
	s.startTime = s.now()
}

func (s *Stopwatch) Stop() {
	s.Running = false
}

// Stopped reports if the timeout has been reached. When it has not,
// the time remaining until it is reached is also returned
func (s *Stopwatch) Stopped() (bool, time.Duration) {

	if !s.Running {
		return true, 0
	}
	elapsed := s.TimeStopped()
	if elapsed >= 0 {
		return true, 0
	}
	return false, -elapsed
}

// Return the time elapsed since this stopwatch
// stopped (reached its timeout).
// Note that if the number is negative, the timeout still
// has not been reached
func (s *Stopwatch) TimeStopped() time.Duration {
	return s.now().Sub(s.startTime.Add(s.Timeout))
}

func (s *Stopwatch) now() time.Time {
	if s.clock == nil {
		s.clock = quartz.NewReal()
	}
	return s.clock.Now()
}
