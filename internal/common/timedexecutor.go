package common

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Give the timed executor a task and a timeout.
// Call the execute function from time to time.
// If the function gets called when the timeout has been reached,
// the provided task will execute. If not, the call will do nothing
type TimedExecutor struct {
	mu        sync.Mutex
	stopwatch Stopwatch
	task      func()
}

// Create a timed executor provided a timeout and a task
func NewTimedExecutor(clock quartz.Clock, timeout time.Duration, task func()) *TimedExecutor {
	return &TimedExecutor{stopwatch: NewStopwatch(clock, timeout), task: task}
}

// Execute the task if the timeout has been reached, else do nothing.
// Returns true when the task ran
func (te *TimedExecutor) Execute() bool {

	te.mu.Lock()
	stopped, _ := te.stopwatch.Stopped()
	if stopped {
		te.stopwatch.Start()
	}
	te.mu.Unlock()

	if stopped {
		te.task()
	}
	return stopped
}
