package common

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type RateLimiter struct {
	mu                   sync.Mutex
	clock                quartz.Clock
	restrictions         []Restriction          // Restrictions to consider
	history              []time.Time            // History of requests
	duration             time.Duration          // Min duration to wait for all restrictions to be lifted
	pendingVitalRequests map[uuid.UUID]struct{} // Set of pending vital requests
	stopwatch            Stopwatch              // Running while the server asked us to back off
}

func NewRateLimiter(clock quartz.Clock, restrictions []Restriction) *RateLimiter {

	rl := &RateLimiter{clock: clock}
	// Restrictions are just a copy of the provided ones
	rl.restrictions = append([]Restriction(nil), restrictions...)
	// Duration
	for _, restriction := range restrictions {
		if restriction.Duration > rl.duration {
			rl.duration = restriction.Duration
		}
	}
	rl.pendingVitalRequests = map[uuid.UUID]struct{}{}
	rl.stopwatch = NewStopwatch(clock, 0)

	return rl
}

// Decide if a request is allowed.
// If the request is not allowed but vital, execution
// will block here until it is allowed or the context is done
func (rl *RateLimiter) Allowed(ctx context.Context, vital bool) bool {

	// Give this request a unique identifier
	thisuuid := uuid.New()
	defer rl.forget(thisuuid)

	for {
		rl.mu.Lock()
		// Trim history first
		rl.trim()
		// Check if the restrictions allow this request
		analysis := rl.analyse()
		if analysis.allowed {
			_, pending := rl.pendingVitalRequests[thisuuid]
			if vital || len(rl.pendingVitalRequests) == 0 || pending {
				// Include this request in the history as it is allowed
				rl.history = append(rl.history, rl.clock.Now())
				rl.mu.Unlock()
				log.Debug().Bool("vital", vital).Msg("Allowing request")
				return true
			}
			// Request is not vital and the queue is not empty,
			// so we have to reject the request
			rl.mu.Unlock()
			log.Warn().Msg("Rejecting non vital request because restrictions allow it but vital queue is not empty")
			return false
		}
		if !vital {
			rl.mu.Unlock()
			log.Warn().Msg("Rejecting a non vital request because restrictions do not allow it")
			return false
		}

		// Request is vital and not allowed, so we need
		// to add it to the queue if not there and wait
		rl.pendingVitalRequests[thisuuid] = struct{}{}
		rl.mu.Unlock()
		log.Warn().Str("request", thisuuid.String()).Dur("wait", analysis.wait).Msg("Vital request delayed")

		timer := rl.clock.NewTimer(analysis.wait, "ratelimiter")
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// ReceivedRateLimit blocks every request until the provided
// duration has passed
func (rl *RateLimiter) ReceivedRateLimit(retryAfter time.Duration) {

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if retryAfter <= 0 {
		retryAfter = rl.duration
	}
	rl.stopwatch.Timeout = retryAfter
	rl.stopwatch.Start()
	log.Warn().Dur("retry_after", retryAfter).Msg("Rate limit received from server")
}

func (rl *RateLimiter) forget(id uuid.UUID) {
	rl.mu.Lock()
	delete(rl.pendingVitalRequests, id)
	rl.mu.Unlock()
}

// Trim the current history, leaving only the requests
// that are young enough to be affected by at least one restriction
func (rl *RateLimiter) trim() {
	currentTime := rl.clock.Now()
	// Find the index from which we need to keep the history.
	// Start searching at the end of the slice.
	// Times are stored in chronological order
	index := 0
	for i := len(rl.history) - 1; i >= 0; i-- {
		if currentTime.Sub(rl.history[i]) >= rl.duration {
			index = i + 1
			break
		}
	}
	rl.history = rl.history[index:]
}

func (rl *RateLimiter) analyse() Analysis {

	currentTime := rl.clock.Now()

	// A rate limit answer from the server wins over everything
	if stopped, remaining := rl.stopwatch.Stopped(); !stopped {
		return Analysis{false, remaining}
	}
	rl.stopwatch.Stop()

	// Merge the analyses of every restriction
	var wait time.Duration = 0
	allowed := true
	for _, restriction := range rl.restrictions {
		analysis := restriction.Analyse(rl.history, currentTime)
		allowed = allowed && analysis.allowed
		if analysis.wait > wait {
			wait = analysis.wait
		}
	}
	return Analysis{allowed, wait}
}
