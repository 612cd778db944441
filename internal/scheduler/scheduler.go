// Package scheduler evaluates cron schedule triggers on a fixed tick and
// dispatches due functions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/functions"
)

// Dispatcher is the function-service surface the scheduler drives.
type Dispatcher interface {
	Registry() *functions.Registry
	DispatchSchedule(def *functions.Definition)
}

// Scheduler ticks faster than the cron resolution (default 5s against
// 1-minute patterns) and relies on the minimum inter-run gap as the real
// debounce: without it a pattern would fire on every tick of its matching
// minute. The cron match is only the coarse predicate.
type Scheduler struct {
	dispatcher Dispatcher
	interval   time.Duration
	minGap     time.Duration

	mu      sync.Mutex
	lastRun map[string]time.Time

	now func() time.Time
}

// New creates a scheduler.
func New(dispatcher Dispatcher, interval, minGap time.Duration) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		interval:   interval,
		minGap:     minGap,
		lastRun:    make(map[string]time.Time),
		now:        time.Now,
	}
}

// Run drives the tick loop until ctx is cancelled. Blocking; run on its
// own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Dur("min_gap", s.minGap).Msg("Scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick evaluates every schedule trigger once. A failing function never
// stops the loop; dispatch is asynchronous and failures surface through
// the executor's result reporting.
func (s *Scheduler) tick() {
	now := s.now()

	for _, def := range s.dispatcher.Registry().List() {
		if def.RunOnce {
			if status, ok := s.dispatcher.Registry().GetStatus(def.Name); ok && status.HasCompleted {
				continue
			}
		}

		for i, t := range def.Triggers {
			st, ok := t.(functions.ScheduleTrigger)
			if !ok {
				continue
			}

			if !cronMatches(st.Cron, now) {
				continue
			}

			key := triggerKey(def.Name, i)
			if !s.gapElapsed(key, now) {
				continue
			}

			log.Debug().Str("function", def.Name).Str("cron", st.Cron).Msg("Schedule trigger due")
			s.dispatcher.DispatchSchedule(def)
		}
	}
}

// gapElapsed records and enforces the minimum gap for one trigger.
func (s *Scheduler) gapElapsed(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastRun[key]; ok && now.Sub(last) < s.minGap {
		return false
	}
	s.lastRun[key] = now
	return true
}

func triggerKey(name string, index int) string {
	return fmt.Sprintf("%s#%d", name, index)
}

// cronMatches reports whether the 5-field pattern matches the minute
// containing now, in local time. The parser only exposes Next, so the
// match asks for the first firing strictly after the second before the
// minute boundary and checks it lands on the boundary itself.
func cronMatches(expr string, now time.Time) bool {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		log.Warn().Err(err).Str("cron", expr).Msg("Invalid cron expression")
		return false
	}

	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}
