package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/obslog"
)

// Trigger runs one full mission invocation (typically pipeline.Runner.Run).
type Trigger func(ctx context.Context) error

// Scheduler drives a single mission's SchedulePolicy: cron expression,
// fixed interval, or a one-shot instant, enforcing MaxConcurrency,
// SkipIfRunning, and RetryOnFailure. Grounded on tombee-conductor's
// Scheduler.Start/run/tick (1-second time.Ticker loop, stopCh/doneCh
// shutdown pair), generalized to one policy instead of a named-schedule
// map since a mission carries exactly one SchedulePolicy.
type Scheduler struct {
	Policy  *mission.SchedulePolicy
	Trigger Trigger
	Log     *obslog.Logger

	cronExpr *Expr
	nextRun  time.Time
	fired    bool // for one-shot `at` schedules

	mu      sync.Mutex
	running int32

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Scheduler for policy, parsing its cron expression (if
// any) up front so a malformed schedule fails at mission load rather
// than at the first tick.
func New(policy *mission.SchedulePolicy, trigger Trigger, log *obslog.Logger) (*Scheduler, error) {
	s := &Scheduler{Policy: policy, Trigger: trigger, Log: log}

	loc := time.UTC
	if policy.Timezone != "" {
		if l, err := time.LoadLocation(policy.Timezone); err == nil {
			loc = l
		}
	}

	switch {
	case policy.Cron != "":
		expr, err := Parse(policy.Cron)
		if err != nil {
			return nil, err
		}
		s.cronExpr = expr
		s.nextRun = expr.Next(time.Now().In(loc))
	case policy.Interval > 0:
		s.nextRun = time.Now().Add(policy.Interval)
	case policy.At != nil:
		s.nextRun = *policy.At
	}

	return s, nil
}

// Start begins the 1-second tick loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := !s.nextRun.IsZero() && !now.Before(s.nextRun) && !s.fired
	if !due {
		s.mu.Unlock()
		return
	}

	if s.Policy.Cron != "" {
		s.nextRun = s.cronExpr.Next(now)
	} else if s.Policy.Interval > 0 {
		s.nextRun = now.Add(s.Policy.Interval)
	} else {
		s.fired = true
	}
	s.mu.Unlock()

	current := atomic.LoadInt32(&s.running)
	if s.Policy.SkipIfRunning && current > 0 {
		s.Log.Warn(ctx, "schedule.skip", map[string]any{"reason": "previous run still in progress"})
		return
	}
	if s.Policy.MaxConcurrency > 0 && current >= int32(s.Policy.MaxConcurrency) {
		s.Log.Warn(ctx, "schedule.skip", map[string]any{"reason": "maxConcurrency reached"})
		return
	}

	atomic.AddInt32(&s.running, 1)
	go func() {
		defer atomic.AddInt32(&s.running, -1)
		s.fire(ctx)
	}()
}

func (s *Scheduler) fire(ctx context.Context) {
	s.Log.Info(ctx, "schedule.fire", nil)

	retry := s.Policy.RetryOnFailure
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = s.Trigger(ctx); err == nil {
			s.Log.Info(ctx, "schedule.success", map[string]any{"attempt": attempt})
			return
		}
		s.Log.Error(ctx, "schedule.failure", map[string]any{"attempt": attempt, "error": err.Error()})
		if attempt == maxAttempts {
			break
		}
		delay := computeDelay(retry, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func computeDelay(cfg mission.RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	switch cfg.Backoff {
	case mission.BackoffLinear:
		delay = cfg.InitialDelay * time.Duration(attempt)
	case mission.BackoffExponential:
		d := cfg.InitialDelay
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		delay = d
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
