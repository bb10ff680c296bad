package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"speedwatch/internal/eventbus"
	"speedwatch/pkg/logx"
)

// ValidateInterval reports ErrIntervalOutOfRange for values outside
// [MinInterval, MaxInterval].
func ValidateInterval(seconds int) error {
	if seconds < MinInterval || seconds > MaxInterval {
		return fmt.Errorf("%w: %d (allowed %d..%d seconds)", ErrIntervalOutOfRange, seconds, MinInterval, MaxInterval)
	}
	return nil
}

func New(cfg Config, job Job, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if err := ValidateInterval(cfg.Interval); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("scheduler: nil job")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		job:         job,
		interval:    cfg.Interval,
		runOnStart:  cfg.RunOnStart,
		trigger:     make(chan struct{}, 1),
		now:         time.Now,
		newSchedule: everySeconds,
	}, nil
}

func everySeconds(seconds int) cron.Schedule {
	return cron.Every(time.Duration(seconds) * time.Second)
}

// Interval returns the current interval in seconds.
func (s *Service) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the interval. Out-of-range values are rejected and the
// previous value kept. The new value applies the next time the timer is armed.
func (s *Service) SetInterval(seconds int) error {
	if err := ValidateInterval(seconds); err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.interval
	s.interval = seconds
	s.mu.Unlock()

	if prev == seconds {
		return nil
	}
	s.log.Info("interval changed", logx.Int("from", prev), logx.Int("to", seconds))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeIntervalChange, Data: IntervalChange{From: prev, To: seconds}})
	}
	return nil
}

// TriggerNow queues a cycle without moving the timer deadline. It returns
// false when a trigger is already pending.
func (s *Service) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes the loop until ctx is done. It is meant to be owned by a
// supervisor; Start/Stop are the self-managed alternative.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	interval := s.interval
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.next = time.Time{}
		s.mu.Unlock()
		close(done)
	}()

	s.log.Info("loop started", logx.Int("interval", interval), logx.Bool("run_on_start", s.runOnStart))

	if s.runOnStart {
		s.runCycle(ctx, TriggerStartup)
	}

	timer := time.NewTimer(s.arm())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("loop stopped")
			return nil
		case <-s.trigger:
			// Deadline untouched; the timer keeps running during the cycle.
			s.runCycle(ctx, TriggerManual)
		case <-timer.C:
			s.runCycle(ctx, TriggerTimer)
			timer.Reset(s.arm())
		}
	}
}

// Start runs the loop on its own goroutine.
func (s *Service) Start(ctx context.Context) {
	go func() {
		if err := s.Run(ctx); err != nil {
			s.log.Warn("start ignored", logx.Err(err))
		}
	}()
}

// Stop cancels the loop and waits for it to exit (or for ctx). A cycle in
// flight runs to completion.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// arm computes the next fire time from the current interval.
func (s *Service) arm() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.next = s.newSchedule(s.interval).Next(now)
	d := s.next.Sub(now)
	if d < 0 {
		d = 0
	}
	s.log.Debug("timer armed", logx.Int("interval", s.interval), logx.Time("next", s.next))
	return d
}

func (s *Service) runCycle(ctx context.Context, trig Trigger) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.lastStart = s.now()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panicked", logx.String("trigger", string(trig)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		s.mu.Lock()
		s.lastEnd = s.now()
		s.cycles++
		s.mu.Unlock()
	}()

	s.job(ctx, trig)
}
