// Package alert sends a message when measurement cycles keep failing, and
// another once they recover.
package alert

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"speedwatch/internal/cycle"
	"speedwatch/internal/eventbus"
	"speedwatch/pkg/logx"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

type Config struct {
	Enabled bool
	// AfterFailures is the number of consecutive failed cycles that raises an
	// alert (default 3).
	AfterFailures int
	// Recovery sends a message when a cycle succeeds after an alert.
	Recovery bool
	// MinGap rate limits outgoing messages (default 10m).
	MinGap   time.Duration
	Telegram TelegramConfig
}

type Service struct {
	cfg     Config
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter

	failures int
	alerted  bool
	lastErr  error
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if cfg.AfterFailures <= 0 {
		cfg.AfterFailures = 3
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = 10 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		log:     log.With(logx.String("comp", "alert")),
		limiter: rate.NewLimiter(rate.Every(cfg.MinGap), 1),
	}
}

// Run consumes cycle events until ctx is done.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ctx, e)
		}
	}
}

// Handle processes one event. It is not safe for concurrent use; Run calls
// it from a single goroutine.
func (s *Service) Handle(ctx context.Context, e eventbus.Event) {
	res, ok := e.Data.(cycle.Result)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.TypeCycleFailed:
		s.failures++
		s.lastErr = res.Err
		if s.alerted || s.failures < s.cfg.AfterFailures {
			return
		}
		msg := fmt.Sprintf("⚠️ speedwatch: %d consecutive speed tests failed\nlast error: %v", s.failures, res.Err)
		if s.send(ctx, msg) {
			s.alerted = true
		}
	case eventbus.TypeCycleCompleted:
		failures := s.failures
		wasAlerted := s.alerted
		s.failures = 0
		s.alerted = false
		s.lastErr = nil
		if !wasAlerted || !s.cfg.Recovery {
			return
		}
		smp := res.Sample
		msg := fmt.Sprintf("✅ speedwatch: recovered after %d failed tests\ndownload %.2f Mbps, upload %.2f Mbps, ping %.2f ms",
			failures, smp.Download, smp.Upload, smp.Ping)
		s.send(ctx, msg)
	}
}

func (s *Service) send(ctx context.Context, text string) bool {
	if s.sender == nil {
		return false
	}
	if !s.limiter.Allow() {
		s.log.Debug("alert suppressed by rate limit")
		return false
	}
	if err := s.sender.Send(ctx, text); err != nil {
		s.log.Warn("alert send failed", logx.Err(err))
		return false
	}
	s.log.Info("alert sent")
	return true
}
