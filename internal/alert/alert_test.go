package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"speedwatch/internal/cycle"
	"speedwatch/internal/eventbus"
	"speedwatch/internal/sample"
	"speedwatch/pkg/logx"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (c *captureSender) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, text)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func failed() eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeCycleFailed, Data: cycle.Result{Err: errors.New("no servers")}}
}

func completed() eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeCycleCompleted, Data: cycle.Result{Sample: sample.Sample{Download: 90, Upload: 9, Ping: 11}}}
}

func TestAlertAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cs := &captureSender{}
	s := New(Config{AfterFailures: 2, Recovery: true, MinGap: time.Nanosecond}, cs, logx.Nop())
	ctx := context.Background()

	s.Handle(ctx, failed())
	if len(cs.msgs) != 0 {
		t.Fatalf("alert after one failure")
	}
	s.Handle(ctx, failed())
	s.Handle(ctx, failed())
	if len(cs.msgs) != 1 || !strings.Contains(cs.msgs[0], "2 consecutive") {
		t.Fatalf("expected one failure alert, got %q", cs.msgs)
	}

	s.Handle(ctx, completed())
	if len(cs.msgs) != 2 || !strings.Contains(cs.msgs[1], "recovered after 3") {
		t.Fatalf("expected recovery message, got %q", cs.msgs)
	}

	// A success without a prior alert stays quiet.
	s.Handle(ctx, completed())
	if len(cs.msgs) != 2 {
		t.Fatalf("unexpected message %q", cs.msgs)
	}
}

func TestFailedIntermittentlyNoAlert(t *testing.T) {
	t.Parallel()

	cs := &captureSender{}
	s := New(Config{AfterFailures: 2}, cs, logx.Nop())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Handle(ctx, failed())
		s.Handle(ctx, completed())
	}
	if len(cs.msgs) != 0 {
		t.Fatalf("unexpected alerts %q", cs.msgs)
	}
}

func TestSendErrorRetriesOnNextFailure(t *testing.T) {
	t.Parallel()

	cs := &captureSender{err: errors.New("telegram down")}
	s := New(Config{AfterFailures: 1, MinGap: time.Nanosecond}, cs, logx.Nop())
	ctx := context.Background()

	s.Handle(ctx, failed())
	cs.err = nil
	time.Sleep(time.Millisecond)
	s.Handle(ctx, failed())
	if len(cs.msgs) != 1 {
		t.Fatalf("expected alert once sender recovered, got %q", cs.msgs)
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	cs := &captureSender{}
	s := New(Config{AfterFailures: 1}, cs, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cs.count() == 0 && time.Now().Before(deadline) {
		// Run may not have subscribed yet; keep publishing until it has.
		bus.Publish(failed())
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if cs.count() != 1 {
		t.Fatalf("expected one alert, got %d", cs.count())
	}
}

func TestNewTelegramValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegram(TelegramConfig{}); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "123:abc"}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42}); err != nil {
		t.Fatalf("offline bot construction: %v", err)
	}
}
