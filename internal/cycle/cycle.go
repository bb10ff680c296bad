// Package cycle performs one measure → persist → publish step.
package cycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"speedwatch/internal/eventbus"
	"speedwatch/internal/observability/metrics"
	"speedwatch/internal/sample"
	"speedwatch/internal/storage"
	"speedwatch/pkg/logx"
)

// persistTimeout bounds the store write once a measurement has succeeded.
const persistTimeout = 10 * time.Second

// Measurer produces one sample per call.
type Measurer interface {
	Measure(ctx context.Context) (sample.Sample, error)
}

// Publisher receives the sample of every cycle (the rolling buffer).
type Publisher interface {
	Push(s sample.Sample)
}

// Result describes one finished cycle.
type Result struct {
	ID      string
	Trigger string
	Started time.Time
	Took    time.Duration

	// Sample is what was pushed to the buffer: the measurement, or a zero
	// sample when Err is set.
	Sample sample.Sample
	// Err is the measurement or transport failure, if any.
	Err error
	// PersistErr is set when the measurement succeeded but the store write failed.
	PersistErr error
	Pushed     bool
}

func (r Result) OK() bool { return r.Err == nil }

type Deps struct {
	Measurer  Measurer
	Store     storage.Store
	Publisher Publisher
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Log       logx.Logger
}

// Runner serialises cycles with a weight-1 semaphore, so callers outside the
// scheduler loop (CLI, tests) never overlap with it.
type Runner struct {
	d   Deps
	log logx.Logger
	sem *semaphore.Weighted
	now func() time.Time
}

func New(d Deps) *Runner {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		d:   d,
		log: log.With(logx.String("comp", "cycle")),
		sem: semaphore.NewWeighted(1),
		now: time.Now,
	}
}

// Run performs one cycle. It never panics on measurement or store failures;
// those are reported in the Result.
func (r *Runner) Run(ctx context.Context, trigger string) Result {
	res := Result{ID: uuid.NewString(), Trigger: trigger}
	log := r.log.With(logx.String("cycle", res.ID), logx.String("trigger", trigger))

	if err := r.sem.Acquire(ctx, 1); err != nil {
		res.Err = err
		log.Debug("cycle skipped", logx.Err(err))
		return res
	}
	defer r.sem.Release(1)

	res.Started = r.now()
	smp, err := r.d.Measurer.Measure(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Shutdown, not a failed test: no dip, no failure event.
		res.Err = err
		log.Debug("cycle abandoned", logx.Err(err))
		return res
	}
	if err != nil {
		res.Err = err
		smp = sample.Zero(r.now())
		log.Warn("speed test failed", logx.Err(err))
	} else {
		res.PersistErr = r.persist(ctx, smp)
		if res.PersistErr != nil {
			log.Error("could not save result", logx.Err(res.PersistErr))
			r.d.Metrics.PersistFailed()
		}
	}
	res.Sample = smp

	if r.d.Publisher != nil {
		r.d.Publisher.Push(smp)
		res.Pushed = true
	}
	res.Took = r.now().Sub(res.Started)

	outcome := metrics.OutcomeOK
	evType := eventbus.TypeCycleCompleted
	if res.Err != nil {
		outcome = metrics.OutcomeFailed
		evType = eventbus.TypeCycleFailed
	} else {
		log.Info("speed test finished",
			logx.Float64("download_mbps", smp.Download),
			logx.Float64("upload_mbps", smp.Upload),
			logx.Float64("ping_ms", smp.Ping),
			logx.Duration("took", res.Took),
		)
	}
	r.d.Metrics.ObserveCycle(outcome, res.Took, smp)
	if r.d.Bus != nil {
		r.d.Bus.Publish(eventbus.Event{Type: evType, Time: smp.Timestamp, Data: res})
	}
	return res
}

// persist writes smp even if ctx was canceled after the measurement finished.
func (r *Runner) persist(ctx context.Context, smp sample.Sample) error {
	if r.d.Store == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := r.d.Store.Append(pctx, smp)
	if err != nil && !errors.Is(err, storage.ErrPersistence) {
		// Stores wrap their own errors; keep the kind for anything that didn't.
		err = errors.Join(storage.ErrPersistence, err)
	}
	return err
}
