package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"speedwatch/internal/eventbus"
	"speedwatch/pkg/logx"
)

const (
	MinInterval     = 10
	MaxInterval     = 3600
	DefaultInterval = 60
)

var (
	// ErrIntervalOutOfRange is returned for intervals outside [MinInterval, MaxInterval].
	ErrIntervalOutOfRange = errors.New("interval out of range")
	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerTimer   Trigger = "timer"
	TriggerManual  Trigger = "manual"
)

// Job runs one cycle. It is always called from the loop goroutine.
type Job func(ctx context.Context, trigger Trigger)

// Config controls the scheduler.
type Config struct {
	// Interval in seconds between the end of one timer cycle and the next fire.
	Interval int
	// RunOnStart runs a cycle immediately when the loop starts.
	RunOnStart bool
}

// IntervalChange is the payload of eventbus.TypeIntervalChange.
type IntervalChange struct {
	From int
	To   int
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	job Job

	interval   int
	runOnStart bool

	// Capacity 1: at most one manual trigger pending.
	trigger chan struct{}

	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	next      time.Time
	lastStart time.Time
	lastEnd   time.Time
	cycles    uint64

	now         func() time.Time
	newSchedule func(seconds int) cron.Schedule
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Interval  int       `json:"interval"`
	Running   bool      `json:"running"`
	Pending   bool      `json:"pending_trigger"`
	NextRun   time.Time `json:"next_run"`
	LastStart time.Time `json:"last_start"`
	LastEnd   time.Time `json:"last_end"`
	Cycles    uint64    `json:"cycles"`
}
