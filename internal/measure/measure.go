// Package measure turns one speed-test client run into a Sample.
package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"speedwatch/internal/sample"
	"speedwatch/pkg/logx"
	"speedwatch/pkg/speedtest"
)

var (
	// ErrMeasurement marks a probe fault: no servers, failed latency tests,
	// or a malformed result.
	ErrMeasurement = errors.New("measurement failed")
	// ErrTransport marks a network-level failure reaching the probe endpoints.
	ErrTransport = errors.New("transport failed")
)

const bitsPerMegabit = 1_000_000

// Client performs a single speed test.
type Client interface {
	Run(ctx context.Context) (*speedtest.RawResult, error)
}

// Adapter wraps a Client with unit normalisation and error classification.
// It never retries.
type Adapter struct {
	client  Client
	timeout time.Duration
	log     logx.Logger
}

// Options configures an Adapter.
type Options struct {
	// Timeout bounds one run. Zero means no bound beyond the caller's context.
	Timeout time.Duration
	Log     logx.Logger
}

func New(client Client, opts Options) *Adapter {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{client: client, timeout: opts.Timeout, log: log.With(logx.String("comp", "measure"))}
}

// Measure runs the client once and returns the normalised sample.
func (a *Adapter) Measure(ctx context.Context) (sample.Sample, error) {
	if a == nil || a.client == nil {
		return sample.Sample{}, fmt.Errorf("%w: no client configured", ErrMeasurement)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := a.client.Run(ctx)
	if err != nil {
		return sample.Sample{}, classify(err)
	}
	s, err := Normalize(raw)
	if err != nil {
		return sample.Sample{}, err
	}

	a.log.Debug("speed test finished",
		logx.String("server", raw.ServerName),
		logx.String("country", raw.ServerCountry),
		logx.String("isp", raw.ISP),
		logx.Float64("jitter_ms", raw.Jitter),
		logx.Duration("took", time.Since(started)),
	)
	return s, nil
}

// Normalize converts a raw result into a Sample: bits/s become Mbps (no
// rounding) and the timestamp is parsed and converted to UTC.
func Normalize(raw *speedtest.RawResult) (sample.Sample, error) {
	if raw == nil {
		return sample.Sample{}, fmt.Errorf("%w: empty result", ErrMeasurement)
	}
	ts := strings.TrimSpace(raw.Timestamp)
	if ts == "" {
		return sample.Sample{}, fmt.Errorf("%w: result has no timestamp", ErrMeasurement)
	}
	at, err := dateparse.ParseIn(ts, time.UTC)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("%w: parse timestamp %q: %w", ErrMeasurement, ts, err)
	}
	for name, v := range map[string]float64{"download": raw.Download, "upload": raw.Upload, "ping": raw.Ping} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return sample.Sample{}, fmt.Errorf("%w: invalid %s value %v", ErrMeasurement, name, v)
		}
	}

	return sample.Sample{
		Timestamp: at.UTC(),
		Download:  raw.Download / bitsPerMegabit,
		Upload:    raw.Upload / bitsPerMegabit,
		Ping:      raw.Ping,
	}, nil
}

func classify(err error) error {
	if errors.Is(err, ErrMeasurement) || errors.Is(err, ErrTransport) {
		return err
	}
	if isTransport(err) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return fmt.Errorf("%w: %w", ErrMeasurement, err)
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
