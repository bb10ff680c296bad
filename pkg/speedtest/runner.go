package speedtest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

var (
	// ErrNoServers is returned when the server list is empty after filtering.
	ErrNoServers = errors.New("speedtest: no servers available")
	// ErrNoLatency is returned when every candidate failed its ping test.
	ErrNoLatency = errors.New("speedtest: all latency tests failed")
)

// RunConfig controls how a run is executed.
type RunConfig struct {
	// Candidate servers to ping (closest by distance first).
	ServerCount int

	// UserConfig passed to speedtest-go.
	SavingMode     bool
	MaxConnections int

	// PostRunFreeOSMemory calls debug.FreeOSMemory after the run.
	PostRunFreeOSMemory bool

	// OperationTimeout shapes the HTTP dial timeout. It does NOT wrap the
	// provided context.
	OperationTimeout time.Duration

	// PingConcurrency caps how many ping tests run concurrently.
	PingConcurrency int

	DisableHTTP2      bool
	DisableKeepAlives bool
}

// Runner executes speed tests.
type Runner struct {
	cfg     RunConfig
	spawner Spawner
	now     func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSpawner makes the runner use the provided spawner for its ping fan-out.
func WithSpawner(s Spawner) Option { return func(r *Runner) { r.spawner = s } }

// NewRunner constructs a Runner.
func NewRunner(cfg RunConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	return c
}

// Run performs one measurement: closest servers are pinged, the lowest
// latency one gets a single download and upload test.
func (r *Runner) Run(ctx context.Context) (*RawResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("nil context")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := r.cfg.withDefaults()

	runCtx, cancelRun := context.WithCancel(ctx)
	ctx = runCtx

	hc, tr := newHTTPClient(cfg)

	// Avoid package-level speedtest helpers; speedtest-go keeps package-level state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     cfg.SavingMode,
		MaxConnections: cfg.MaxConnections,
	}))
	applyHTTPClient(stc, hc)
	stc.SetNThread(cfg.MaxConnections)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		if tr != nil {
			tr.CloseIdleConnections()
		}
		if cfg.PostRunFreeOSMemory {
			debug.FreeOSMemory()
		}
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := cfg.ServerCount
	if n > len(servers) {
		n = len(servers)
	}

	pinged := r.pingCandidates(ctx, servers[:n], cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoLatency
	}
	best := lowestLatency(pinged)

	if err := best.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test (%s): %w", best.Sponsor, err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test (%s): %w", best.Sponsor, err)
	}

	res := &RawResult{
		Timestamp:     r.now().UTC().Format(time.RFC3339Nano),
		Download:      bitsPerSecond(best.DLSpeed),
		Upload:        bitsPerSecond(best.ULSpeed),
		Ping:          durationMs(best.Latency),
		Jitter:        durationMs(best.Jitter),
		ISP:           user.Isp,
		ServerName:    best.Sponsor,
		ServerCountry: best.Country,
	}
	return res, nil
}

// speedtest-go reports bytes per second.
func bitsPerSecond(rate st.ByteRate) float64 { return float64(rate) * 8 }

func durationMs(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

type pingResult struct {
	Server *st.Server
	Err    error
}

func (r *Runner) pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	sem := make(chan struct{}, maxConcurrent)
	out := make(chan pingResult, len(servers))
	var wg sync.WaitGroup

	launch := func(name string, fn func()) {
		if r.spawner != nil {
			r.spawner.Go(name, fn)
			return
		}
		go fn()
	}

	for i, s := range servers {
		s := s
		wg.Add(1)
		launch(fmt.Sprintf("speedtest.ping.%d", i), func() {
			defer wg.Done()

			select {
			case <-ctx.Done():
				out <- pingResult{Server: s, Err: ctx.Err()}
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			out <- pingResult{Server: s, Err: s.PingTestContext(ctx, nil)}
		})
	}

	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for pr := range out {
		if pr.Err != nil || pr.Server == nil || pr.Server.Latency <= 0 {
			continue
		}
		pinged = append(pinged, pr.Server)
	}
	return pinged
}

func lowestLatency(servers []*st.Server) *st.Server {
	best := servers[0]
	for _, s := range servers[1:] {
		if s.Latency < best.Latency {
			best = s
		}
	}
	return best
}

func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.OperationTimeout > 0 {
		if capTo := cfg.OperationTimeout / 2; capTo < dialTimeout {
			dialTimeout = capTo
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}

	keepAlive := 30 * time.Second
	if cfg.DisableKeepAlives {
		keepAlive = -1
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		IdleConnTimeout:       2 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     !cfg.DisableHTTP2,
	}
	if cfg.DisableHTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	if !cfg.DisableKeepAlives {
		tr.MaxIdleConns = 64
		tr.MaxIdleConnsPerHost = cfg.MaxConnections
		tr.IdleConnTimeout = 10 * time.Second
	}

	return &http.Client{Transport: tr}, tr
}

// applyHTTPClient installs hc on the speedtest instance when the library
// exposes a way to do so.
func applyHTTPClient(stc any, hc *http.Client) {
	if stc == nil || hc == nil {
		return
	}
	if s, ok := stc.(interface{ SetHTTPClient(*http.Client) }); ok {
		s.SetHTTPClient(hc)
		return
	}

	v := reflect.ValueOf(stc)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	e := v.Elem()
	if e.Kind() != reflect.Struct {
		return
	}
	for _, name := range []string{"HTTPClient", "HttpClient", "Client"} {
		f := e.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			continue
		}
		if f.Type().AssignableTo(reflect.TypeOf((*http.Client)(nil))) {
			f.Set(reflect.ValueOf(hc))
			return
		}
	}
}
