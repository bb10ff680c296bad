// Package dashboard serves the live browser view of the sample buffer.
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"speedwatch/internal/buffer"
	"speedwatch/internal/observability/metrics"
	"speedwatch/internal/sample"
	"speedwatch/pkg/logx"
)

//go:embed static/*
var embeddedStatic embed.FS

const DefaultAddr = ":5006"

// Controller is the part of the scheduler the page can drive.
type Controller interface {
	Interval() int
	SetInterval(seconds int) error
	TriggerNow() bool
}

type Config struct {
	Addr        string
	TableRows   int
	ChartWidth  int
	ChartHeight int

	// Manual trigger rate limit. Zero means one per 2s, burst 1.
	TriggerEvery time.Duration
	TriggerBurst int

	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if c.TableRows <= 0 {
		c.TableRows = DefaultTableRows
	}
	if c.ChartWidth <= 0 {
		c.ChartWidth = DefaultChartWidth
	}
	if c.ChartHeight <= 0 {
		c.ChartHeight = DefaultChartHeight
	}
	if c.TriggerEvery <= 0 {
		c.TriggerEvery = 2 * time.Second
	}
	if c.TriggerBurst <= 0 {
		c.TriggerBurst = 1
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Server renders the buffer and relays page controls to the scheduler.
type Server struct {
	cfg     Config
	ctl     Controller
	metrics *metrics.Metrics
	log     logx.Logger

	staticFS fs.FS
	page     *template.Template
	limiter  *rate.Limiter
	hub      *hub
	sub      *buffer.Subscription

	mu       sync.Mutex
	contents []sample.Sample
	view     View
	version  uint64

	chartMu      sync.Mutex
	chartVersion uint64
	chartPNG     []byte
}

// New builds the server from the buffer's current contents and subscribes
// to further changes. Close releases the subscription.
func New(cfg Config, buf *buffer.Buffer, ctl Controller, m *metrics.Metrics, log logx.Logger) (*Server, error) {
	if buf == nil {
		return nil, errors.New("dashboard: nil buffer")
	}
	if ctl == nil {
		return nil, errors.New("dashboard: nil controller")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return nil, fmt.Errorf("dashboard: static assets: %w", err)
	}
	page, err := template.New("index.html").Funcs(template.FuncMap{
		"pct": func(failures, total int) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", float64(failures)*100/float64(total))
		},
	}).ParseFS(embeddedStatic, "static/index.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse page: %w", err)
	}

	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		ctl:      ctl,
		metrics:  m,
		log:      log.With(logx.String("comp", "dashboard")),
		staticFS: staticFS,
		page:     page,
		limiter:  rate.NewLimiter(rate.Every(cfg.TriggerEvery), cfg.TriggerBurst),
		hub:      newHub(),
	}
	s.update(buf.Snapshot())
	s.sub = buf.Subscribe(s.update)
	return s, nil
}

// View returns the latest computed view.
func (s *Server) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Refresh recomputes the view from the last buffer contents, e.g. after the
// interval changed outside the page.
func (s *Server) Refresh() {
	s.mu.Lock()
	contents := s.contents
	s.mu.Unlock()
	s.update(contents)
}

// update runs on every buffer notification.
func (s *Server) update(contents []sample.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contents = contents
	s.version++
	v := BuildView(contents, s.ctl.Interval(), s.cfg.TableRows)
	v.Version = s.version
	s.view = v

	msg, err := encode(message{Type: msgView, View: &v})
	if err != nil {
		s.log.Error("encode view failed", logx.Err(err))
		return
	}
	if dropped := s.hub.broadcast(msg); dropped > 0 {
		s.log.Warn("dropped slow dashboard clients", logx.Int("count", dropped))
	}
}

// Handler returns the page, socket, chart and asset routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	fileServer := http.FileServer(http.FS(s.staticFS))

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/chart.png", s.handleChart)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Run serves until ctx is done, then shuts down and disconnects sockets.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.log.Info("dashboard listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.hub.closeAll()
	if err := srv.Shutdown(shCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	s.log.Info("dashboard stopped")
	return nil
}

// Close unsubscribes from the buffer and drops connected sockets.
func (s *Server) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.hub.closeAll()
}

type pageData struct {
	Title string
	View  View
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, pageData{Title: "Internet Speed Monitor", View: s.View()}); err != nil {
		s.log.Error("render page failed", logx.Err(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	v := s.View()

	s.chartMu.Lock()
	img := s.chartPNG
	if img == nil || s.chartVersion != v.Version {
		var err error
		img, err = RenderChart(v.Chart, s.cfg.ChartWidth, s.cfg.ChartHeight)
		if err != nil {
			s.chartMu.Unlock()
			s.log.Error("render chart failed", logx.Err(err))
			http.Error(w, "chart unavailable", http.StatusInternalServerError)
			return
		}
		s.chartPNG, s.chartVersion = img, v.Version
	}
	s.chartMu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

func encode(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
