package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speedwatch/internal/buffer"
	"speedwatch/internal/observability/metrics"
	"speedwatch/internal/task/scheduler"
	"speedwatch/pkg/logx"
)

type fakeController struct {
	mu       sync.Mutex
	interval int
	pending  bool
	triggers int
}

func (f *fakeController) Interval() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

func (f *fakeController) SetInterval(n int) error {
	if err := scheduler.ValidateInterval(n); err != nil {
		return err
	}
	f.mu.Lock()
	f.interval = n
	f.mu.Unlock()
	return nil
}

func (f *fakeController) TriggerNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return false
	}
	f.pending = true
	f.triggers++
	return true
}

func (f *fakeController) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

type fixture struct {
	buf *buffer.Buffer
	ctl *fakeController
	m   *metrics.Metrics
	srv *Server
	ts  *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{buf: buffer.New(buffer.DefaultCapacity), ctl: &fakeController{interval: 60}, m: metrics.New()}
	srv, err := New(cfg, f.buf, f.ctl, f.m, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = srv
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		f.ts.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

// readUntil skips view pushes until a message of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) message {
	t.Helper()
	for i := 0; i < 10; i++ {
		if m := readMsg(t, conn); m.Type == typ {
			return m
		}
	}
	t.Fatalf("no %q message", typ)
	return message{}
}

func TestIndexRendersNoData(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	resp, err := http.Get(f.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "No data available yet.") {
		t.Fatalf("page lacks no-data text")
	}
}

func TestIndexRendersRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	for _, s := range samplesN(3) {
		f.buf.Push(s)
	}

	resp, err := http.Get(f.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"2024-03-01 12:02:00", "102.00", "12.00", "20.46"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("page lacks %q", want)
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	resp, err := http.Get(f.ts.URL + "/api/anything")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestChartAndStatic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.buf.Push(samplesN(1)[0])

	for path, ctype := range map[string]string{
		"/chart.png":        "image/png",
		"/static/app.js":    "javascript",
		"/static/style.css": "text/css",
		"/healthz":          "text/plain",
	} {
		resp, err := http.Get(f.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Type"); !strings.Contains(got, ctype) {
			t.Fatalf("%s: content type %q", path, got)
		}
	}
}

func TestSocketReceivesViewOnConnectAndPush(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	conn := f.dial(t)

	first := readMsg(t, conn)
	if first.Type != msgView || first.View == nil || first.View.NoData == "" {
		t.Fatalf("initial message: %+v", first)
	}

	f.buf.Push(samplesN(1)[0])
	next := readMsg(t, conn)
	if next.Type != msgView || next.View.Current == nil {
		t.Fatalf("pushed message: %+v", next)
	}
	if next.View.Version <= first.View.Version {
		t.Fatalf("version did not advance: %d -> %d", first.View.Version, next.View.Version)
	}
}

func TestControlSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{in: float64(90), want: 90, ok: true},
		{in: "45", want: 45, ok: true},
		{in: 60.5, ok: false},
		{in: true, ok: false},
		{in: false, ok: false},
		{in: nil, ok: false},
		{in: 1e12, ok: false},
		{in: "ten", ok: false},
	}
	for _, tt := range tests {
		got, ok := controlSeconds(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("%v: got %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSetIntervalValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	conn := f.dial(t)
	readMsg(t, conn)

	tests := []struct {
		seconds any
		typ     string
		want    int
	}{
		{seconds: 5, typ: msgError, want: 60},
		{seconds: 3601, typ: msgError, want: 60},
		{seconds: "abc", typ: msgError, want: 60},
		{seconds: 60.5, typ: msgError, want: 60},
		{seconds: true, typ: msgError, want: 60},
		{seconds: "60.5", typ: msgError, want: 60},
		{seconds: 10, typ: msgAck, want: 10},
		{seconds: "120", typ: msgAck, want: 120},
		{seconds: 3600, typ: msgAck, want: 3600},
	}
	for _, tt := range tests {
		if err := conn.WriteJSON(map[string]any{"action": "set_interval", "seconds": tt.seconds}); err != nil {
			t.Fatalf("write: %v", err)
		}
		got := readUntil(t, conn, tt.typ)
		if got.Action != actionSetInterval {
			t.Fatalf("%v: action %q", tt.seconds, got.Action)
		}
		if f.ctl.Interval() != tt.want {
			t.Fatalf("%v: interval %d want %d", tt.seconds, f.ctl.Interval(), tt.want)
		}
	}
	if v := f.srv.View(); v.Interval != 3600 {
		t.Fatalf("view interval %d", v.Interval)
	}
}

func TestRunTestRateLimitedAndCoalesced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{TriggerEvery: time.Hour})
	conn := f.dial(t)
	readMsg(t, conn)

	send := func() message {
		if err := conn.WriteJSON(map[string]string{"action": "run_test"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		m := readMsg(t, conn)
		for m.Type == msgView {
			m = readMsg(t, conn)
		}
		return m
	}

	if m := send(); m.Type != msgAck || m.Message != "test queued" {
		t.Fatalf("first trigger: %+v", m)
	}
	if m := send(); m.Type != msgError {
		t.Fatalf("second trigger should be rate limited: %+v", m)
	}
	if n := f.ctl.triggerCount(); n != 1 {
		t.Fatalf("triggers: %d", n)
	}

	// Refill the limiter; the scheduler still has one pending.
	f.srv.limiter.SetBurst(5)
	f.srv.limiter.SetLimit(1000)
	time.Sleep(20 * time.Millisecond)
	if m := send(); m.Type != msgAck || m.Message != "a test is already queued" {
		t.Fatalf("coalesced trigger: %+v", m)
	}

	expected := `
# HELP speedwatch_manual_triggers_total Manual run requests from the dashboard by result.
# TYPE speedwatch_manual_triggers_total counter
speedwatch_manual_triggers_total{result="coalesced"} 1
speedwatch_manual_triggers_total{result="queued"} 1
speedwatch_manual_triggers_total{result="rate_limited"} 1
`
	if err := testutil.GatherAndCompare(f.m.Registry(), strings.NewReader(expected), "speedwatch_manual_triggers_total"); err != nil {
		t.Fatal(err)
	}
}

func TestMalformedControl(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	conn := f.dial(t)
	readMsg(t, conn)

	for _, raw := range []string{"not json", `{"action":"reboot"}`, `{"action":"set_interval"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if m := readUntil(t, conn, msgError); m.Message == "" {
			t.Fatalf("%s: empty error message", raw)
		}
	}
	// Still serving.
	if err := conn.WriteJSON(map[string]any{"action": "set_interval", "seconds": 30}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, msgAck)
}

func TestCrossOriginRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	t.Parallel()

	h := newHub()
	c := &client{send: make(chan []byte, 1), done: make(chan struct{})}
	c.once.Do(func() {}) // no conn to close
	h.clients[c] = struct{}{}

	if dropped := h.broadcast([]byte("a")); dropped != 0 {
		t.Fatalf("first broadcast dropped %d", dropped)
	}
	if dropped := h.broadcast([]byte("b")); dropped != 1 {
		t.Fatalf("full queue should drop the client, dropped %d", dropped)
	}
	if h.len() != 0 {
		t.Fatalf("client still registered")
	}
}

func TestViewJSONShape(t *testing.T) {
	t.Parallel()

	b, err := encode(message{Type: msgView, View: &View{Interval: 60, NoData: NoDataText}})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["type"]) != `"view"` {
		t.Fatalf("type: %s", raw["type"])
	}
}
