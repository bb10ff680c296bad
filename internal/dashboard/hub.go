package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cast"

	"speedwatch/internal/task/scheduler"
	"speedwatch/pkg/logx"
)

const (
	msgView  = "view"
	msgAck   = "ack"
	msgError = "error"

	actionSetInterval = "set_interval"
	actionRunTest     = "run_test"

	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4096
	wsSendQueue    = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(u.Host), strings.TrimSpace(r.Host))
	},
}

// message is the server-to-page envelope.
type message struct {
	Type     string `json:"type"`
	View     *View  `json:"view,omitempty"`
	Action   string `json:"action,omitempty"`
	Message  string `json:"message,omitempty"`
	Interval int    `json:"interval,omitempty"`
}

// control is a page-to-server request.
type control struct {
	Action  string `json:"action"`
	Seconds any    `json:"seconds,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, wsSendQueue), done: make(chan struct{})}
}

// enqueue never blocks. False means the client is gone or too slow.
func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		}
	}
}

type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub { return &hub{clients: map[*client]struct{}{}} }

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues b for every client and disconnects those whose queue is
// full. It returns how many were dropped.
func (h *hub) broadcast(b []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for c := range h.clients {
		if !c.enqueue(b) {
			delete(h.clients, c)
			c.close()
			dropped++
		}
	}
	return dropped
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(conn)
	conn.SetReadLimit(wsReadLimit)

	// Register and queue the current view under the view lock so no newer
	// broadcast can overtake it.
	s.mu.Lock()
	v := s.view
	initial, err := encode(message{Type: msgView, View: &v})
	if err == nil {
		s.hub.add(c)
		c.enqueue(initial)
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Error("encode view failed", logx.Err(err))
		c.close()
		return
	}

	s.metrics.ClientConnected()
	s.log.Debug("dashboard client connected", logx.String("remote", r.RemoteAddr))
	defer func() {
		s.hub.remove(c)
		c.close()
		s.metrics.ClientDisconnected()
		s.log.Debug("dashboard client disconnected", logx.String("remote", r.RemoteAddr))
	}()

	go c.writeLoop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply, err := encode(s.handleControl(data))
		if err != nil {
			continue
		}
		if !c.enqueue(reply) {
			return
		}
	}
}

// controlSeconds accepts whole numbers, as JSON numbers or strings.
func controlSeconds(v any) (int, bool) {
	switch x := v.(type) {
	case nil, bool:
		return 0, false
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			return 0, false
		}
	}
	n, err := cast.ToIntE(v)
	return n, err == nil
}

// handleControl applies one page request and returns the reply. It never
// panics on malformed input.
func (s *Server) handleControl(data []byte) message {
	var req control
	if err := json.Unmarshal(data, &req); err != nil {
		return message{Type: msgError, Message: "malformed request"}
	}

	switch req.Action {
	case actionSetInterval:
		n, ok := controlSeconds(req.Seconds)
		if !ok {
			return message{Type: msgError, Action: req.Action, Message: "seconds must be an integer", Interval: s.ctl.Interval()}
		}
		if err := s.ctl.SetInterval(n); err != nil {
			msg := err.Error()
			if errors.Is(err, scheduler.ErrIntervalOutOfRange) {
				msg = fmt.Sprintf("interval must be between %d and %d seconds", scheduler.MinInterval, scheduler.MaxInterval)
			}
			return message{Type: msgError, Action: req.Action, Message: msg, Interval: s.ctl.Interval()}
		}
		s.log.Info("interval changed from dashboard", logx.Int("seconds", n))
		s.Refresh()
		return message{Type: msgAck, Action: req.Action, Message: "interval updated", Interval: n}

	case actionRunTest:
		if !s.limiter.Allow() {
			s.metrics.ManualTrigger("rate_limited")
			return message{Type: msgError, Action: req.Action, Message: "too many requests, try again shortly"}
		}
		if !s.ctl.TriggerNow() {
			s.metrics.ManualTrigger("coalesced")
			return message{Type: msgAck, Action: req.Action, Message: "a test is already queued"}
		}
		s.metrics.ManualTrigger("queued")
		s.log.Info("manual test requested")
		return message{Type: msgAck, Action: req.Action, Message: "test queued"}

	default:
		return message{Type: msgError, Action: req.Action, Message: "unknown action"}
	}
}
