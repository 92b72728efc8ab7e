// Package agentconn implements AgentConnection: a single long-lived duplex
// connection to one worker process, multiplexing turn/resume/ping calls
// over line-delimited JSON frames with request/response correlation,
// reconnect-with-backoff, and basic transport metrics. Grounded on the
// teacher's mcp/manager_connect.go (tryReconnect, healthLoop, one-flight
// connect) and whatsapp/whatsapp.go's listenLoop, generalized from those
// channel-specific clients to a single generic worker transport per §4.10.
package agentconn

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ag3nt-dev/gateway/internal/telemetry"
)

// Config configures an AgentConnection.
type Config struct {
	URL             string
	Token           string
	RequestTimeout  time.Duration
	MaxReconnects   int
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 100 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

// requestFrame is the outbound shape: `{type, id, ...fields}`.
type requestFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data any    `json:"data,omitempty"`
}

// MarshalJSON writes a map Data's entries as top-level fields beside type
// and id; any other non-nil Data is written under "data".
func (f requestFrame) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if fields, ok := f.Data.(map[string]any); ok {
		for k, v := range fields {
			out[k] = v
		}
	} else if f.Data != nil {
		out["data"] = f.Data
	}
	out["type"] = f.Type
	out["id"] = f.ID
	return json.Marshal(out)
}

// responseFrame is the inbound shape.
type responseFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

type pendingRequest struct {
	resolve   chan responseFrame
	startedAt time.Time
	timer     *time.Timer
}

// StreamHandler receives `type: "stream"` frames, which never resolve a
// pending request.
type StreamHandler func(id string, data json.RawMessage)

// Metrics is a snapshot of AgentConnection's transport counters.
type Metrics struct {
	TotalRequests   int64
	TotalLatencyMs  int64
	ConnectedSince  time.Time
	PendingCount    int
	Connected       bool
}

// AgentConnection owns the single connection to the worker.
type AgentConnection struct {
	cfg Config

	mu              sync.Mutex
	conn            *websocket.Conn
	connecting      chan struct{} // non-nil while a connect() is in flight
	shouldReconnect bool
	attempts        int
	connectedAt     time.Time

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	totalRequests  int64
	totalLatencyMs int64

	onStream StreamHandler
	closed   bool
}

// New constructs an AgentConnection. Callers must call Connect before
// SendRequest.
func New(cfg Config) *AgentConnection {
	cfg.applyDefaults()
	return &AgentConnection{cfg: cfg, pending: make(map[string]*pendingRequest), shouldReconnect: true}
}

// OnStream registers the handler invoked for stream frames.
func (a *AgentConnection) OnStream(fn StreamHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStream = fn
}

// Connect establishes the socket, one-flight: concurrent callers await the
// same in-flight attempt rather than dialing twice.
func (a *AgentConnection) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		return nil
	}
	if a.connecting != nil {
		ch := a.connecting
		a.mu.Unlock()
		<-ch
		a.mu.Lock()
		connected := a.conn != nil
		a.mu.Unlock()
		if connected {
			return nil
		}
		return errors.New("agentconn: connection attempt failed")
	}
	ch := make(chan struct{})
	a.connecting = ch
	a.mu.Unlock()

	err := a.dial(ctx)

	a.mu.Lock()
	a.connecting = nil
	close(ch)
	a.mu.Unlock()
	return err
}

func (a *AgentConnection) dial(ctx context.Context) error {
	header := http.Header{}
	if a.cfg.Token != "" {
		header.Set("X-Gateway-Token", a.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		a.scheduleReconnect()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.connectedAt = time.Now()
	a.attempts = 0
	a.mu.Unlock()

	go a.readLoop(conn)
	return nil
}

func (a *AgentConnection) readLoop(conn *websocket.Conn) {
	reader := bufio.NewReader(&wsReader{conn: conn})
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			a.handleClose(conn)
			return
		}
		var resp responseFrame
		if err := json.Unmarshal(line, &resp); err != nil {
			slog.Warn("agentconn: malformed frame", "error", err)
			continue
		}
		a.dispatch(resp)
	}
}

func (a *AgentConnection) dispatch(resp responseFrame) {
	if resp.Type == "stream" {
		a.mu.Lock()
		handler := a.onStream
		a.mu.Unlock()
		if handler != nil {
			handler(resp.ID, resp.Data)
		}
		return
	}

	a.pendingMu.Lock()
	pr, ok := a.pending[resp.ID]
	if ok {
		delete(a.pending, resp.ID)
	}
	a.pendingMu.Unlock()
	if !ok {
		return
	}
	pr.timer.Stop()

	a.totalLatencyMs += time.Since(pr.startedAt).Milliseconds()
	pr.resolve <- resp
}

// handleClose rejects every pending request with "Connection lost" and, if
// reconnection is enabled, schedules the next attempt with capped
// exponential backoff plus jitter.
func (a *AgentConnection) handleClose(conn *websocket.Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	shouldReconnect := a.shouldReconnect
	a.mu.Unlock()

	a.pendingMu.Lock()
	for id, pr := range a.pending {
		pr.timer.Stop()
		pr.resolve <- responseFrame{Type: "error", ID: id, Error: "Connection lost"}
		delete(a.pending, id)
	}
	a.pendingMu.Unlock()

	if shouldReconnect {
		a.scheduleReconnect()
	}
}

func (a *AgentConnection) scheduleReconnect() {
	a.mu.Lock()
	if !a.shouldReconnect {
		a.mu.Unlock()
		return
	}
	a.attempts++
	attempt := a.attempts
	a.mu.Unlock()

	if attempt > a.cfg.MaxReconnects {
		slog.Error("agentconn: max_reconnects", "attempts", attempt)
		return
	}

	backoff := time.Duration(float64(a.cfg.ReconnectBase) * pow2(attempt-1))
	if backoff > a.cfg.ReconnectMax {
		backoff = a.cfg.ReconnectMax
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(backoff))
	delay := backoff + jitter

	time.AfterFunc(delay, func() {
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return
		}
		_ = a.Connect(context.Background())
	})
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// SendRequest writes a framed request and blocks until the matching
// response frame arrives or the configured RequestTimeout elapses. The
// round-trip is wrapped in a telemetry span named after frameType, so a
// connected OTLP collector can attribute worker latency per frame type.
func (a *AgentConnection) SendRequest(ctx context.Context, frameType string, data any) (resp json.RawMessage, err error) {
	ctx, endSpan := telemetry.StartSpan(ctx, "agentconn."+frameType, attribute.String("agentconn.frame_type", frameType))
	defer endSpan(&err)

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil, errors.New("agentconn: not connected")
	}

	id := uuid.NewString()
	pr := &pendingRequest{resolve: make(chan responseFrame, 1), startedAt: time.Now()}

	a.pendingMu.Lock()
	a.pending[id] = pr
	a.pendingMu.Unlock()
	a.totalRequests++

	pr.timer = time.AfterFunc(a.cfg.RequestTimeout, func() {
		a.pendingMu.Lock()
		if _, still := a.pending[id]; still {
			delete(a.pending, id)
			a.pendingMu.Unlock()
			pr.resolve <- responseFrame{Type: "error", ID: id, Error: "request timed out"}
			return
		}
		a.pendingMu.Unlock()
	})

	payload, err := json.Marshal(requestFrame{Type: frameType, ID: id, Data: data})
	if err != nil {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
		pr.timer.Stop()
		return nil, err
	}
	payload = append(payload, '\n')

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
		pr.timer.Stop()
		return nil, err
	}

	select {
	case resp := <-pr.resolve:
		if resp.Error != "" {
			return nil, fmt.Errorf("%s", resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendTurn is a thin convenience wrapper over SendRequest for the `turn`
// frame type.
func (a *AgentConnection) SendTurn(ctx context.Context, sessionID, text string, metadata map[string]any) (json.RawMessage, error) {
	return a.SendRequest(ctx, "turn", map[string]any{"sessionId": sessionID, "text": text, "metadata": metadata})
}

// SendResume is a thin convenience wrapper over SendRequest for the
// `resume` frame type.
func (a *AgentConnection) SendResume(ctx context.Context, sessionID string, decisions map[string]any) (json.RawMessage, error) {
	return a.SendRequest(ctx, "resume", map[string]any{"sessionId": sessionID, "decisions": decisions})
}

// Ping is a thin convenience wrapper over SendRequest for the `ping` frame
// type, used as a lightweight liveness probe.
func (a *AgentConnection) Ping(ctx context.Context) error {
	_, err := a.SendRequest(ctx, "ping", nil)
	return err
}

// Metrics returns a snapshot of transport counters.
func (a *AgentConnection) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingMu.Lock()
	pending := len(a.pending)
	a.pendingMu.Unlock()
	return Metrics{
		TotalRequests:  a.totalRequests,
		TotalLatencyMs: a.totalLatencyMs,
		ConnectedSince: a.connectedAt,
		PendingCount:   pending,
		Connected:      a.conn != nil,
	}
}

// Close tears down the connection permanently: rejects all pending
// requests, clears the map, and disables reconnection.
func (a *AgentConnection) Close() error {
	a.mu.Lock()
	a.closed = true
	a.shouldReconnect = false
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	a.pendingMu.Lock()
	for id, pr := range a.pending {
		pr.timer.Stop()
		pr.resolve <- responseFrame{Type: "error", ID: id, Error: "Connection lost"}
		delete(a.pending, id)
	}
	a.pendingMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// wsReader adapts a *websocket.Conn's message stream to an io.Reader of
// newline-delimited frames, since the worker protocol frames one JSON
// value per text message rather than per physical line. Any bytes a
// caller's buffer can't hold in one Read are held in leftover rather than
// dropped.
type wsReader struct {
	conn     *websocket.Conn
	leftover []byte
}

func (r *wsReader) Read(p []byte) (int, error) {
	if len(r.leftover) == 0 {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		r.leftover = append(data, '\n')
	}
	n := copy(p, r.leftover)
	r.leftover = r.leftover[n:]
	return n, nil
}
