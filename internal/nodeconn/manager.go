// Package nodeconn implements the NodeConnectionManager: the companion
// WebSocket server side of the node protocol, owning live connections and
// correlating outstanding action requests by requestId. Grounded on the
// teacher's mcp/manager_connect.go (tryReconnect/healthLoop sweep shape)
// and whatsapp/whatsapp.go's listenLoop/connect pattern, here inverted
// from an outbound client loop to an inbound server accept-and-dispatch
// loop, using gorilla/websocket as the teacher does throughout its
// channel transports.
package nodeconn

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ag3nt-dev/gateway/internal/events"
	"github.com/ag3nt-dev/gateway/internal/nodeproto"
	"github.com/ag3nt-dev/gateway/internal/nodes"
	"github.com/ag3nt-dev/gateway/internal/telemetry"
	"github.com/ag3nt-dev/gateway/internal/pairing"
)

// State is a connection's position in the connecting → authenticated →
// alive → {closed|timed-out} lifecycle described in §4.9.
type State string

const (
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateAlive         State = "alive"
	StateClosed        State = "closed"
	StateTimedOut      State = "timed-out"
)

const (
	heartbeatSweepInterval = 30 * time.Second
	heartbeatTimeout       = 90 * time.Second
	defaultActionTimeout   = 30 * time.Second
)

type pendingAction struct {
	resolve   chan ActionResult
	startedAt time.Time
	timer     *time.Timer
}

// ActionResult is the outcome delivered to a caller of SendActionToNode.
type ActionResult struct {
	Result any
	Err    error
}

// connection tracks one live companion socket.
type connection struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	nodeID        string
	state         State
	lastHeartbeat time.Time
	writeMu       sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingAction
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Manager owns every live companion connection.
type Manager struct {
	registry *nodes.Registry
	pairer   *pairing.Manager
	bus      *events.Bus

	mu    sync.RWMutex
	conns map[string]*connection

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager constructs a Manager bound to registry and pairer.
func NewManager(registry *nodes.Registry, pairer *pairing.Manager, bus *events.Bus) *Manager {
	if bus == nil {
		bus = events.New()
	}
	m := &Manager{registry: registry, pairer: pairer, bus: bus, conns: make(map[string]*connection), stopCh: make(chan struct{})}
	go m.heartbeatMonitor()
	return m
}

// Stop halts the heartbeat monitor and closes every live connection.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conns {
		delete(m.conns, id)
		m.closeConnectionLocked(id, c, "manager shutting down")
	}
}

// HandleConnection takes ownership of an accepted WebSocket upgrade and
// runs its register → authenticate → dispatch lifecycle until the socket
// closes. It blocks until the connection ends, so callers run it in its
// own goroutine per accepted socket.
func (m *Manager) HandleConnection(ws *websocket.Conn) {
	c := &connection{conn: ws, state: StateConnecting, pending: make(map[string]*pendingAction)}

	ws.SetReadDeadline(time.Now().Add(30 * time.Second))
	var raw nodeproto.Frame
	if err := ws.ReadJSON(&raw); err != nil {
		ws.Close()
		return
	}
	if err := nodeproto.Validate(raw); err != nil || raw.Type != nodeproto.TypeRegister {
		c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeRegisterAck, Timestamp: nowMs(), Payload: mustJSON(nodeproto.RegisterAckPayload{Success: false, Error: "expected a valid register frame"})})
		ws.Close()
		return
	}

	var reg nodeproto.RegisterPayload
	_ = json.Unmarshal(raw.Payload, &reg)

	nodeID, freshPairing, ok := m.authenticate(reg)
	if !ok {
		c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeRegisterAck, Timestamp: nowMs(), Payload: mustJSON(nodeproto.RegisterAckPayload{Success: false, Error: "authentication failed"})})
		ws.Close()
		return
	}

	c.nodeID = nodeID
	c.state = StateAuthenticated
	c.lastHeartbeat = time.Now()

	caps := make([]nodes.Capability, 0, len(reg.Capabilities))
	for _, cap := range reg.Capabilities {
		caps = append(caps, nodes.Capability(cap))
	}
	if _, err := m.registry.Register(nodeID, reg.Name, caps); err != nil {
		c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeRegisterAck, Timestamp: nowMs(), Payload: mustJSON(nodeproto.RegisterAckPayload{Success: false, Error: err.Error()})})
		ws.Close()
		return
	}
	// Only mint a shared secret on a fresh pairing-code registration — a
	// reconnecting node already holds one from its prior Approve call, and
	// regenerating it here would silently invalidate it (the node was
	// never told about the new value, so it could never reconnect again).
	var sharedSecret string
	if freshPairing {
		approved, err := m.pairer.Approve(nodeID, reg.Name, "")
		if err != nil {
			c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeRegisterAck, Timestamp: nowMs(), Payload: mustJSON(nodeproto.RegisterAckPayload{Success: false, Error: err.Error()})})
			ws.Close()
			return
		}
		sharedSecret = approved.SharedSecret
	}

	m.mu.Lock()
	m.conns[nodeID] = c
	m.mu.Unlock()
	c.state = StateAlive

	ackPayload := nodeproto.RegisterAckPayload{Success: true, SharedSecret: sharedSecret}
	if err := c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeRegisterAck, Timestamp: nowMs(), NodeID: nodeID, Payload: mustJSON(ackPayload)}); err != nil {
		m.removeConnection(nodeID, "write failed during registration")
		return
	}

	m.readLoop(c)
}

// authenticate validates a register frame against an outstanding pairing
// code (consumed) or an approved node's shared secret (non-consuming). A
// pairing-code registration gets a freshly minted nodeId; a shared-secret
// reconnect keeps the nodeId carried in its token. The middle return reports whether this
// was a fresh pairing-code registration (as opposed to a shared-secret
// reconnect), which callers use to decide whether a new shared secret needs
// minting and returning in the register:ack.
func (m *Manager) authenticate(reg nodeproto.RegisterPayload) (nodeID string, freshPairing bool, ok bool) {
	if reg.AuthToken == "" {
		return "", false, false
	}
	if m.pairer.Validate(reg.AuthToken) {
		return mintNodeID(), true, true
	}
	// Reconnecting node: authToken carries "{nodeId}:{sharedSecret}".
	id, secret, split := splitOnce(reg.AuthToken, ':')
	if split && m.pairer.ValidateSharedSecret(id, secret) {
		return id, false, true
	}
	return "", false, false
}

func (m *Manager) readLoop(c *connection) {
	defer m.removeConnection(c.nodeID, "socket closed")
	for {
		c.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		var f nodeproto.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Unknown() {
			slog.Warn("nodeconn: ignoring unrecognized frame type", "type", f.Type, "nodeId", c.nodeID)
			continue
		}
		if err := nodeproto.Validate(f); err != nil {
			c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeError, Timestamp: nowMs(), Payload: mustJSON(nodeproto.ErrorPayload{Code: "INVALID_MESSAGE", Message: err.Error()})})
			continue
		}

		switch f.Type {
		case nodeproto.TypeHeartbeat:
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
			c.writeJSON(nodeproto.Frame{Type: nodeproto.TypeHeartbeatAck, Timestamp: nowMs(), NodeID: c.nodeID})
		case nodeproto.TypeActionResponse:
			var p nodeproto.ActionResponsePayload
			_ = json.Unmarshal(f.Payload, &p)
			m.resolveAction(c, p)
		case nodeproto.TypeCapabilityUpdate:
			var p nodeproto.CapabilityUpdatePayload
			_ = json.Unmarshal(f.Payload, &p)
			caps := make([]nodes.Capability, 0, len(p.Capabilities))
			for _, cap := range p.Capabilities {
				caps = append(caps, nodes.Capability(cap))
			}
			m.registry.UpdateCapabilities(c.nodeID, caps)
		case nodeproto.TypeDisconnect:
			return
		}
	}
}

func (m *Manager) resolveAction(c *connection, p nodeproto.ActionResponsePayload) {
	c.pendingMu.Lock()
	pa, ok := c.pending[p.RequestID]
	if ok {
		delete(c.pending, p.RequestID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	pa.timer.Stop()
	if p.Success {
		pa.resolve <- ActionResult{Result: p.Result}
	} else {
		pa.resolve <- ActionResult{Err: errors.New(p.Error)}
	}
}

// SendActionToNode dispatches an action:request to nodeID and blocks
// until the matching action:response arrives or timeoutMs elapses
// (default 30s). Wrapped in a telemetry span per action, since this is the
// one node round-trip the router waits on synchronously.
func (m *Manager) SendActionToNode(nodeID, action string, params map[string]any, timeoutMs int64) (result any, err error) {
	_, endSpan := telemetry.StartSpan(context.Background(), "nodeconn.action",
		attribute.String("nodeconn.node_id", nodeID), attribute.String("nodeconn.action", action))
	defer endSpan(&err)

	m.mu.RLock()
	c, ok := m.conns[nodeID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node %q is not connected", nodeID)
	}

	timeout := defaultActionTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	requestID := fmt.Sprintf("action-%d-%s", time.Now().UnixMilli(), randToken(6))

	pa := &pendingAction{resolve: make(chan ActionResult, 1), startedAt: time.Now()}
	c.pendingMu.Lock()
	c.pending[requestID] = pa
	c.pendingMu.Unlock()

	pa.timer = time.AfterFunc(timeout, func() {
		c.pendingMu.Lock()
		if _, still := c.pending[requestID]; still {
			delete(c.pending, requestID)
			c.pendingMu.Unlock()
			pa.resolve <- ActionResult{Err: errors.New("Action timeout")}
			return
		}
		c.pendingMu.Unlock()
	})

	if err := c.writeJSON(nodeproto.Frame{
		Type: nodeproto.TypeActionRequest, Timestamp: nowMs(), NodeID: nodeID,
		Payload: mustJSON(nodeproto.ActionRequestPayload{RequestID: requestID, Action: action, Params: params, TimeoutMs: timeoutMs}),
	}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		pa.timer.Stop()
		return nil, err
	}

	outcome := <-pa.resolve
	return outcome.Result, outcome.Err
}

func (m *Manager) removeConnection(nodeID, reason string) {
	m.mu.Lock()
	c, ok := m.conns[nodeID]
	if ok {
		delete(m.conns, nodeID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.closeConnectionLocked(nodeID, c, reason)
}

// closeConnectionLocked rejects every pending action for c, closes the
// socket, and flips the node offline in the registry. Callers must not
// hold m.mu when calling this if the connection is still in m.conns (it
// does its own removal bookkeeping elsewhere); this helper assumes the
// map entry has already been deleted.
func (m *Manager) closeConnectionLocked(nodeID string, c *connection, reason string) {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, pa := range c.pending {
		pa.timer.Stop()
		pa.resolve <- ActionResult{Err: errors.New("node disconnected")}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.conn.Close()
	m.registry.UpdateStatus(nodeID, nodes.StatusOffline)
	slog.Info("nodeconn: connection closed", "nodeId", nodeID, "reason", reason)
}

func (m *Manager) heartbeatMonitor() {
	ticker := time.NewTicker(heartbeatSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.RLock()
			stale := make([]string, 0)
			for id, c := range m.conns {
				c.mu.Lock()
				idle := now.Sub(c.lastHeartbeat)
				c.mu.Unlock()
				if idle > heartbeatTimeout {
					stale = append(stale, id)
				}
			}
			m.mu.RUnlock()
			for _, id := range stale {
				m.removeConnection(id, "heartbeat timeout")
			}
		}
	}
}

func mintNodeID() string {
	return fmt.Sprintf("companion-%d-%s", time.Now().UnixMilli(), randToken(9))
}

func randToken(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			b[i] = alphabet[0]
			continue
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}

func nowMs() int64 { return time.Now().UnixMilli() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
