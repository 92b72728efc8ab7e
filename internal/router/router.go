// Package router implements the integration layer tying every other
// component together for one incoming channel message, per §4.11.
// Grounded on the teacher's internal/gateway server loop (rate limit →
// session lookup → agent dispatch → reply) generalized from its
// concrete multi-provider agent call to the single AgentConnection
// transport this gateway speaks.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ag3nt-dev/gateway/internal/channel"
	"github.com/ag3nt-dev/gateway/internal/errs"
	"github.com/ag3nt-dev/gateway/internal/ratelimit"
	"github.com/ag3nt-dev/gateway/internal/sessions"
	"github.com/ag3nt-dev/gateway/internal/usage"
)

// AgentTransport is the subset of *agentconn.AgentConnection the router
// depends on, narrowed to an interface so tests can inject a fake worker
// without a live socket.
type AgentTransport interface {
	SendTurn(ctx context.Context, sessionID, text string, metadata map[string]any) (json.RawMessage, error)
	SendResume(ctx context.Context, sessionID string, decisions map[string]any) (json.RawMessage, error)
}

// turnResponse is the subset of the worker's turn-response payload the
// router inspects.
type turnResponse struct {
	Reply     string          `json:"reply"`
	Interrupt *interruptInfo  `json:"interrupt,omitempty"`
	Usage     *usagePayload   `json:"usage,omitempty"`
	Error     *workerErrorMsg `json:"error,omitempty"`
}

type interruptInfo struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

type usagePayload struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	LatencyMs    int64  `json:"latencyMs"`
}

type workerErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Router wires rate limiting, session admission, directive assembly, the
// worker transport, usage tracking, and the reply path together.
type Router struct {
	chatLimiter *ratelimit.Limiter
	sessions    *sessions.Manager
	lifecycle   *sessions.LifecycleManager
	agent       AgentTransport
	usageTrack  *usage.Tracker
	registry    *errs.Registry

	// turnLocks serializes Handle per sessionId (§5 Ordering guarantees:
	// the next turn for a session must not start until the previous
	// turn's response or terminal error has been delivered); distinct
	// sessions remain unrestricted.
	turnLocks keyedMutex
}

// Config bundles a Router's collaborators.
type Config struct {
	ChatLimiter *ratelimit.Limiter
	Sessions    *sessions.Manager
	Lifecycle   *sessions.LifecycleManager
	Agent       AgentTransport
	Usage       *usage.Tracker
	Registry    *errs.Registry
}

// New constructs a Router from cfg.
func New(cfg Config) *Router {
	return &Router{
		chatLimiter: cfg.ChatLimiter,
		sessions:    cfg.Sessions,
		lifecycle:   cfg.Lifecycle,
		agent:       cfg.Agent,
		usageTrack:  cfg.Usage,
		registry:    cfg.Registry,
	}
}

// Handle runs the 8-step flow from §4.11 for one inbound channel message,
// replying through adapter.
func (r *Router) Handle(ctx context.Context, adapter channel.Channel, msg channel.Message) {
	limitKey := msg.ChannelType + ":" + msg.UserID
	if res := r.chatLimiter.Check(limitKey); !res.Allowed {
		r.replyError(ctx, adapter, msg.ChatID, r.registry.Create("GW-API-004", nil))
		return
	}

	sessionID := sessions.BuildID(msg.ChannelType, msg.ChannelID, msg.ChatID)
	lock := r.turnLocks.Lock(sessionID)
	defer lock.Unlock()

	session := r.sessions.GetOrCreate(msg.ChannelType, msg.ChannelID, msg.ChatID, msg.UserID, msg.UserName)

	if !r.sessions.IsPaired(session.SessionID) {
		r.handleAdmission(ctx, adapter, session, msg)
		return
	}

	var data []byte
	var err error
	if session.PendingInterruptID != "" {
		data, err = r.agent.SendResume(ctx, session.SessionID, map[string]any{"decision": msg.Text})
		r.sessions.ClearPendingInterrupt(session.SessionID)
	} else {
		prefix := sessions.BuildDirectivePrefix(session.Directives)
		data, err = r.agent.SendTurn(ctx, session.SessionID, prefix+msg.Text, map[string]any{
			"channelType": msg.ChannelType,
			"userId":      msg.UserID,
		})
	}
	if err != nil {
		r.replyError(ctx, adapter, msg.ChatID, r.classifyTransportFailure(err))
		return
	}

	var resp turnResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.replyError(ctx, adapter, msg.ChatID, r.registry.Create("GW-INT-001", err.Error()))
		return
	}

	if resp.Error != nil {
		r.replyError(ctx, adapter, msg.ChatID, r.registry.Create(resp.Error.Code, resp.Error.Message))
		return
	}

	if resp.Interrupt != nil {
		r.sessions.SetPendingInterrupt(session.SessionID, resp.Interrupt.ID)
		_ = adapter.Send(ctx, msg.ChatID, channel.Reply{Text: resp.Interrupt.Question})
		return
	}

	if resp.Usage != nil && r.usageTrack != nil {
		r.usageTrack.Insert(usage.RecordInput{
			Provider:     resp.Usage.Provider,
			Model:        resp.Usage.Model,
			SessionID:    session.SessionID,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			LatencyMs:    resp.Usage.LatencyMs,
			Success:      true,
		})
	}

	if err := adapter.Send(ctx, msg.ChatID, channel.Reply{Text: resp.Reply}); err != nil {
		slog.Error("router: reply send failed", "channelType", msg.ChannelType, "chatId", msg.ChatID, "error", err)
	}
}

// handleAdmission runs the pairing handshake for an unpaired session and
// sends exactly one reply: a fresh code, the approval acknowledgement, or a
// rejection. The message that carried the code is not forwarded to the
// worker; the user's next message starts the first turn.
func (r *Router) handleAdmission(ctx context.Context, adapter channel.Channel, session *sessions.Session, msg channel.Message) {
	if session.PairingCode == "" {
		code, err := r.sessions.GeneratePairingCode(session.SessionID)
		if err != nil {
			r.replyError(ctx, adapter, msg.ChatID, r.registry.Create("GW-SESS-001", nil))
			return
		}
		adapter.Send(ctx, msg.ChatID, channel.Reply{Text: "Pairing required. Enter code: " + code})
		return
	}

	if r.sessions.Approve(session.SessionID, msg.Text) {
		adapter.Send(ctx, msg.ChatID, channel.Reply{Text: "Paired. You can now chat normally."})
		return
	}

	r.replyError(ctx, adapter, msg.ChatID, r.registry.Create("GW-SESS-002", nil))
}

// classifyTransportFailure maps a raw SendTurn error into the registry
// codes §4.11 names: GW-API-001/002 for unavailable/timeout, else
// GW-INT-001.
func (r *Router) classifyTransportFailure(err error) *errs.Error {
	lower := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout") {
		return r.registry.Create("GW-API-002", err.Error())
	}
	switch errs.ClassifyTransport(err) {
	case errs.TransportTransient:
		return r.registry.Create("GW-API-001", err.Error())
	default:
		return r.registry.Create("GW-INT-001", err.Error())
	}
}

func (r *Router) replyError(ctx context.Context, adapter channel.Channel, chatID string, e *errs.Error) {
	adapter.Send(ctx, chatID, channel.Reply{Text: e.Message})
}

// keyedMutex hands out a per-key *sync.Mutex, lazily created, so unrelated
// keys never block on each other's critical section. Entries are never
// removed, so the map keeps one mutex for every session id the router has
// handled, including sessions the lifecycle sweep has since destroyed.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock returns a locked mutex for key; callers must call Unlock on the
// returned mutex when done.
func (k *keyedMutex) Lock(key string) *sync.Mutex {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m
}
