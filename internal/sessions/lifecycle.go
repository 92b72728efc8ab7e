package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ag3nt-dev/gateway/internal/events"
)

// Event names emitted by LifecycleManager, per §4.5.
const (
	EventSessionsCleanedUp = "sessionsCleanedUp"
	EventSessionDestroyed  = "sessionDestroyed"
	EventSessionResumed    = "sessionResumed"
)

// SessionsCleanedUpPayload accompanies EventSessionsCleanedUp.
type SessionsCleanedUpPayload struct {
	Count int
}

// SessionDestroyedPayload accompanies EventSessionDestroyed.
type SessionDestroyedPayload struct {
	SessionID string
}

// SessionResumedPayload accompanies EventSessionResumed.
type SessionResumedPayload struct {
	SessionID string
}

// LifecycleConfig configures the periodic expiry sweep, per §4.5.
type LifecycleConfig struct {
	SessionTimeout  time.Duration
	CleanupInterval time.Duration

	// CleanupCron, when set, overrides CleanupInterval with a cron
	// expression (e.g. "0 * * * *" for hourly) evaluated by
	// github.com/adhocore/gronx — giving operators wall-clock-aligned
	// sweeps instead of a sweep interval measured from process start.
	CleanupCron string
}

// LifecycleManager owns timed expiry reclamation, destroy-with-history
// cascade, and ownership-validated resume, publishing events on a shared
// events.Bus.
type LifecycleManager struct {
	cfg   LifecycleConfig
	store Store
	log   MessageLog
	bus   *events.Bus

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLifecycleManager constructs a LifecycleManager against store/log,
// applying defaults (24h timeout, hourly sweep) when zero-valued.
func NewLifecycleManager(cfg LifecycleConfig, store Store, log MessageLog, bus *events.Bus) *LifecycleManager {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if bus == nil {
		bus = events.New()
	}
	if cfg.CleanupCron != "" && !gronx.IsValid(cfg.CleanupCron) {
		slog.Warn("sessions: invalid cleanup_cron, falling back to cleanup_interval", "expr", cfg.CleanupCron)
		cfg.CleanupCron = ""
	}
	return &LifecycleManager{cfg: cfg, store: store, log: log, bus: bus, stopCh: make(chan struct{})}
}

// Events returns the bus lifecycle events are published on, so callers can
// Subscribe.
func (lm *LifecycleManager) Events() *events.Bus { return lm.bus }

// Start launches the periodic sweep goroutine. Stop terminates it. When
// CleanupCron is set the sweep fires on the cron schedule (wall-clock
// aligned); otherwise it fires every CleanupInterval from Start's call time.
func (lm *LifecycleManager) Start() {
	if lm.cfg.CleanupCron != "" {
		go lm.cronSweepLoop()
		return
	}
	go func() {
		ticker := time.NewTicker(lm.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-lm.stopCh:
				return
			case <-ticker.C:
				lm.CleanupExpired()
			}
		}
	}()
}

// cronSweepLoop recomputes the next cron firing time after every sweep,
// since gronx.NextTick has no notion of a recurring timer itself.
func (lm *LifecycleManager) cronSweepLoop() {
	for {
		next, err := gronx.NextTick(lm.cfg.CleanupCron, false)
		if err != nil {
			slog.Error("sessions: cron schedule evaluation failed, stopping sweep", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-lm.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			lm.CleanupExpired()
		}
	}
}

func (lm *LifecycleManager) Stop() {
	lm.stopOnce.Do(func() { close(lm.stopCh) })
}

// CleanupExpired destroys every session whose inactivity exceeds
// SessionTimeout and emits EventSessionsCleanedUp with the count, even
// when the count is zero (callers filter on Count > 0 if they only want
// non-trivial sweeps).
func (lm *LifecycleManager) CleanupExpired() int {
	now := time.Now()
	count := 0
	for _, s := range lm.store.All() {
		if now.Sub(s.LastActivityAt) > lm.cfg.SessionTimeout {
			lm.Destroy(s.SessionID)
			count++
		}
	}
	lm.bus.Emit(events.Event{Name: EventSessionsCleanedUp, Payload: SessionsCleanedUpPayload{Count: count}})
	return count
}

// Destroy deletes message-log rows for sessionID before removing the
// session record, so an observer of either step never sees an orphaned
// message (§4.5, §8 Lifecycle cascade property).
func (lm *LifecycleManager) Destroy(sessionID string) error {
	if lm.log != nil {
		if err := lm.log.DeleteForSession(sessionID); err != nil {
			return err
		}
	}
	lm.store.Delete(sessionID)
	lm.bus.Emit(events.Event{Name: EventSessionDestroyed, Payload: SessionDestroyedPayload{SessionID: sessionID}})
	return nil
}

// Resume returns the session for sessionID only if it exists and every
// field of ctx matches the stored session's ownership tuple — any single
// mismatch yields nil, the defense against session-id guessing across
// channels. On success, LastActivityAt is touched and
// EventSessionResumed is emitted.
func (lm *LifecycleManager) Resume(sessionID string, ctx ResumeContext) *Session {
	s, ok := lm.store.Get(sessionID)
	if !ok {
		return nil
	}
	if !s.matchesOwnership(ctx) {
		return nil
	}
	s.touch(time.Now(), "")
	lm.store.Put(s)
	lm.bus.Emit(events.Event{Name: EventSessionResumed, Payload: SessionResumedPayload{SessionID: sessionID}})
	return s
}
