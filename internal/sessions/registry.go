// Package sessions implements Fern's session & thread registry: it
// binds a stable channel-scoped thread id to a long-lived LLM reasoning
// session, reusing it until an explicit rotation or TTL expiry. State
// lives both in an in-memory map (fast path) and in the store's
// thread_sessions table (durable across restarts); a restart rehydrates
// an entry lazily on its first access rather than eagerly loading
// everything at boot.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// Session is the in-memory view of one thread's live reasoning context.
type Session struct {
	ID        string
	ThreadID  string
	ShareURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry binds (channel, user) thread identities to persistent LLM
// sessions with TTL-bounded reuse.
type Registry struct {
	mu       sync.RWMutex // also guards the TTL sweep, so a read never observes a half-evicted entry
	byThread map[string]*Session

	store  *store.Store
	runner llm.Runner
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry constructs a Registry backed by st and runner, evicting
// entries idle longer than ttl.
func NewRegistry(st *store.Store, runner llm.Runner, ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		byThread: make(map[string]*Session),
		store:    st,
		runner:   runner,
		ttl:      ttl,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreateSession returns the live session bound to threadID, creating
// one via the LLM client if none exists or the existing one has expired.
// An empty threadID is itself a valid scope key.
func (r *Registry) GetOrCreateSession(ctx context.Context, threadID, title string) (sessionID, shareURL string, err error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked(ctx, now)

	if s, ok := r.byThread[threadID]; ok {
		s.UpdatedAt = now
		if err := r.store.TouchThreadSession(ctx, threadID, now); err != nil {
			r.logger.Warn("session registry: touch failed", "thread_id", threadID, "error", err)
		}
		return s.ID, s.ShareURL, nil
	}

	if ts, lookErr := r.store.GetThreadSession(ctx, threadID); lookErr == nil && ts != nil {
		if now.Sub(ts.UpdatedAt) < r.ttl {
			s := &Session{ID: ts.SessionID, ThreadID: threadID, ShareURL: ts.ShareURL, CreatedAt: ts.CreatedAt, UpdatedAt: now}
			r.byThread[threadID] = s
			_ = r.store.TouchThreadSession(ctx, threadID, now)
			return s.ID, s.ShareURL, nil
		}
		// Stale durable row past TTL — fall through and mint a new session.
		_ = r.store.DeleteThreadSession(ctx, threadID)
	}

	res, err := r.runner.CreateSession(ctx, title)
	if err != nil {
		return "", "", fmt.Errorf("create session for thread %q: %w", threadID, err)
	}

	s := &Session{ID: res.SessionID, ThreadID: threadID, ShareURL: res.ShareURL, CreatedAt: now, UpdatedAt: now}
	r.byThread[threadID] = s

	if err := r.store.UpsertThreadSession(ctx, store.ThreadSession{
		ThreadID: threadID, SessionID: s.ID, ShareURL: s.ShareURL, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		r.logger.Warn("session registry: durable persist failed", "thread_id", threadID, "error", err)
	}

	return s.ID, s.ShareURL, nil
}

// Rotate forces a new session to be minted on the next GetOrCreateSession
// call for threadID, discarding both the in-memory and durable entry.
func (r *Registry) Rotate(ctx context.Context, threadID string) error {
	r.mu.Lock()
	delete(r.byThread, threadID)
	r.mu.Unlock()
	return r.store.DeleteThreadSession(ctx, threadID)
}

// Lookup returns the in-memory session for threadID without creating one.
func (r *Registry) Lookup(threadID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byThread[threadID]
	return s, ok
}

// evictExpiredLocked purges in-memory and durable entries idle past ttl.
// Callers must hold r.mu.
func (r *Registry) evictExpiredLocked(ctx context.Context, now time.Time) {
	for threadID, s := range r.byThread {
		if now.Sub(s.UpdatedAt) >= r.ttl {
			delete(r.byThread, threadID)
		}
	}
	stale, err := r.store.ListStaleThreadSessions(ctx, now.Add(-r.ttl))
	if err != nil {
		r.logger.Warn("session registry: TTL sweep query failed", "error", err)
		return
	}
	for _, ts := range stale {
		if err := r.store.DeleteThreadSession(ctx, ts.ThreadID); err != nil {
			r.logger.Warn("session registry: TTL eviction failed", "thread_id", ts.ThreadID, "error", err)
		}
	}
}
