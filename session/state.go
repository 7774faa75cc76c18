// Package session holds the network identity shared by every fetch tier.
package session

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Snapshot is a consistent copy of the session. Cookies is owned by the caller.
type Snapshot struct {
	Cookies   map[string]string `json:"cookies"`
	Identity  string            `json:"identity"`
	Synced    bool              `json:"synced"`
	AdoptedAt time.Time         `json:"adopted_at"`

	// Generation increments on every successful adopt and every invalidate.
	Generation uint64 `json:"generation"`
}

// CookieNames returns the cookie names in sorted order.
func (s Snapshot) CookieNames() []string {
	names := make([]string, 0, len(s.Cookies))
	for n := range s.Cookies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Persister stores the adopted session so a restart can skip a solve.
type Persister interface {
	SaveSession(Snapshot) error
	ClearSession() error
}

// Option configures a State.
type Option func(*State)

// WithPersister mirrors every adopt and invalidate to p.
func WithPersister(p Persister) Option {
	return func(s *State) { s.persister = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.logger = l }
}

// State is the believed-valid network identity: a filtered cookie set, the
// client identity string, and whether the set was adopted from a solve.
// Mutation is serialized; reads may run concurrently.
type State struct {
	mu        sync.RWMutex
	cookies   map[string]string
	identity  string
	synced    bool
	adoptedAt time.Time
	gen       uint64

	clearance       string
	allow           map[string]struct{}
	defaultIdentity string

	persister Persister
	logger    *slog.Logger
}

// New creates an unsynced State. The clearance cookie is always part of the
// allow-list.
func New(clearance string, allow []string, defaultIdentity string, opts ...Option) *State {
	s := &State{
		cookies:         make(map[string]string),
		identity:        defaultIdentity,
		clearance:       clearance,
		allow:           make(map[string]struct{}, len(allow)+1),
		defaultIdentity: defaultIdentity,
		logger:          slog.Default(),
	}
	s.allow[clearance] = struct{}{}
	for _, name := range allow {
		s.allow[name] = struct{}{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Adopt replaces the session with the allow-listed subset of cookies and the
// given identity. It returns false, leaving the state untouched, when the
// clearance cookie is absent or empty.
func (s *State) Adopt(cookies []*http.Cookie, identity string) bool {
	filtered := s.filter(cookies)
	if filtered[s.clearance] == "" {
		s.logger.Debug("session adopt rejected: no clearance cookie", "cookies", len(cookies))
		return false
	}
	if identity == "" {
		identity = s.defaultIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies = filtered
	s.identity = identity
	s.synced = true
	s.adoptedAt = time.Now()
	s.gen++

	if s.persister != nil {
		if err := s.persister.SaveSession(s.snapshotLocked()); err != nil {
			s.logger.Warn("session persist failed", "error", err)
		}
	}
	s.logger.Info("session adopted", "cookies", len(filtered), "identity", identity)
	return true
}

// Invalidate drops the cookie set and returns to the default identity.
func (s *State) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies = make(map[string]string)
	s.identity = s.defaultIdentity
	s.synced = false
	s.adoptedAt = time.Time{}
	s.gen++

	if s.persister != nil {
		if err := s.persister.ClearSession(); err != nil {
			s.logger.Warn("session clear failed", "error", err)
		}
	}
	s.logger.Info("session invalidated")
}

// IsSynced reports whether the current cookie set came from a successful
// adopt in this process. A restored session is not synced.
func (s *State) IsSynced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// Generation returns the current session generation.
func (s *State) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Snapshot returns a consistent copy of the current session.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	cookies := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		cookies[k] = v
	}
	return Snapshot{
		Cookies:    cookies,
		Identity:   s.identity,
		Synced:     s.synced,
		AdoptedAt:  s.adoptedAt,
		Generation: s.gen,
	}
}

// Restore seeds the session from a persisted snapshot. The allow-list and
// clearance rules apply as in Adopt, but the session stays unsynced: the
// seeded cookies are tried on the fast path, and a block on them leads to a
// solve instead of a rotation. Nothing is written back to the persister.
func (s *State) Restore(snap Snapshot) bool {
	if !snap.Synced {
		return false
	}
	cookies := make([]*http.Cookie, 0, len(snap.Cookies))
	for name, value := range snap.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	filtered := s.filter(cookies)
	if filtered[s.clearance] == "" {
		return false
	}
	identity := snap.Identity
	if identity == "" {
		identity = s.defaultIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies = filtered
	s.identity = identity
	s.synced = false
	s.adoptedAt = snap.AdoptedAt
	s.gen++

	s.logger.Info("session seeded from persisted snapshot", "cookies", len(filtered), "adopted_at", snap.AdoptedAt)
	return true
}

// filter keeps the allow-listed cookies.
func (s *State) filter(cookies []*http.Cookie) map[string]string {
	filtered := make(map[string]string, len(s.allow))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		if _, ok := s.allow[c.Name]; !ok {
			continue
		}
		filtered[c.Name] = c.Value
	}
	return filtered
}
