package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"banana-mall/internal/app"
)

// Factory opens the workspace of one user.
type Factory func(ctx context.Context, userID int64) (*app.App, error)

type Session struct {
	UserID       int64
	Username     string
	App          *app.App
	LastActivity time.Time
}

type Options struct {
	Factory Factory
	// IdleTTL is how long an idle workspace stays open; zero means 1h.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Store keeps one open workspace per user and closes idle ones.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	factory  Factory
	idleTTL  time.Duration
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		sessions: make(map[int64]*Session),
		factory:  opts.Factory,
		idleTTL:  idleTTL,
		now:      now,
	}
}

// Workspace returns the user's workspace, opening it on first use.
func (s *Store) Workspace(ctx context.Context, userID int64, username string) (*app.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getOrCreateLocked(ctx, userID, username)
	if err != nil {
		return nil, err
	}
	sess.LastActivity = s.now()
	return sess.App, nil
}

// Evict closes workspaces idle for longer than the TTL. Workspaces with a
// generation still running are kept.
func (s *Store) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	n := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.After(cutoff) {
			continue
		}
		if run, ok := sess.App.Active(); ok && !run.State().Terminal() {
			continue
		}
		delete(s.sessions, id)
		n++
	}
	return n
}

// RunEvictor calls Evict every interval until ctx ends.
func (s *Store) RunEvictor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(ctx context.Context, userID int64, username string) (*Session, error) {
	if sess, ok := s.sessions[userID]; ok {
		if sess.Username == "" && username != "" {
			sess.Username = username
		}
		return sess, nil
	}
	if s.factory == nil {
		return nil, errors.New("session: no workspace factory")
	}

	a, err := s.factory(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		UserID:       userID,
		Username:     username,
		App:          a,
		LastActivity: s.now(),
	}
	s.sessions[userID] = sess
	return sess, nil
}
