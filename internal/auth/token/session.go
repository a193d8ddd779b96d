package token

import (
	"context"
	"errors"
	"sync"

	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
)

// Session memoizes the first Acquire result for one logical operation, so
// an operation makes at most one acquisition attempt. Nothing is persisted.
type Session struct {
	m *Manager

	mu     sync.Mutex
	done   bool
	client *hubspot.Client
	err    error
}

// NewSession starts a fresh memoization scope.
func (m *Manager) NewSession() *Session {
	return &Session{m: m}
}

// Client returns the memoized client or error, acquiring on first use.
func (s *Session) Client(ctx context.Context, allowRefresh bool) (*hubspot.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.client, s.err = s.m.Acquire(ctx, allowRefresh)
		s.done = true
	}
	return s.client, s.err
}

// Reset drops the memoized result, e.g. after a new authorization.
func (s *Session) Reset() {
	s.mu.Lock()
	s.done, s.client, s.err = false, nil, nil
	s.mu.Unlock()
}

// Probe checks the connection with an authenticated call. A rejected token
// is Unauthenticated; any other failure is TemporarilyUnavailable.
func (s *Session) Probe(ctx context.Context) error {
	const op = "token.Probe"
	client, err := s.Client(ctx, true)
	if err != nil {
		return err
	}
	if _, err := client.ListContacts(ctx); err != nil {
		if errors.Is(err, errs.Unauthenticated) {
			return errs.Wrap(errs.Unauthenticated, op, err)
		}
		return errs.Wrap(errs.TemporarilyUnavailable, op, err)
	}
	return nil
}
