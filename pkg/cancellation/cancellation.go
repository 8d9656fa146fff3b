// Package cancellation provides a broadcast stop signal for long-running
// loops.
//
// A Source mints Tokens. Cancelling the Source cancels every Token it has
// minted, so one shutdown request reaches any number of independent loops
// without the loops knowing about each other. Cancellation is cooperative:
// a loop observes it by polling IsCancelled or by waiting on Done.
//
// Flags only move from not-cancelled to cancelled. Cancelling twice is an
// error (ErrAlreadyCancelled) rather than a silent no-op, so callers decide
// whether a repeated request is benign.
package cancellation

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyCancelled is returned when cancelling, or minting from, something
// that is already cancelled
var ErrAlreadyCancelled = errors.New("cancellation: already cancelled")

// PoisonedError reports that a token's state can no longer be trusted
// because a cancel hook panicked while the token was being cancelled.
type PoisonedError struct {
	// Index is the token's position in its source's mint order, or -1 when
	// the token itself was cancelled directly.
	Index  int
	Reason string
}

func (e *PoisonedError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("cancellation: poisoned: %s", e.Reason)
	}
	return fmt.Sprintf("cancellation: token %d poisoned: %s", e.Index, e.Reason)
}

// Token is a single cancelled/not-cancelled flag shared by any number of
// holders
type Token struct {
	mu        sync.Mutex
	cancelled bool
	poisoned  string
	done      chan struct{}
	hooks     []func()
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled, closes Done and runs the OnCancel hooks
// in registration order
func (t *Token) Cancel() error {
	t.mu.Lock()
	if t.poisoned != "" {
		reason := t.poisoned
		t.mu.Unlock()
		return &PoisonedError{Index: -1, Reason: reason}
	}
	if t.cancelled {
		t.mu.Unlock()
		return ErrAlreadyCancelled
	}
	t.cancelled = true
	close(t.done)
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	// Hooks run unlocked so they may inspect the token
	for _, hook := range hooks {
		if reason, ok := runHook(hook); !ok {
			t.mu.Lock()
			t.poisoned = reason
			t.mu.Unlock()
			return &PoisonedError{Index: -1, Reason: reason}
		}
	}
	return nil
}

// IsCancelled reports whether the token has been cancelled
func (t *Token) IsCancelled() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.poisoned != "" {
		return t.cancelled, &PoisonedError{Index: -1, Reason: t.poisoned}
	}
	return t.cancelled, nil
}

// Done returns a channel that is closed when the token is cancelled
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnCancel registers f to run when the token is cancelled. It fails with
// ErrAlreadyCancelled if that has already happened.
func (t *Token) OnCancel(f func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.poisoned != "" {
		return &PoisonedError{Index: -1, Reason: t.poisoned}
	}
	if t.cancelled {
		return ErrAlreadyCancelled
	}
	t.hooks = append(t.hooks, f)
	return nil
}

func runHook(hook func()) (reason string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			reason = fmt.Sprint(r)
			ok = false
		}
	}()
	hook()
	return "", true
}

// Source mints tokens and cancels all of them at once. Create one per
// shutdown domain and Close it when the domain ends.
type Source struct {
	mu        sync.Mutex
	tokens    []*Token
	cancelled bool
	poisoned  *PoisonedError
}

// NewSource creates an uncancelled source with no tokens
func NewSource() *Source {
	return &Source{}
}

// NewToken mints a token that is cancelled together with the source
func (s *Source) NewToken() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned != nil {
		return nil, s.poisoned
	}
	if s.cancelled {
		return nil, ErrAlreadyCancelled
	}

	token := newToken()
	s.tokens = append(s.tokens, token)
	return token, nil
}

// Cancel cancels the source and then every minted token in mint order.
// A token already cancelled by one of its holders is skipped. A poisoned
// token stops the cascade and poisons the source.
func (s *Source) Cancel() error {
	s.mu.Lock()
	if s.poisoned != nil {
		s.mu.Unlock()
		return s.poisoned
	}
	if s.cancelled {
		s.mu.Unlock()
		return ErrAlreadyCancelled
	}
	s.cancelled = true
	tokens := make([]*Token, len(s.tokens))
	copy(tokens, s.tokens)
	s.mu.Unlock()

	// The lock is released first: a token hook may itself cancel this source
	for i, token := range tokens {
		err := token.Cancel()
		var poisoned *PoisonedError
		if errors.As(err, &poisoned) {
			p := &PoisonedError{Index: i, Reason: poisoned.Reason}
			s.mu.Lock()
			s.poisoned = p
			s.mu.Unlock()
			return p
		}
	}
	return nil
}

// IsCancelled reports whether Cancel has been called on the source
func (s *Source) IsCancelled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned != nil {
		return s.cancelled, s.poisoned
	}
	return s.cancelled, nil
}

// Close tears the source down, cancelling it if nobody has yet. A poisoned
// source panics: the shutdown signal can no longer be relied on.
func (s *Source) Close() error {
	err := s.Cancel()

	var poisoned *PoisonedError
	if errors.As(err, &poisoned) {
		panic(fmt.Sprintf("unable to close cancellation source: %v", poisoned))
	}
	return nil
}
