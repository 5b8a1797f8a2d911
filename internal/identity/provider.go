// Package identity treats authentication as an opaque collaborator: it
// yields a stable user id plus login/logout lifecycle callbacks, and
// nothing else. No credentials are stored here; token issuance and
// verification are the whole surface.
package identity

import "sync"

// Provider is the engine's view of the identity system.
type Provider interface {
	// UserID returns the stable opaque id of the active user, or "".
	UserID() string

	// IsAuthenticated reports whether a session is active.
	IsAuthenticated() bool

	// OnLogin registers fn to run when a session begins.
	OnLogin(fn func(userID string))

	// OnLogout registers fn to run when the session ends. Consumers use
	// this to release subscriptions and timers deterministically.
	OnLogout(fn func())
}

// Ensure Session implements Provider
var _ Provider = (*Session)(nil)

// Session is an in-process Provider driven by explicit Login/Logout calls,
// typically from verified bearer tokens.
type Session struct {
	mu        sync.Mutex
	userID    string
	loginFns  []func(userID string)
	logoutFns []func()
}

// NewSession returns an unauthenticated session.
func NewSession() *Session {
	return &Session{}
}

// UserID returns the active user id, or "" when logged out.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// IsAuthenticated reports whether a user is logged in.
func (s *Session) IsAuthenticated() bool {
	return s.UserID() != ""
}

// OnLogin registers a login lifecycle callback.
func (s *Session) OnLogin(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginFns = append(s.loginFns, fn)
}

// OnLogout registers a logout lifecycle callback.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutFns = append(s.logoutFns, fn)
}

// Login activates the session for userID and fires login callbacks.
// A user switch is a logout followed by a login.
func (s *Session) Login(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	previous := s.userID
	s.userID = userID
	loginFns := make([]func(string), len(s.loginFns))
	copy(loginFns, s.loginFns)
	logoutFns := make([]func(), len(s.logoutFns))
	copy(logoutFns, s.logoutFns)
	s.mu.Unlock()

	if previous != "" {
		for _, fn := range logoutFns {
			fn()
		}
	}
	for _, fn := range loginFns {
		fn(userID)
	}
}

// Logout ends the session and fires logout callbacks.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return
	}
	s.userID = ""
	fns := make([]func(), len(s.logoutFns))
	copy(fns, s.logoutFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
