// Package session holds the signed-in user's authentication state.
//
// The access token lives in the credential vault so a restart resumes
// the session. Its expiry is read from the token's claims without
// verifying the signature; the server remains the authority and a 401
// from any call ends the session through Expire.
package session

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/credential"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source"
)

var (
	// ErrNoSession is returned by Restore when no token is stored.
	ErrNoSession = errors.New("no stored session")

	// ErrExpired is returned by Restore when the stored token has expired
	// or the server rejected it.
	ErrExpired = errors.New("session expired")
)

// Authenticator is the platform's account API.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, model.User, error)
	Me(ctx context.Context) (model.User, error)
	Logout(ctx context.Context) error
}

// Listener is called after every session transition.
type Listener func(model.SessionState)

type tokenClaims struct {
	Email  string `json:"email"`
	Role   string `json:"role"`
	Center string `json:"center"`
	jwt.RegisteredClaims
}

// Manager owns the current session.
type Manager struct {
	auth  Authenticator
	vault credential.Vault
	log   zerolog.Logger
	now   func() time.Time

	mu        gosync.RWMutex
	token     string
	user      model.User
	expiresAt time.Time

	lmu       gosync.Mutex
	listeners map[int]Listener
	nextID    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithNow replaces the time source used for expiry checks.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a signed-out Manager.
func New(auth Authenticator, vault credential.Vault, opts ...Option) *Manager {
	m := &Manager{
		auth:      auth,
		vault:     vault,
		log:       zerolog.Nop(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetAuthenticator replaces the account API. The app builds the API
// client after the Manager because the client reads Token.
func (m *Manager) SetAuthenticator(auth Authenticator) {
	m.mu.Lock()
	m.auth = auth
	m.mu.Unlock()
}

// Token returns the current access token, or "" when signed out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// IsAuthenticated reports whether a token is held and not yet expired.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	if m.token == "" {
		return false
	}
	return m.expiresAt.IsZero() || m.now().Before(m.expiresAt)
}

// User returns the signed-in user.
func (m *Manager) User() model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// State returns a snapshot of the session.
func (m *Manager) State() model.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() model.SessionState {
	return model.SessionState{
		Authenticated: m.validLocked(),
		User:          m.user,
		ExpiresAt:     m.expiresAt,
	}
}

// Restore resumes the session stored in the vault. The token is checked
// against the server; when the server cannot be reached the session is
// kept with the identity recorded in the token.
func (m *Manager) Restore(ctx context.Context) error {
	token, err := m.vault.Get(credential.KeySessionToken)
	if errors.Is(err, credential.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("reading stored session: %w", err)
	}

	claims := parseClaims(token)
	if exp := claimsExpiry(claims); !exp.IsZero() && !m.now().Before(exp) {
		m.forget()
		return ErrExpired
	}

	m.mu.Lock()
	m.token = token
	m.expiresAt = claimsExpiry(claims)
	m.user = claimsUser(claims)
	auth := m.auth
	m.mu.Unlock()

	user, err := auth.Me(ctx)
	switch {
	case source.IsAuthError(err):
		m.log.Info().Err(err).Msg("stored session rejected")
		m.Expire()
		return ErrExpired
	case err != nil:
		m.log.Warn().Err(err).Msg("could not verify stored session; continuing offline")
	default:
		m.mu.Lock()
		m.user = user
		m.mu.Unlock()
	}

	m.log.Info().Str("user", m.User().Email).Msg("session restored")
	m.emit()
	return nil
}

// Login authenticates against the platform and stores the token.
func (m *Manager) Login(ctx context.Context, email, password string) (model.User, error) {
	m.mu.RLock()
	auth := m.auth
	m.mu.RUnlock()

	token, user, err := auth.Login(ctx, email, password)
	if err != nil {
		return model.User{}, err
	}

	m.mu.Lock()
	m.token = token
	m.user = user
	m.expiresAt = claimsExpiry(parseClaims(token))
	m.mu.Unlock()

	if err := m.vault.Set(credential.KeySessionToken, token); err != nil {
		m.log.Warn().Err(err).Msg("storing session token")
	}

	m.log.Info().Str("user", user.Email).Msg("signed in")
	m.emit()
	return user, nil
}

// Logout revokes the token on the server, best effort, and clears the
// local session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	auth := m.auth
	had := m.token != ""
	m.mu.RUnlock()

	var serverErr error
	if had {
		if err := auth.Logout(ctx); err != nil && !source.IsAuthError(err) {
			serverErr = fmt.Errorf("revoking session: %w", err)
			m.log.Warn().Err(err).Msg("server logout failed")
		}
	}

	m.forget()
	m.log.Info().Msg("signed out")
	m.emit()
	return serverErr
}

// Expire ends the session locally after the server rejected the token.
func (m *Manager) Expire() {
	m.mu.RLock()
	had := m.token != ""
	m.mu.RUnlock()
	if !had {
		return
	}

	m.forget()
	m.log.Info().Msg("session expired")
	m.emit()
}

func (m *Manager) forget() {
	m.mu.Lock()
	m.token = ""
	m.user = model.User{}
	m.expiresAt = time.Time{}
	m.mu.Unlock()

	if err := m.vault.Delete(credential.KeySessionToken); err != nil {
		m.log.Warn().Err(err).Msg("removing stored session token")
	}
}

// Subscribe registers l for session transitions.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.lmu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, id)
			m.lmu.Unlock()
		})
	}
}

func (m *Manager) emit() {
	st := m.State()

	m.lmu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.lmu.Unlock()

	for _, l := range ls {
		l(st)
	}
}

func parseClaims(token string) *tokenClaims {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func claimsExpiry(c *tokenClaims) time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func claimsUser(c *tokenClaims) model.User {
	if c == nil {
		return model.User{}
	}
	return model.User{ID: c.Subject, Email: c.Email, Role: c.Role, Center: c.Center}
}
