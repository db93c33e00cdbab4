// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/transport"
)

// Error variables for session operations.
var (
	// ErrNotAuthenticated is returned when an operation needs a credential
	// and none exists.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotCreated is returned by Register when the service does not
	// acknowledge the account with 201 Created.
	ErrNotCreated = errors.New("account not created")

	// ErrNoUser is returned by UpdateUser when no profile is cached.
	ErrNoUser = errors.New("no user profile")

	// ErrSuperseded is returned when a Logout happened while the request
	// was in flight; its response was discarded.
	ErrSuperseded = errors.New("superseded by logout")

	// ErrInvalidResponse is returned when the service replied 2xx without
	// the fields the session needs.
	ErrInvalidResponse = errors.New("invalid auth response")
)

// User-facing messages recorded in the error field.
const (
	msgLoginFailed    = "Login failed. Check your email and password."
	msgRegisterFailed = "Registration failed."
	msgSessionExpired = "Your session has expired. Please log in again."
)

// storeTimeout bounds each write to the session store.
const storeTimeout = 5 * time.Second

// =============================================================================
// STATE
// =============================================================================

// State is the session lifecycle state.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// =============================================================================
// SESSION
// =============================================================================

// Session owns the credential and the cached user. All methods are safe for
// concurrent use.
type Session struct {
	api   *transport.Client
	store storage.Store
	log   *logrus.Entry

	mu    sync.RWMutex
	state State
	token string
	user  *model.User
	err   string

	// gen is bumped by Logout; responses from an older generation are dropped.
	gen uint64

	// pendingAuth counts Login/Rehydrate calls in flight.
	pendingAuth int
	inflight    int
}

// New creates an anonymous session. api talks to the auth service; store
// receives the persisted session. A nil store keeps nothing across restarts.
func New(api *transport.Client, store storage.Store, logger *logrus.Logger) *Session {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		api:   api,
		store: store,
		log:   logger.WithField("component", "auth"),
	}
}

// snapshot is the state Login restores when it fails.
type snapshot struct {
	state State
	token string
	user  *model.User
}

// Login exchanges email and password for a credential. On failure the session
// returns to the state it had before the call.
func (s *Session) Login(ctx context.Context, email, password string) error {
	s.mu.Lock()
	prev := snapshot{state: s.state, token: s.token, user: s.user}
	gen := s.gen
	s.state = StateAuthenticating
	s.pendingAuth++
	s.inflight++
	s.err = ""
	s.mu.Unlock()

	var lr model.LoginResponse
	resp, err := s.api.Post(ctx, "/login", model.LoginRequest{Email: email, Password: password}, transport.NoAuth())
	if err == nil {
		err = resp.Decode(&lr)
	}
	if err == nil && (lr.AccessToken == "" || lr.User == nil) {
		err = ErrInvalidResponse
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAuth--
	s.inflight--

	if s.gen != gen {
		return fmt.Errorf("login: %w", ErrSuperseded)
	}
	if err != nil {
		// Another login may have completed meanwhile; only undo our own transition.
		if s.state == StateAuthenticating && s.pendingAuth == 0 {
			s.state, s.token, s.user = prev.state, prev.token, prev.user
			if s.state == StateAuthenticating {
				s.state = StateAnonymous
			}
		}
		s.err = msgLoginFailed
		s.log.WithError(err).Warn("login failed")
		return fmt.Errorf("login: %w", err)
	}

	s.token = lr.AccessToken
	s.user = lr.User.Clone()
	s.state = StateAuthenticated
	s.persistLocked(ctx)
	s.log.WithFields(logrus.Fields{"user_id": s.user.ID, "token_fp": transport.Fingerprint(s.token)}).Info("logged in")
	return nil
}

// Register creates an account. It does not authenticate the caller and
// succeeds only on 201 Created.
func (s *Session) Register(ctx context.Context, email, name, password string) error {
	s.mu.Lock()
	s.inflight++
	s.err = ""
	s.mu.Unlock()

	resp, err := s.api.Post(ctx, "/register",
		model.RegisterRequest{Email: email, Name: name, Password: password}, transport.NoAuth())
	if err == nil && resp.StatusCode != http.StatusCreated {
		err = fmt.Errorf("%w: status %d", ErrNotCreated, resp.StatusCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.err = msgRegisterFailed
		s.log.WithError(err).Warn("registration failed")
		return fmt.Errorf("register: %w", err)
	}
	s.log.Info("account registered")
	return nil
}

// Logout clears the credential and the user and erases the persisted
// session. It makes no network call and always succeeds.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutLocked(ctx)
	s.err = ""
}

func (s *Session) logoutLocked(ctx context.Context) {
	s.gen++
	s.state = StateAnonymous
	s.token = ""
	s.user = nil
	sctx, cancel := storeContext(ctx)
	defer cancel()
	if err := s.store.Clear(sctx); err != nil {
		s.log.WithError(err).Warn("failed to clear persisted session")
	}
	s.log.Info("logged out")
}

// Refresh exchanges the current credential for a new one, leaving the user
// untouched. Without a credential it fails without a network call. Any other
// failure logs the session out.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	if token == "" {
		s.mu.Unlock()
		return fmt.Errorf("refresh: %w", ErrNotAuthenticated)
	}
	gen := s.gen
	s.inflight++
	s.mu.Unlock()

	var tr model.TokenResponse
	resp, err := s.api.Post(ctx, "/refresh", struct{}{}, transport.WithToken(token))
	if err == nil {
		err = resp.Decode(&tr)
	}
	if err == nil && tr.AccessToken == "" {
		err = ErrInvalidResponse
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--

	if s.gen != gen {
		return fmt.Errorf("refresh: %w", ErrSuperseded)
	}
	if err != nil {
		s.log.WithError(err).Warn("token refresh failed, logging out")
		s.logoutLocked(ctx)
		s.err = msgSessionExpired
		return fmt.Errorf("refresh: %w", err)
	}

	s.token = tr.AccessToken
	s.persistLocked(ctx)
	s.log.WithField("token_fp", transport.Fingerprint(s.token)).Debug("token refreshed")
	return nil
}

// UpdateUser merges patch into the cached user. It makes no network call;
// it mirrors a change that already succeeded server-side.
func (s *Session) UpdateUser(ctx context.Context, patch model.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ErrNoUser
	}
	u := s.user.Clone()
	patch.Apply(u)
	s.user = u
	s.persistLocked(ctx)
	return nil
}

// Rehydrate restores a persisted credential and trusts it only after a
// successful /me call. Failure of that call logs the session out.
func (s *Session) Rehydrate(ctx context.Context) error {
	token := ""
	persisted, err := s.store.Load(ctx)
	switch {
	case err == nil:
		token = persisted.Token
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.log.WithError(err).Warn("failed to read persisted session")
	}

	s.mu.Lock()
	if token == "" {
		token = s.token
	}
	if token == "" {
		s.mu.Unlock()
		return fmt.Errorf("rehydrate: %w", ErrNotAuthenticated)
	}
	gen := s.gen
	s.state = StateAuthenticating
	s.pendingAuth++
	s.inflight++
	s.mu.Unlock()

	var u model.User
	resp, err := s.api.Get(ctx, "/me", transport.WithToken(token))
	if err == nil {
		err = resp.Decode(&u)
	}
	if err == nil && u.ID == "" {
		err = ErrInvalidResponse
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAuth--
	s.inflight--

	if s.gen != gen {
		return fmt.Errorf("rehydrate: %w", ErrSuperseded)
	}
	if err != nil {
		if s.pendingAuth > 0 || (s.state == StateAuthenticated && s.token != token) {
			// A concurrent login owns the session now.
			return fmt.Errorf("rehydrate: %w", err)
		}
		s.log.WithError(err).Warn("stored credential rejected, logging out")
		s.logoutLocked(ctx)
		s.err = msgSessionExpired
		return fmt.Errorf("rehydrate: %w", err)
	}

	s.token = token
	s.user = &u
	s.state = StateAuthenticated
	s.persistLocked(ctx)
	s.log.WithField("user_id", u.ID).Info("session restored")
	return nil
}

// Sync reconciles the in-memory session with the store after another
// process changed it. A session cleared elsewhere is dropped locally; a
// different credential written elsewhere is adopted. Sync does nothing while
// a Login or Rehydrate is in flight.
func (s *Session) Sync(ctx context.Context) error {
	persisted, err := s.store.Load(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("sync: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingAuth > 0 {
		return nil
	}

	if persisted == nil || !persisted.IsAuthenticated || persisted.Token == "" || persisted.User == nil {
		if s.state == StateAuthenticated {
			s.gen++
			s.state = StateAnonymous
			s.token = ""
			s.user = nil
			s.log.Info("session ended by another process")
		}
		return nil
	}

	if persisted.Token == s.token {
		if persisted.User != nil && s.user != nil && persisted.User.ID == s.user.ID {
			s.user = persisted.User.Clone()
		}
		return nil
	}

	s.token = persisted.Token
	s.user = persisted.User.Clone()
	s.state = StateAuthenticated
	s.log.WithField("token_fp", transport.Fingerprint(s.token)).Info("adopted session from another process")
	return nil
}

// persistLocked saves the durable fields. A storage failure is logged and
// does not fail the operation that triggered it.
func (s *Session) persistLocked(ctx context.Context) {
	sess := model.PersistedSession{
		Token:           s.token,
		User:            s.user.Clone(),
		IsAuthenticated: s.state == StateAuthenticated,
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	if err := s.store.Save(sctx, sess); err != nil {
		s.log.WithError(err).Warn("failed to persist session")
	}
}

// storeContext keeps the caller's values but not its cancellation: a
// logout forced by a cancelled request must still reach the store.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether a credential and user are present.
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// Token returns the current credential, or "" when there is none.
// It satisfies transport.TokenSource.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateAuthenticated {
		return ""
	}
	return s.token
}

// User returns a copy of the cached user, or nil.
func (s *Session) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// Loading reports whether any auth request is in flight.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the last user-facing error message, or "".
func (s *Session) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ClearError resets the error field.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.err = ""
	s.mu.Unlock()
}

// ExpiresAt returns the credential's expiry when it is a JWT carrying exp.
func (s *Session) ExpiresAt() (time.Time, bool) {
	return TokenExpiry(s.Token())
}

// NeedsRefresh reports whether the credential expires within skew.
func (s *Session) NeedsRefresh(skew time.Duration) bool {
	tok := s.Token()
	return tok != "" && NeedsRefresh(tok, time.Now(), skew)
}
