// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/transport"
)

// fakeAuth is an in-process auth service.
type fakeAuth struct {
	mu          sync.Mutex
	refreshFail bool
	meFail      bool
	nextToken   string
	calls       map[string]int
	lastAuth    map[string]string
	loginGate   chan struct{} // when set, /login waits for it
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		nextToken: "T2",
		calls:     map[string]int{},
		lastAuth:  map[string]string{},
	}
}

func (f *fakeAuth) record(r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.lastAuth[r.URL.Path] = r.Header.Get("Authorization")
	f.mu.Unlock()
}

func (f *fakeAuth) authFor(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth[path]
}

func (f *fakeAuth) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeAuth) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.loginGate != nil {
			<-f.loginGate
		}
		var req model.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		w.Write([]byte(`{"access_token":"T1","token_type":"bearer","user":{"id":"u1","email":"a@b.com","name":"Ada","subscription_status":"free","is_active":true,"email_verified":false,"created_at":"2024-01-02T03:04:05"}}`))
	})
	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req model.RegisterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email == "taken@b.com" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"Email already registered"}`))
			return
		}
		if req.Email == "ok200@b.com" {
			w.Write([]byte(`{"id":"u9"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"u2"}`))
	})
	mux.HandleFunc("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		fail, next := f.refreshFail, f.nextToken
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"` + next + `","token_type":"bearer"}`))
	})
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		fail := f.meFail
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"id":"u1","email":"a@b.com","name":"Ada Lovelace","subscription_status":"premium","is_active":true}}`))
	})
	return mux
}

func newTestSession(t *testing.T, f *fakeAuth, store storage.Store) *Session {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := transport.DefaultConfig()
	cfg.RateLimit = 0
	cfg.RetryBaseDelay = time.Millisecond
	return New(transport.New(srv.URL, nil, cfg, logger), store, logger)
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func TestLogin_ThenRefresh_KeepsUser(t *testing.T) {
	f := newFakeAuth()
	store := storage.NewMemoryStore()
	s := newTestSession(t, f, store)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "T1", s.Token())
	require.NotNil(t, s.User())
	assert.Equal(t, "u1", s.User().ID)
	assert.Equal(t, model.TierFree, s.User().SubscriptionStatus)
	assert.Empty(t, f.authFor("/login"), "login must not send a credential")

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, "T2", s.Token())
	assert.Equal(t, "u1", s.User().ID)
	assert.Equal(t, "Bearer T1", f.authFor("/refresh"))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T2", persisted.Token)
	assert.True(t, persisted.IsAuthenticated)
	assert.Equal(t, "u1", persisted.User.ID)
}

func TestLogin_ThenLogout_LeavesNothingPersisted(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestSession(t, newFakeAuth(), store)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	s.Logout(ctx)

	assert.Equal(t, StateAnonymous, s.State())
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogin_Failure(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestSession(t, newFakeAuth(), store)

	err := s.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrUnauthorized))
	assert.Equal(t, StateAnonymous, s.State())
	assert.Nil(t, s.User())
	assert.Equal(t, msgLoginFailed, s.Err())
	assert.False(t, s.Loading())
	assert.Equal(t, 0, store.Saves())

	s.ClearError()
	assert.Empty(t, s.Err())
}

func TestLogin_AuthenticatingWhileInFlight(t *testing.T) {
	f := newFakeAuth()
	f.loginGate = make(chan struct{})
	s := newTestSession(t, f, nil)

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), "a@b.com", "secret1") }()

	require.Eventually(t, func() bool { return f.count("/login") == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, StateAuthenticating, s.State())
	assert.True(t, s.Loading())
	assert.Empty(t, s.Token(), "no credential until authenticated")

	close(f.loginGate)
	require.NoError(t, <-done)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.False(t, s.Loading())
}

func TestLogin_LogoutDuringFlightWins(t *testing.T) {
	f := newFakeAuth()
	f.loginGate = make(chan struct{})
	store := storage.NewMemoryStore()
	s := newTestSession(t, f, store)

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), "a@b.com", "secret1") }()
	require.Eventually(t, func() bool { return f.count("/login") == 1 }, 5*time.Second, time.Millisecond)

	s.Logout(context.Background())
	close(f.loginGate)

	err := <-done
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, StateAnonymous, s.State())
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// =============================================================================
// REGISTER
// =============================================================================

func TestRegister(t *testing.T) {
	f := newFakeAuth()
	s := newTestSession(t, f, nil)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "new@b.com", "New", "pw"))
	assert.Equal(t, StateAnonymous, s.State(), "register does not authenticate")

	err := s.Register(ctx, "taken@b.com", "Taken", "pw")
	assert.Error(t, err)
	assert.Equal(t, msgRegisterFailed, s.Err())

	err = s.Register(ctx, "ok200@b.com", "Plain OK", "pw")
	assert.ErrorIs(t, err, ErrNotCreated)
}

// =============================================================================
// REFRESH
// =============================================================================

func TestRefresh_AnonymousMakesNoCall(t *testing.T) {
	f := newFakeAuth()
	s := newTestSession(t, f, nil)

	err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, f.count("/refresh"))
}

func TestRefresh_FailureLogsOut(t *testing.T) {
	f := newFakeAuth()
	store := storage.NewMemoryStore()
	s := newTestSession(t, f, store)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	f.mu.Lock()
	f.refreshFail = true
	f.mu.Unlock()

	err := s.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, StateAnonymous, s.State())
	assert.Nil(t, s.User())
	assert.Equal(t, msgSessionExpired, s.Err())
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Terminal: a second refresh has nothing to send.
	assert.ErrorIs(t, s.Refresh(ctx), ErrNotAuthenticated)
	assert.Equal(t, 1, f.count("/refresh"))
}

func openSQLiteStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.OpenSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLogout_CancelledContextStillClearsStore(t *testing.T) {
	store := openSQLiteStore(t)
	s := newTestSession(t, newFakeAuth(), store)
	require.NoError(t, s.Login(context.Background(), "a@b.com", "secret1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Logout(ctx)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefresh_CancelledContextLogsOutDurably(t *testing.T) {
	f := newFakeAuth()
	store := openSQLiteStore(t)
	s := newTestSession(t, f, store)
	require.NoError(t, s.Login(context.Background(), "a@b.com", "secret1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Refresh(ctx))
	assert.Equal(t, StateAnonymous, s.State())

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A later process finds nothing to restore.
	next := newTestSession(t, f, store)
	assert.ErrorIs(t, next.Rehydrate(context.Background()), ErrNotAuthenticated)
	assert.False(t, next.IsAuthenticated())
}

// =============================================================================
// UPDATE USER
// =============================================================================

func TestUpdateUser(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestSession(t, newFakeAuth(), store)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateUser(ctx, model.UserPatch{}), ErrNoUser)

	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	name := "Ada L."
	tier := model.TierPremium
	require.NoError(t, s.UpdateUser(ctx, model.UserPatch{Name: &name, SubscriptionStatus: &tier}))

	u := s.User()
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "Ada L.", u.Name)
	assert.Equal(t, "a@b.com", u.Email)
	assert.Equal(t, model.TierPremium, u.SubscriptionStatus)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", persisted.User.Name)

	// The returned copy does not alias internal state.
	u.Name = "mutated"
	assert.Equal(t, "Ada L.", s.User().Name)
}

// =============================================================================
// REHYDRATE / SYNC
// =============================================================================

func TestRehydrate_Success(t *testing.T) {
	f := newFakeAuth()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, model.PersistedSession{
		Token: "stored", User: &model.User{ID: "u1", Name: "stale"}, IsAuthenticated: true,
	}))

	s := newTestSession(t, f, store)
	require.NoError(t, s.Rehydrate(ctx))
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "stored", s.Token())
	assert.Equal(t, "Ada Lovelace", s.User().Name)
	assert.Equal(t, "Bearer stored", f.authFor("/me"))
}

func TestRehydrate_RejectedLogsOut(t *testing.T) {
	f := newFakeAuth()
	f.meFail = true
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, model.PersistedSession{Token: "expired", IsAuthenticated: true}))

	s := newTestSession(t, f, store)
	require.Error(t, s.Rehydrate(ctx))
	assert.Equal(t, StateAnonymous, s.State())
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRehydrate_NothingPersisted(t *testing.T) {
	f := newFakeAuth()
	s := newTestSession(t, f, nil)
	assert.ErrorIs(t, s.Rehydrate(context.Background()), ErrNotAuthenticated)
	assert.Equal(t, 0, f.count("/me"))
}

func TestSync_AdoptsAndDropsExternalChanges(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestSession(t, newFakeAuth(), store)
	ctx := context.Background()

	// Another process logs in.
	require.NoError(t, store.Save(ctx, model.PersistedSession{
		Token: "other", User: &model.User{ID: "u7"}, IsAuthenticated: true,
	}))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, "other", s.Token())
	assert.Equal(t, "u7", s.User().ID)

	// Our own write is a no-op.
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, "other", s.Token())

	// Another process logs out.
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, StateAnonymous, s.State())
	assert.Empty(t, s.Token())
}

func TestSync_SessionWithoutUserIsNotAdopted(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newTestSession(t, newFakeAuth(), store)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, model.PersistedSession{Token: "other", IsAuthenticated: true}))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, StateAnonymous, s.State())
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())

	// An authenticated session drops to anonymous the same way.
	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))
	require.NoError(t, store.Save(ctx, model.PersistedSession{Token: "T9", IsAuthenticated: true}))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, StateAnonymous, s.State())
	assert.Nil(t, s.User())
}

func TestSession_ConcurrentAccess(t *testing.T) {
	s := newTestSession(t, newFakeAuth(), nil)
	ctx := context.Background()
	require.NoError(t, s.Login(ctx, "a@b.com", "secret1"))

	var wg sync.WaitGroup
	var reads atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Token()
			_ = s.User()
			reads.Add(1)
		}()
		go func() {
			defer wg.Done()
			name := "n"
			_ = s.UpdateUser(ctx, model.UserPatch{Name: &name})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), reads.Load())
}
