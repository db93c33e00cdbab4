// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	cfg.RateLimit = 0
	cfg.Timeout = 5 * time.Second
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// tokenBox is a concurrency-safe mutable token for tests.
type tokenBox struct {
	mu  sync.Mutex
	tok string
}

func (b *tokenBox) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tok
}

func (b *tokenBox) set(tok string) {
	b.mu.Lock()
	b.tok = tok
	b.mu.Unlock()
}

// =============================================================================
// HEADER TESTS
// =============================================================================

func TestClient_ReadsTokenOnEveryCall(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	box := &tokenBox{tok: "T1"}
	c := New(srv.URL, box.get, testConfig(), quietLogger())

	_, err := c.Get(context.Background(), "/a")
	require.NoError(t, err)
	box.set("T2")
	_, err = c.Get(context.Background(), "/a")
	require.NoError(t, err)
	box.set("")
	_, err = c.Get(context.Background(), "/a")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer T1", "Bearer T2", ""}, seen)
}

func TestClient_CallOptions(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, func() string { return "stored" }, testConfig(), quietLogger())

	_, err := c.Post(context.Background(), "/auth/login", map[string]string{"email": "a"}, NoAuth())
	require.NoError(t, err)
	assert.Equal(t, "", got.Load())

	_, err = c.Get(context.Background(), "/auth/me", WithToken("explicit"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer explicit", got.Load())
}

func TestClient_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"title":"x"}`, string(body))
		w.Write([]byte(`{"id":"c1","title":"x"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, testConfig(), quietLogger())
	resp, err := c.Put(context.Background(), "/conversations/c1", map[string]string{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestResponse_DecodeUnwrapsEnvelope(t *testing.T) {
	var out struct {
		ID string `json:"id"`
	}
	r := &Response{Body: []byte(`{"success":true,"data":{"id":"u1"}}`)}
	require.NoError(t, r.Decode(&out))
	assert.Equal(t, "u1", out.ID)

	r = &Response{Body: []byte(`{"id":"u2"}`)}
	require.NoError(t, r.Decode(&out))
	assert.Equal(t, "u2", out.ID)

	var list []string
	r = &Response{Body: []byte(`{"success":true,"data":["a","b"]}`)}
	require.NoError(t, r.Decode(&list))
	assert.Equal(t, []string{"a", "b"}, list)

	r = &Response{Body: []byte(`["c"]`)}
	require.NoError(t, r.Decode(&list))
	assert.Equal(t, []string{"c"}, list)
}

func TestDecodeList(t *testing.T) {
	list, err := DecodeList[string](&Response{Body: []byte(`["a"]`)}, "models")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, list)

	list, err = DecodeList[string](&Response{Body: []byte(`{"success":true,"data":{"models":["b","c"],"total_models":2}}`)}, "models")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, list)

	_, err = DecodeList[string](&Response{Body: []byte(`{"other":[]}`)}, "models")
	assert.Error(t, err)
}

func TestResponse_DecodeEmpty(t *testing.T) {
	var v map[string]any
	assert.Error(t, (&Response{}).Decode(&v))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestClient_StatusMapsToSentinel(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer srv.Close()

			c := New(srv.URL, nil, testConfig(), quietLogger())
			_, err := c.Delete(context.Background(), "/conversations/x")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	c := New(url, nil, cfg, quietLogger())
	_, err := c.Get(context.Background(), "/models")
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestClient_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", MaxResponseSize+1)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	c := New(srv.URL, nil, cfg, quietLogger())
	_, err := c.Get(context.Background(), "/big")
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestClient_RetriesTransientGet(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, testConfig(), quietLogger())
	_, err := c.Get(context.Background(), "/conversations")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, testConfig(), quietLogger())
	_, err := c.Get(context.Background(), "/conversations")
	assert.True(t, errors.Is(err, ErrServer))
	assert.Equal(t, int32(DefaultMaxRetries+1), calls.Load())
}

func TestClient_NoRetryForPostOrClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, testConfig(), quietLogger())
	_, err := c.Post(context.Background(), "/chat", map[string]string{"message": "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.Get(context.Background(), "/conversations/missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(2), calls.Load())
}

// =============================================================================
// 401 REVALIDATION TESTS
// =============================================================================

func TestClient_ReplaysWhenTokenChangedInFlight(t *testing.T) {
	box := &tokenBox{tok: "old"}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer new" {
			// a refresh lands while this request is being rejected
			box.set("new")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"u1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, box.get, testConfig(), quietLogger())
	resp, err := c.Post(context.Background(), "/chat", map[string]string{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NoReplayWhenTokenUnchanged(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, func() string { return "same" }, testConfig(), quietLogger())
	_, err := c.Get(context.Background(), "/auth/me")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.Get(context.Background(), "/auth/me", WithToken("x"))
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(srv.URL, nil, testConfig(), quietLogger())
	_, err := c.Get(ctx, "/slow")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "none", Fingerprint(""))
	fp := Fingerprint("secret")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, Fingerprint("secret"))
}
