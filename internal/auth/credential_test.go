// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = TokenExpiry(signedToken(t, time.Time{}))
	assert.False(t, ok, "no exp claim")

	_, ok = TokenExpiry("opaque-token")
	assert.False(t, ok)

	_, ok = TokenExpiry("")
	assert.False(t, ok)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	soon := signedToken(t, now.Add(30*time.Second))
	later := signedToken(t, now.Add(time.Hour))

	assert.True(t, NeedsRefresh(soon, now, time.Minute))
	assert.False(t, NeedsRefresh(later, now, time.Minute))
	assert.False(t, NeedsRefresh("opaque", now, time.Minute))
}
