// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// SUBSCRIPTION TIER
// =============================================================================

// Tier is the subscription level of an account. It only drives UI gating;
// limits are enforced server-side.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// =============================================================================
// USER
// =============================================================================

// User is the authenticated account as returned by /login and /me.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	SubscriptionStatus  Tier       `json:"subscription_status"`
	SubscriptionExpires *Timestamp `json:"subscription_expires,omitempty"`
	CreatedAt           Timestamp  `json:"created_at"`
	IsActive            bool       `json:"is_active"`
	EmailVerified       bool       `json:"email_verified"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.SubscriptionExpires != nil {
		exp := *u.SubscriptionExpires
		c.SubscriptionExpires = &exp
	}
	return &c
}

// UserPatch is a partial User. Nil fields are left untouched by Apply.
// There is no ID field; an ID never changes once set.
type UserPatch struct {
	Email               *string
	Name                *string
	SubscriptionStatus  *Tier
	SubscriptionExpires *Timestamp
	IsActive            *bool
	EmailVerified       *bool
}

// Apply merges the non-nil fields of p into u.
func (p UserPatch) Apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.SubscriptionStatus != nil {
		u.SubscriptionStatus = *p.SubscriptionStatus
	}
	if p.SubscriptionExpires != nil {
		exp := *p.SubscriptionExpires
		u.SubscriptionExpires = &exp
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if p.EmailVerified != nil {
		u.EmailVerified = *p.EmailVerified
	}
}

// =============================================================================
// CREDENTIAL AND PERSISTENCE
// =============================================================================

// PersistedSession is everything that survives a restart: the token, the
// cached profile and the authenticated flag. In-flight indicators are never
// part of it.
type PersistedSession struct {
	Token           string `json:"token"`
	User            *User  `json:"user"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResponse is the body returned by POST /login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	User        *User  `json:"user"`
}

// TokenResponse is the body returned by POST /refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}
