// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth owns the authenticated session: the bearer credential and
// the cached user profile.
//
// A Session moves between three states:
//
//	Anonymous -> Authenticating -> Authenticated -> Anonymous
//
// Login and Rehydrate pass through Authenticating; Logout, a failed Refresh
// and a failed Rehydrate return to Anonymous. The credential exists exactly
// when the session is Authenticated.
//
// # Key Types
//
//   - Session: state machine with Login, Register, Logout, Refresh,
//     UpdateUser, Rehydrate and Sync
//   - State: Anonymous, Authenticating or Authenticated
//
// # Usage
//
//	sess := auth.New(authAPI, store, logger)
//	if err := sess.Rehydrate(ctx); err != nil {
//	    err = sess.Login(ctx, email, password)
//	}
//	chatAPI := transport.New(chatURL, sess.Token, cfg, logger)
//
// Session.Token is a transport.TokenSource, so every chat call reads the
// credential at the moment it is sent.
//
// # Fencing
//
// Logout increments a generation counter. A Login, Refresh or Rehydrate
// response that arrives after a Logout started later than the request is
// discarded with ErrSuperseded.
package auth
