// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client wires the chatsync components together from a Config.
//
// # Key Types
//
//   - Client: owns the session store, the auth session, the conversation
//     cache, the model registry and the usage tracker
//
// # Usage
//
//	c, err := client.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	if err := c.Start(ctx); err != nil { ... }
//	err = c.Chat.Send(ctx, model.ChatRequest{Message: "hi", Model: c.Models.Selected()})
package client
