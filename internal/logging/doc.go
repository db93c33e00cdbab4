// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger from the [log] config section.
//
// Every component receives the same *logrus.Logger and derives an entry
// tagged with a "component" field:
//
//	logger, closer, err := logging.New(cfg.Log)
//	defer closer.Close()
//	log := logging.For(logger, "chat")
package logging
