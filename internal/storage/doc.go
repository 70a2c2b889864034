// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides SQLite persistence for sessions and messages.
//
// Two tables back the chat history: sessions and messages, with a foreign
// key from messages to sessions and a CHECK constraint restricting roles
// to user and assistant. Saving a message atomically bumps the owning
// session's last_message_at, so session ordering never drifts from the
// message log.
//
// The store uses modernc.org/sqlite (pure Go, no cgo) in WAL mode with a
// single connection, which is how SQLite prefers to be written to.
package storage
