// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatsync/internal/model"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists the session in a single-row SQLite table.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// sessionRow mirrors the session table.
type sessionRow struct {
	Token           string         `db:"token"`
	UserJSON        sql.NullString `db:"user_json"`
	IsAuthenticated bool           `db:"is_authenticated"`
	UpdatedAt       string         `db:"updated_at"`
}

// OpenSQLiteStore opens (or creates) the database at path and migrates it
// to the latest schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" on a single shared connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (*model.PersistedSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT token, user_json, is_authenticated, updated_at FROM session WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess := &model.PersistedSession{Token: row.Token, IsAuthenticated: row.IsAuthenticated}
	if row.UserJSON.Valid && row.UserJSON.String != "" {
		var u model.User
		if err := json.Unmarshal([]byte(row.UserJSON.String), &u); err != nil {
			return nil, fmt.Errorf("parsing stored user: %w", err)
		}
		sess.User = &u
	}
	return sess, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sess model.PersistedSession) error {
	var userJSON sql.NullString
	if sess.User != nil {
		data, err := json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("encoding user: %w", err)
		}
		userJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO session (id, token, user_json, is_authenticated, updated_at)
		VALUES (1, :token, :user_json, :is_authenticated, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_json = excluded.user_json,
			is_authenticated = excluded.is_authenticated,
			updated_at = excluded.updated_at`,
		sessionRow{
			Token:           sess.Token,
			UserJSON:        userJSON,
			IsAuthenticated: sess.IsAuthenticated,
			UpdatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// migrateUp applies all pending embedded migrations. The migrate instance is
// not closed because that would close db, which the caller owns.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
