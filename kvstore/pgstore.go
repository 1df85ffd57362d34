// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a PostgreSQL-backed Store over a single table
// kv_entries(key bytea primary key, value bytea, version bigint). CAS is a
// conditional UPDATE ... WHERE version = $expected (or INSERT for create),
// the same shape as the teacher's pgStore.Append version-gated write.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to dsn and verifies the kv_entries table is reachable.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kvstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore: ping: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return value, true, nil
}

func (s *PGStore) Set(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	var prev []byte
	err := s.pool.QueryRow(ctx, `
		INSERT INTO kv_entries (key, value, version) VALUES ($1, $2, 1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = kv_entries.version + 1
		RETURNING (SELECT value FROM kv_entries WHERE key = $1)
	`, key, value).Scan(&prev)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	if prev == nil {
		return nil, false, nil
	}
	return prev, true, nil
}

func (s *PGStore) NewCAS(ctx context.Context, key []byte) (Guard, error) {
	var value []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT value, version FROM kv_entries WHERE key = $1`, key).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return &pgGuard{store: s, key: key, seenVersion: 0, seenPresent: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return &pgGuard{store: s, key: key, seenValue: value, seenVersion: version, seenPresent: true}, nil
}

type pgGuard struct {
	store       *PGStore
	key         []byte
	seenValue   []byte
	seenVersion int64
	seenPresent bool
}

func (g *pgGuard) Current() ([]byte, bool) {
	if !g.seenPresent {
		return nil, false
	}
	return g.seenValue, true
}

func (g *pgGuard) Swap(ctx context.Context, newValue []byte) (Guard, error) {
	if !g.seenPresent {
		_, err := g.store.pool.Exec(ctx,
			`INSERT INTO kv_entries (key, value, version) VALUES ($1, $2, 1)`, g.key, newValue)
		if err == nil {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return g.refresh(ctx)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}

	cmd, err := g.store.pool.Exec(ctx,
		`UPDATE kv_entries SET value = $1, version = version + 1 WHERE key = $2 AND version = $3`,
		newValue, g.key, g.seenVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	if cmd.RowsAffected() == 0 {
		return g.refresh(ctx)
	}
	return nil, nil
}

func (g *pgGuard) refresh(ctx context.Context) (Guard, error) {
	fresh, err := g.store.NewCAS(ctx, g.key)
	if err != nil {
		return nil, err
	}
	return fresh, ErrCASConflict
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
