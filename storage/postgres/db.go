// Copyright 2025 Poiesic Systems
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


// Package postgres implements the job and vector stores on PostgreSQL with
// the pgvector extension. Pods, pod indexes and dead letters stay in the
// embedded badger backend; this package only takes over the two stores
// that benefit from a shared server: job status across processes and
// indexed nearest-neighbour search.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS indexing_jobs (
	id            TEXT PRIMARY KEY,
	pod_id        TEXT NOT NULL,
	status        SMALLINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS indexing_jobs_pod_idx ON indexing_jobs (pod_id, created_at);

CREATE TABLE IF NOT EXISTS vector_chunks (
	id            TEXT PRIMARY KEY,
	pod_id        TEXT NOT NULL,
	item_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	embedding     vector NOT NULL,
	model_version TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS vector_chunks_pod_idx ON vector_chunks (pod_id);
`

// DB holds the connection pool shared by the repositories.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the database at connString and verifies the connection.
func Open(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		Pool:   pool,
		logger: slog.Default().With("component", "postgres"),
	}, nil
}

// Migrate creates the extension, tables and indexes if they don't exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	db.logger.Debug("schema applied")
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
