// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/agentrelay/internal/pipeline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Schema creates the tables used by Postgres. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS agentrelay_kv (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS agentrelay_runs (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	name       TEXT NOT NULL,
	record     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS agentrelay_runs_created_at ON agentrelay_runs (created_at DESC);
`

// Postgres stores values and runs as JSONB rows.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn and applies Schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	s := NewPostgres(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return errors.Wrap(err, "migrate postgres")
}

func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO agentrelay_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, data)
	return errors.Wrapf(err, "save %s", key)
}

func (s *Postgres) Load(ctx context.Context, key string, out any) (bool, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT value FROM agentrelay_kv WHERE key = $1", key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "load %s", key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func (s *Postgres) SaveRun(ctx context.Context, run pipeline.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.Wrapf(err, "encode run %s", run.ID)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO agentrelay_runs (id, created_at, name, record) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET created_at = EXCLUDED.created_at, name = EXCLUDED.name, record = EXCLUDED.record`,
		run.ID, run.Timestamp, run.Name, data)
	return errors.Wrapf(err, "save run %s", run.ID)
}

// LoadAllRuns returns runs newest first.
func (s *Postgres) LoadAllRuns(ctx context.Context) ([]pipeline.RunRecord, error) {
	rows, err := s.db.Query(ctx, "SELECT record FROM agentrelay_runs ORDER BY created_at DESC, id")
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []pipeline.RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		var run pipeline.RunRecord
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, errors.Wrap(err, "decode run")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "list runs")
}

func (s *Postgres) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM agentrelay_runs WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "delete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

// Wipe empties both tables in one transaction.
func (s *Postgres) Wipe(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin wipe")
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, "DELETE FROM agentrelay_kv"); err != nil {
		return errors.Wrap(err, "wipe kv")
	}
	if _, err := tx.Exec(ctx, "DELETE FROM agentrelay_runs"); err != nil {
		return errors.Wrap(err, "wipe runs")
	}
	return errors.Wrap(tx.Commit(ctx), "commit wipe")
}
