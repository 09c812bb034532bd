package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	Version int
	UpSQL   string
}

// {{serial}} expands to the driver's auto-increment primary key.
var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS trajectories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS trajectory_points (
	trajectory_id TEXT NOT NULL REFERENCES trajectories(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL CHECK(seq >= 0),
	x DOUBLE PRECISION NOT NULL,
	y DOUBLE PRECISION NOT NULL,
	speed DOUBLE PRECISION,
	nozzle_on INTEGER,
	dwell_ms BIGINT,
	PRIMARY KEY(trajectory_id, seq)
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	trajectory_id TEXT NOT NULL REFERENCES trajectories(id),
	robot_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK(status IN ('PENDING','RUNNING','COMPLETED','ERROR')),
	created_at BIGINT NOT NULL,
	started_at BIGINT,
	ended_at BIGINT,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS executions_status ON executions(status);
`,
	},
	{
		Version: 2,
		UpSQL: `
CREATE TABLE IF NOT EXISTS events (
	id {{serial}},
	exec_id TEXT NOT NULL,
	robot_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	seq INTEGER,
	msg_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	payload TEXT,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_exec_type_seq ON events(exec_id, type, seq);

CREATE TABLE IF NOT EXISTS telemetry (
	id {{serial}},
	exec_id TEXT NOT NULL,
	robot_id TEXT NOT NULL DEFAULT '',
	seq_current INTEGER NOT NULL,
	x DOUBLE PRECISION,
	y DOUBLE PRECISION,
	theta DOUBLE PRECISION,
	speed DOUBLE PRECISION,
	nozzle_state INTEGER,
	battery_pct DOUBLE PRECISION,
	deviation_m DOUBLE PRECISION,
	timestamp_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS telemetry_exec ON telemetry(exec_id, timestamp_ms);
`,
	},
}

func serialFor(driver string) string {
	if driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// ApplyMigrations brings the schema up to the latest version. Each version
// is applied in its own transaction.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at BIGINT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM schema_migrations WHERE version = ?`), m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		up := strings.ReplaceAll(m.UpSQL, "{{serial}}", serialFor(s.driver))
		for _, stmt := range splitStatements(up) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("apply migration %d: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`), m.Version, time.Now().UnixMilli()); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// splitStatements splits a migration on ";" so drivers that reject
// multi-statement Exec calls can run it.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}
