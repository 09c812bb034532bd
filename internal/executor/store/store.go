// Package store persists trajectories, executions and the robot event log
// in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // load the SQL driver for postgres
	_ "modernc.org/sqlite"

	"github.com/autopeer-io/pathrunner/internal/executor/core"
	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrDuplicate is returned when creating a record whose id already exists.
var ErrDuplicate = errors.New("duplicate")

var (
	_ core.ExecutionRepository = (*Store)(nil)
	_ core.EventRepository     = (*Store)(nil)
)

type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database and applies pending migrations. For sqlite
// the dsn is a file path; its directory is created if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(ctx, dsn)
	case DriverPostgres:
		db, err = sqlx.ConnectContext(ctx, DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, driver: driver}
	if err := s.ApplyMigrations(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func openSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type executionRow struct {
	ID           string        `db:"id"`
	TrajectoryID string        `db:"trajectory_id"`
	RobotID      string        `db:"robot_id"`
	Status       string        `db:"status"`
	CreatedAt    int64         `db:"created_at"`
	StartedAt    sql.NullInt64 `db:"started_at"`
	EndedAt      sql.NullInt64 `db:"ended_at"`
	LastError    string        `db:"last_error"`
}

func (r executionRow) toModel() *model.Execution {
	return &model.Execution{
		ID:           r.ID,
		TrajectoryID: r.TrajectoryID,
		RobotID:      r.RobotID,
		Status:       model.ExecutionStatus(r.Status),
		CreatedAt:    fromMillis(r.CreatedAt),
		StartedAt:    nullableTime(r.StartedAt),
		EndedAt:      nullableTime(r.EndedAt),
		LastError:    r.LastError,
	}
}

type pointRow struct {
	Seq      int             `db:"seq"`
	X        float64         `db:"x"`
	Y        float64         `db:"y"`
	Speed    sql.NullFloat64 `db:"speed"`
	NozzleOn sql.NullInt64   `db:"nozzle_on"`
	DwellMs  sql.NullInt64   `db:"dwell_ms"`
}

type eventRow struct {
	ID        int64          `db:"id"`
	ExecID    string         `db:"exec_id"`
	RobotID   string         `db:"robot_id"`
	Type      string         `db:"type"`
	Seq       sql.NullInt64  `db:"seq"`
	MsgID     string         `db:"msg_id"`
	Status    string         `db:"status"`
	Payload   sql.NullString `db:"payload"`
	CreatedAt int64          `db:"created_at"`
}

// CreateTrajectory stores a trajectory and its points in one transaction.
func (s *Store) CreateTrajectory(ctx context.Context, t *model.Trajectory) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO trajectories(id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`),
		t.ID, t.Name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert trajectory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trajectory %s: %w", t.ID, ErrDuplicate)
	}

	insert := tx.Rebind(`INSERT INTO trajectory_points(trajectory_id, seq, x, y, speed, nozzle_on, dwell_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, wp := range t.Waypoints {
		if _, err := tx.ExecContext(ctx, insert, t.ID, wp.Seq, wp.X, wp.Y, nullablePositive(wp.Speed), boolToInt(wp.NozzleOn), wp.DwellMs); err != nil {
			return fmt.Errorf("insert point seq=%d: %w", wp.Seq, err)
		}
	}
	return tx.Commit()
}

// CreateExecution stores a new execution. Status defaults to PENDING.
func (s *Store) CreateExecution(ctx context.Context, e *model.Execution) error {
	if e.Status == "" {
		e.Status = model.ExecutionPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO executions(id, trajectory_id, robot_id, status, created_at, last_error)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`), e.ID, e.TrajectoryID, e.RobotID, string(e.Status), e.CreatedAt.UnixMilli(), e.LastError)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", e.ID, ErrDuplicate)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Execution, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM executions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return row.toModel(), nil
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Status  model.ExecutionStatus
	RobotID string
	Limit   int
}

// List returns executions, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*model.Execution, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.RobotID != "" {
		where = append(where, "robot_id = ?")
		args = append(args, opts.RobotID)
	}
	q := `SELECT * FROM executions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	var rows []executionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	out := make([]*model.Execution, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) Waypoints(ctx context.Context, executionID string) ([]model.Waypoint, error) {
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
SELECT p.seq, p.x, p.y, p.speed, p.nozzle_on, p.dwell_ms
FROM trajectory_points p
JOIN executions e ON e.trajectory_id = p.trajectory_id
WHERE e.id = ?
ORDER BY p.seq ASC`), executionID)
	if err != nil {
		return nil, fmt.Errorf("load waypoints: %w", err)
	}
	out := make([]model.Waypoint, 0, len(rows))
	for _, r := range rows {
		wp := model.Waypoint{
			Seq:      r.Seq,
			X:        r.X,
			Y:        r.Y,
			Speed:    model.DefaultSpeed,
			NozzleOn: true,
		}
		if r.Speed.Valid && r.Speed.Float64 > 0 {
			wp.Speed = r.Speed.Float64
		}
		if r.NozzleOn.Valid {
			wp.NozzleOn = r.NozzleOn.Int64 != 0
		}
		if r.DwellMs.Valid && r.DwellMs.Int64 > 0 {
			wp.DwellMs = r.DwellMs.Int64
		}
		out = append(out, wp)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, u model.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
UPDATE executions SET
	status = ?,
	robot_id = CASE WHEN ? = '' THEN robot_id ELSE ? END,
	started_at = COALESCE(?, started_at),
	ended_at = COALESCE(?, ended_at),
	last_error = ?
WHERE id = ?`), string(u.Status), u.RobotID, u.RobotID, nullableMillis(u.StartedAt), nullableMillis(u.EndedAt), u.LastError, id)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var seq any
	if e.Seq != nil {
		seq = *e.Seq
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO events(exec_id, robot_id, type, seq, msg_id, status, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`), e.ExecutionID, e.RobotID, e.Type, seq, e.MsgID, e.Status, payload, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) AppendTelemetry(ctx context.Context, t *model.Telemetry) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO telemetry(exec_id, robot_id, seq_current, x, y, theta, speed, nozzle_state, battery_pct, deviation_m, timestamp_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ExecutionID, t.RobotID, t.SeqCurrent,
		floatArg(t.X), floatArg(t.Y), floatArg(t.Theta), floatArg(t.Speed),
		intArg(t.NozzleState), floatArg(t.BatteryPct), floatArg(t.DeviationM), t.TimestampMs)
	if err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}
	return nil
}

func (s *Store) HasReached(ctx context.Context, executionID string, seq int) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(1) FROM events WHERE exec_id = ? AND type = 'WAYPOINT_REACHED' AND seq = ?`), executionID, seq)
	if err != nil {
		return false, fmt.Errorf("query reached: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Events(ctx context.Context, executionID string) ([]model.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT * FROM events WHERE exec_id = ? ORDER BY id ASC`), executionID); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		e := model.Event{
			ID:          r.ID,
			ExecutionID: r.ExecID,
			RobotID:     r.RobotID,
			Type:        r.Type,
			MsgID:       r.MsgID,
			Status:      r.Status,
			CreatedAt:   fromMillis(r.CreatedAt),
		}
		if r.Seq.Valid {
			seq := int(r.Seq.Int64)
			e.Seq = &seq
		}
		if r.Payload.Valid {
			e.Payload = []byte(r.Payload.String)
		}
		out = append(out, e)
	}
	return out, nil
}

// TelemetryCount returns the number of stored samples for an execution.
func (s *Store) TelemetryCount(ctx context.Context, executionID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(1) FROM telemetry WHERE exec_id = ?`), executionID); err != nil {
		return 0, fmt.Errorf("count telemetry: %w", err)
	}
	return n, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullablePositive(v float64) any {
	if v <= 0 {
		return nil
	}
	return v
}

func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
