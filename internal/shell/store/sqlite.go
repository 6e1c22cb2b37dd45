package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/rollout/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite. A file-backed database on shared
// storage lets multiple dispatcher instances contend for the same queue and
// lock.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Immediate transactions so concurrent dequeuers serialize at BEGIN
	// instead of failing at first write.
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Types
// =============================================================================

// requestRow represents a pending request row in the database.
type requestRow struct {
	ID          string `db:"id"`
	Version     string `db:"version"`
	Environment string `db:"environment"`
	Priority    string `db:"priority"`
	EnqueuedAt  string `db:"enqueued_at"`
}

func (r requestRow) toDomain() (domain.DeploymentRequest, error) {
	enqueued, err := parseTime(r.EnqueuedAt)
	if err != nil {
		return domain.DeploymentRequest{}, err
	}
	return domain.DeploymentRequest{
		ID:          r.ID,
		Version:     r.Version,
		Environment: domain.Environment(r.Environment),
		Priority:    domain.Priority(r.Priority),
		EnqueuedAt:  enqueued,
	}, nil
}

// lockRow represents the single lock row.
type lockRow struct {
	ID          int    `db:"id"`
	HolderID    string `db:"holder_id"`
	AcquiredAt  string `db:"acquired_at"`
	HeartbeatAt string `db:"heartbeat_at"`
}

// outcomeRow represents an outcome audit row.
type outcomeRow struct {
	ID          int64  `db:"id"`
	RequestID   string `db:"request_id"`
	Environment string `db:"environment"`
	Version     string `db:"version"`
	Result      string `db:"result"`
	Detail      string `db:"detail"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// dispatchOrder sorts the queue the way DequeueRequest consumes it: high
// priority jumps the queue, everything else stays in enqueue order.
const dispatchOrder = `
	CASE priority WHEN 'high' THEN 0 ELSE 1 END,
	enqueued_at,
	id`

// =============================================================================
// Queue Operations
// =============================================================================

func (s *SQLiteStore) EnqueueRequest(ctx context.Context, req *domain.DeploymentRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, version, environment, priority, enqueued_at)
		 VALUES (?, ?, ?, ?, ?)`,
		req.ID, req.Version, string(req.Environment), string(req.Priority), formatTime(req.EnqueuedAt))
	if err != nil {
		return NewStoreError("EnqueueRequest", "request", req.ID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) DequeueRequest(ctx context.Context) (*domain.DeploymentRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, NewStoreError("DequeueRequest", "request", "", "failed to begin transaction", ErrTxFailed)
	}
	defer tx.Rollback()

	var row requestRow
	err = tx.GetContext(ctx, &row,
		`SELECT id, version, environment, priority, enqueued_at
		 FROM requests ORDER BY `+dispatchOrder+` LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStoreError("DequeueRequest", "request", "", err.Error(), err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, row.ID); err != nil {
		return nil, NewStoreError("DequeueRequest", "request", row.ID, err.Error(), err)
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStoreError("DequeueRequest", "request", row.ID, "failed to commit", ErrTxFailed)
	}

	req, err := row.toDomain()
	if err != nil {
		return nil, NewStoreError("DequeueRequest", "request", row.ID, err.Error(), err)
	}
	return &req, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context) ([]domain.DeploymentRequest, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, version, environment, priority, enqueued_at
		 FROM requests ORDER BY `+dispatchOrder)
	if err != nil {
		return nil, NewStoreError("ListRequests", "request", "", err.Error(), err)
	}

	requests := make([]domain.DeploymentRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toDomain()
		if err != nil {
			return nil, NewStoreError("ListRequests", "request", row.ID, err.Error(), err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (s *SQLiteStore) ClearRequests(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM requests`); err != nil {
		return NewStoreError("ClearRequests", "request", "", err.Error(), err)
	}
	return nil
}

// =============================================================================
// Lock Operations
// =============================================================================

func (s *SQLiteStore) InsertLock(ctx context.Context, handle *domain.LockHandle) error {
	// Conditional insert keeps the check and the write in one statement, so
	// two contenders cannot both succeed.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deploy_lock (id, holder_id, acquired_at, heartbeat_at)
		 SELECT 1, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM deploy_lock WHERE id = 1)`,
		handle.HolderID, formatTime(handle.AcquiredAt), formatTime(handle.HeartbeatAt))
	if err != nil {
		return NewStoreError("InsertLock", "lock", handle.HolderID, err.Error(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NewStoreError("InsertLock", "lock", handle.HolderID, err.Error(), err)
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

func (s *SQLiteStore) GetLock(ctx context.Context) (*domain.LockHandle, error) {
	var row lockRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, holder_id, acquired_at, heartbeat_at FROM deploy_lock WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewStoreError("GetLock", "lock", "", err.Error(), err)
	}

	acquired, err := parseTime(row.AcquiredAt)
	if err != nil {
		return nil, NewStoreError("GetLock", "lock", row.HolderID, err.Error(), err)
	}
	heartbeat, err := parseTime(row.HeartbeatAt)
	if err != nil {
		return nil, NewStoreError("GetLock", "lock", row.HolderID, err.Error(), err)
	}

	return &domain.LockHandle{
		HolderID:    row.HolderID,
		AcquiredAt:  acquired,
		HeartbeatAt: heartbeat,
	}, nil
}

func (s *SQLiteStore) DeleteLock(ctx context.Context, holderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deploy_lock WHERE holder_id = ?`, holderID); err != nil {
		return NewStoreError("DeleteLock", "lock", holderID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) DeleteStaleLock(ctx context.Context, holderID string, heartbeatAt time.Time) error {
	// Conditioning on the observed heartbeat keeps a holder that renewed
	// between inspection and eviction alive.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM deploy_lock WHERE holder_id = ? AND heartbeat_at = ?`,
		holderID, formatTime(heartbeatAt))
	if err != nil {
		return NewStoreError("DeleteStaleLock", "lock", holderID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) TouchLock(ctx context.Context, holderID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deploy_lock SET heartbeat_at = ? WHERE holder_id = ?`,
		formatTime(at), holderID)
	if err != nil {
		return NewStoreError("TouchLock", "lock", holderID, err.Error(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NewStoreError("TouchLock", "lock", holderID, err.Error(), err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Cooldown Operations
// =============================================================================

func (s *SQLiteStore) LastSuccess(ctx context.Context) (*time.Time, error) {
	var stored string
	err := s.db.GetContext(ctx, &stored,
		`SELECT last_deployment_at FROM cooldown WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStoreError("LastSuccess", "cooldown", "", err.Error(), err)
	}

	t, err := parseTime(stored)
	if err != nil {
		return nil, NewStoreError("LastSuccess", "cooldown", "", err.Error(), err)
	}
	return &t, nil
}

func (s *SQLiteStore) RecordSuccess(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldown (id, last_deployment_at) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET last_deployment_at = excluded.last_deployment_at`,
		formatTime(at))
	if err != nil {
		return NewStoreError("RecordSuccess", "cooldown", "", err.Error(), err)
	}
	return nil
}

// =============================================================================
// Outcome Operations
// =============================================================================

func (s *SQLiteStore) CreateOutcome(ctx context.Context, outcome *domain.DeploymentOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (request_id, environment, version, result, detail, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		outcome.RequestID, string(outcome.Environment), outcome.Version, string(outcome.Result),
		outcome.Detail, formatTime(outcome.StartedAt), formatTime(outcome.FinishedAt))
	if err != nil {
		return NewStoreError("CreateOutcome", "outcome", outcome.RequestID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]domain.DeploymentOutcome, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []outcomeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, request_id, environment, version, result, detail, started_at, finished_at
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewStoreError("ListOutcomes", "outcome", "", err.Error(), err)
	}

	outcomes := make([]domain.DeploymentOutcome, 0, len(rows))
	for _, row := range rows {
		started, err := parseTime(row.StartedAt)
		if err != nil {
			return nil, NewStoreError("ListOutcomes", "outcome", row.RequestID, err.Error(), err)
		}
		finished, err := parseTime(row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("ListOutcomes", "outcome", row.RequestID, err.Error(), err)
		}
		outcomes = append(outcomes, domain.DeploymentOutcome{
			RequestID:   row.RequestID,
			Environment: domain.Environment(row.Environment),
			Version:     row.Version,
			Result:      domain.Result(row.Result),
			Detail:      row.Detail,
			StartedAt:   started,
			FinishedAt:  finished,
		})
	}
	return outcomes, nil
}
