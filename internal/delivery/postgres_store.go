package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"postbox/internal/transaction"
	pkgerrors "postbox/pkg/errors"
)

// PostgresStore keeps the ledger next to the messages table so that a
// message and its staged record commit together.
type PostgresStore struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

func NewPostgresStore(db *sql.DB, retention time.Duration) *PostgresStore {
	return &PostgresStore{db: db, retention: retention, now: time.Now}
}

var recordColumnNames = []string{
	"correlation_id", "recipient", "envelope", "status", "attempts",
	"next_attempt_at", "pushed_at", "acknowledged_at", "expires_at",
	"last_error", "created_at", "updated_at",
}

func recordColumns(alias string) string {
	if alias == "" {
		return strings.Join(recordColumnNames, ", ")
	}
	cols := make([]string, len(recordColumnNames))
	for i, c := range recordColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// Stage joins the caller's transaction when ctx carries one.
func (s *PostgresStore) Stage(ctx context.Context, env Envelope) (bool, error) {
	payload, err := env.Marshal()
	if err != nil {
		return false, fmt.Errorf("failed to encode envelope: %w", err)
	}

	now := s.now().UTC()
	query := `
		INSERT INTO delivery_records (correlation_id, recipient, envelope, status, attempts,
			next_attempt_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'staged', 0, $4, $5, $4, $4)
		ON CONFLICT (correlation_id) DO NOTHING
	`

	result, err := transaction.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		env.CorrelationID, env.To, payload, now, now.Add(s.retention),
	)
	if err != nil {
		return false, fmt.Errorf("failed to stage envelope: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to stage envelope: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, correlationID string) (*Record, error) {
	query := `SELECT ` + recordColumns("") + ` FROM delivery_records WHERE correlation_id = $1`

	rec, err := scanRecord(transaction.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NotFound("Delivery", correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Lease(ctx context.Context, owner string, now time.Time, limit int, leaseFor time.Duration) ([]Record, error) {
	query := `
		WITH due AS (
			SELECT correlation_id
			FROM delivery_records
			WHERE status = 'staged'
			  AND next_attempt_at <= $2
			  AND expires_at > $2
			  AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
			ORDER BY next_attempt_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_records d
		SET lease_owner = $1,
			lease_expires_at = $4,
			attempts = d.attempts + 1,
			updated_at = $2
		FROM due
		WHERE d.correlation_id = due.correlation_id
		RETURNING ` + recordColumns("d")

	rows, err := s.db.QueryContext(ctx, query, owner, now, limit, now.Add(leaseFor))
	if err != nil {
		return nil, fmt.Errorf("failed to lease delivery records: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to lease delivery records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].NextAttemptAt.Equal(records[j].NextAttemptAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].NextAttemptAt.Before(records[j].NextAttemptAt)
	})
	return records, nil
}

var errLeaseLost = pkgerrors.ErrConflict.WithDetail("message", "delivery lease lost")

func (s *PostgresStore) MarkPushed(ctx context.Context, correlationID, owner string, now time.Time) error {
	query := `
		UPDATE delivery_records
		SET status = 'pushed',
			pushed_at = $3,
			lease_owner = NULL,
			lease_expires_at = NULL,
			last_error = NULL,
			updated_at = $3
		WHERE correlation_id = $1 AND lease_owner = $2 AND status = 'staged'
	`

	return s.execLeased(ctx, "mark delivery pushed", query, correlationID, owner, now)
}

func (s *PostgresStore) MarkRetry(ctx context.Context, correlationID, owner string, next time.Time, reason string) error {
	query := `
		UPDATE delivery_records
		SET next_attempt_at = $3,
			last_error = $4,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE correlation_id = $1 AND lease_owner = $2 AND status = 'staged'
	`

	return s.execLeased(ctx, "reschedule delivery", query, correlationID, owner, next, reason)
}

func (s *PostgresStore) execLeased(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}

func (s *PostgresStore) Acknowledge(ctx context.Context, correlationID, recipient string, now time.Time) (bool, error) {
	query := `
		UPDATE delivery_records
		SET status = 'acknowledged',
			acknowledged_at = $3,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = $3
		WHERE correlation_id = $1
		  AND recipient = $2
		  AND (status = 'pushed' OR (status = 'staged' AND attempts > 0))
	`

	result, err := s.db.ExecContext(ctx, query, correlationID, recipient, now)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge delivery: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge delivery: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	rec, err := s.Get(ctx, correlationID)
	if err != nil {
		return false, err
	}
	return false, ackRejection(rec, recipient)
}

// ackRejection explains why an acknowledgment changed nothing. A nil error
// means the record was already acknowledged.
func ackRejection(rec *Record, recipient string) error {
	if rec.Recipient != recipient {
		return pkgerrors.NotFound("Delivery", rec.CorrelationID)
	}
	switch rec.Status {
	case StatusAcknowledged:
		return nil
	case StatusExpired:
		return pkgerrors.ErrConflict.WithDetail("message", "delivery has expired")
	default:
		return pkgerrors.ErrConflict.WithDetail("message", "delivery has not been pushed yet")
	}
}

func (s *PostgresStore) RequeueUnacknowledged(ctx context.Context, pushedBefore, now time.Time) (int, error) {
	query := `
		UPDATE delivery_records
		SET status = 'staged',
			next_attempt_at = $2,
			last_error = 'acknowledgment timed out',
			updated_at = $2
		WHERE status = 'pushed' AND pushed_at < $1 AND expires_at > $2
	`

	result, err := s.db.ExecContext(ctx, query, pushedBefore, now)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue deliveries: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Expire(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	query := `
		WITH due AS (
			SELECT correlation_id
			FROM delivery_records
			WHERE status IN ('staged', 'pushed')
			  AND expires_at <= $1
			  AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_records d
		SET status = 'expired',
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = $1
		FROM due
		WHERE d.correlation_id = due.correlation_id
		RETURNING ` + recordColumns("d")

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expire deliveries: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to expire deliveries: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int, error) {
	query := `
		DELETE FROM delivery_records
		WHERE status IN ('acknowledged', 'expired') AND updated_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) MakeDue(ctx context.Context, recipient string, now time.Time) (int, error) {
	query := `
		UPDATE delivery_records
		SET next_attempt_at = $2, updated_at = $2
		WHERE recipient = $1 AND status = 'staged' AND next_attempt_at > $2
	`

	result, err := s.db.ExecContext(ctx, query, recipient, now)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill deliveries: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_records WHERE status IN ('staged', 'pushed')`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending deliveries: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec            Record
		payload        []byte
		status         string
		pushedAt       sql.NullTime
		acknowledgedAt sql.NullTime
		lastError      sql.NullString
	)

	err := row.Scan(
		&rec.CorrelationID, &rec.Recipient, &payload, &status, &rec.Attempts,
		&rec.NextAttemptAt, &pushedAt, &acknowledgedAt, &rec.ExpiresAt,
		&lastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Envelope, err = UnmarshalEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope %s: %w", rec.CorrelationID, err)
	}
	rec.Status = Status(status)
	rec.LastError = lastError.String
	if pushedAt.Valid {
		t := pushedAt.Time.UTC()
		rec.PushedAt = &t
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time.UTC()
		rec.AcknowledgedAt = &t
	}
	rec.NextAttemptAt = rec.NextAttemptAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
