package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"postbox/internal/transaction"
	pkgerrors "postbox/pkg/errors"
)

// UserDirectory resolves identities owned by an external collaborator.
// A nil user with a nil error means the user does not exist.
type UserDirectory interface {
	Resolve(ctx context.Context, id int64) (*User, error)
}

type MessageRepository interface {
	// Create persists msg and sets its assigned ID.
	Create(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id int64) (*Message, error)
	// ListConversation returns messages exchanged between two users, newest
	// first, with IDs below beforeID when beforeID is positive.
	ListConversation(ctx context.Context, userID, peerID, beforeID int64, limit int) ([]Message, error)
}

type PostgresMessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

const messageColumns = `id, sender_id, recipient_id, content, is_private, correlation_id, created_at`

func (r *PostgresMessageRepository) Create(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (sender_id, recipient_id, content, is_private, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	q := transaction.QuerierFrom(ctx, r.db)
	err := q.QueryRowContext(ctx, query,
		msg.SenderID, msg.RecipientID, msg.Content,
		msg.IsPrivate, msg.CorrelationID, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("message with correlation id '%s' already exists", msg.CorrelationID))
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

func (r *PostgresMessageRepository) Get(ctx context.Context, id int64) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(transaction.QuerierFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NotFound("Message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

func (r *PostgresMessageRepository) ListConversation(ctx context.Context, userID, peerID, beforeID int64, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		  AND ($3::bigint <= 0 OR id < $3::bigint)
		ORDER BY id DESC
		LIMIT $4
	`

	rows, err := transaction.QuerierFrom(ctx, r.db).QueryContext(ctx, query, userID, peerID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}

	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content,
		&msg.IsPrivate, &msg.CorrelationID, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

// PostgresDirectory reads the users table kept in sync by the identity
// provider.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Resolve(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, username, display_name, created_at FROM users WHERE id = $1`

	var u User
	err := d.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %d: %w", id, err)
	}

	return &u, nil
}
