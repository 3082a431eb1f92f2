package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailfeed/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveMessages inserts or replaces a batch of retrieved messages with
// their attachments in one transaction.
func (s *SQLiteStore) SaveMessages(ctx context.Context, msgs []model.StoredMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range msgs {
		msg := &msgs[i]
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, account_id, folder, subject, sender,
	received_at, sent_at, body, body_media_type, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id, folder, sender, subject, received_at) DO UPDATE SET
	body = excluded.body,
	body_media_type = excluded.body_media_type,
	fetched_at = excluded.fetched_at`,
			msg.ID, msg.AccountID, msg.Folder, msg.Subject, msg.Sender,
			msg.ReceivedAt, msg.SentAt, msg.Body, msg.BodyMediaType,
			msg.FetchedAt,
		); err != nil {
			return fmt.Errorf("upserting message %s: %w", msg.ID, err)
		}

		// Resolve the surviving row id: the upsert keeps the original
		// id on conflict.
		var rowID string
		if err := tx.GetContext(ctx, &rowID, `
SELECT id FROM messages
WHERE account_id = ? AND folder = ? AND sender = ? AND subject = ? AND received_at = ?`,
			msg.AccountID, msg.Folder, msg.Sender, msg.Subject, msg.ReceivedAt,
		); err != nil {
			return fmt.Errorf("resolving message row: %w", err)
		}
		msg.ID = rowID

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM attachments WHERE message_id = ?", rowID,
		); err != nil {
			return fmt.Errorf("clearing attachments for %s: %w", rowID, err)
		}
		for _, att := range msg.Attachments {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO attachments (message_id, name, media_type, size, data)
VALUES (?, ?, ?, ?, ?)`,
				rowID, att.Name, att.MediaType, int64(len(att.Data)), att.Data,
			); err != nil {
				return fmt.Errorf("inserting attachment %q: %w", att.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	return nil
}

// GetMessages returns archived messages matching the filter, newest first
// when SortDesc is set. Attachment content is not loaded.
func (s *SQLiteStore) GetMessages(ctx context.Context, opts MessageFilter) ([]model.StoredMessage, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT id, account_id, folder, subject, sender, received_at, sent_at,
	body, body_media_type, fetched_at
FROM messages`)

	var clauses []string
	var args []any
	if opts.AccountID != nil {
		clauses = append(clauses, "account_id = ?")
		args = append(args, *opts.AccountID)
	}
	if opts.Folder != nil {
		clauses = append(clauses, "folder = ?")
		args = append(args, *opts.Folder)
	}
	if opts.Query != nil {
		clauses = append(clauses, "(subject LIKE ? OR sender LIKE ?)")
		pattern := "%" + *opts.Query + "%"
		args = append(args, pattern, pattern)
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}

	sb.WriteString(" ORDER BY received_at")
	if opts.SortDesc {
		sb.WriteString(" DESC")
	}
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	}

	var out []model.StoredMessage
	if err := s.db.SelectContext(ctx, &out, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return out, nil
}

// GetMessageByID returns one archived message with its attachments, or nil
// when no such record exists.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, id string) (*model.StoredMessage, error) {
	var msg model.StoredMessage
	err := s.db.GetContext(ctx, &msg, `
SELECT id, account_id, folder, subject, sender, received_at, sent_at,
	body, body_media_type, fetched_at
FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %s: %w", id, err)
	}

	if err := s.db.SelectContext(ctx, &msg.Attachments, `
SELECT message_id, name, media_type, size, data
FROM attachments WHERE message_id = ? ORDER BY name`, id); err != nil {
		return nil, fmt.Errorf("querying attachments for %s: %w", id, err)
	}
	return &msg, nil
}

// DeleteMessage removes one archived message; attachments cascade.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}
