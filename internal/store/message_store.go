package store

import (
	"context"
	"time"
)

type MessageStore struct {
	db DB
}

func NewMessageStore(db DB) *MessageStore {
	return &MessageStore{db: db}
}

type MessageInput struct {
	ID            string
	AccountID     string
	Content       string
	Response      string
	Topic         string
	Category      string
	ContentLength int
}

type MessageRow struct {
	ID            string    `db:"id"`
	AccountID     string    `db:"account_id"`
	Content       string    `db:"content"`
	Response      string    `db:"response"`
	Topic         string    `db:"topic"`
	Category      string    `db:"category"`
	ContentLength int       `db:"content_length"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *MessageStore) Insert(ctx context.Context, tx Execer, input MessageInput) error {
	query := `
		INSERT INTO messages (id, account_id, content, response, topic, category, content_length)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.AccountID, input.Content, input.Response,
		input.Topic, input.Category, input.ContentLength,
	)
	return err
}

// RecentByAccount returns the newest messages inside the scoring window,
// newest first, capped at limit.
func (s *MessageStore) RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]MessageRow, error) {
	var rows []MessageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, content, response, topic, category, content_length, created_at
		FROM messages
		WHERE account_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, accountID, since, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *MessageStore) ActiveAccountsSince(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT account_id
		FROM messages
		WHERE created_at >= $1
	`, since)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MessageStore) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM messages
		WHERE account_id = $1
	`, accountID)
	return count, err
}

func (s *MessageStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM messages
		WHERE account_id = $1 AND created_at >= $2
	`, accountID, since)
	return count, err
}
