package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS report_recipients (
    chat_id BIGINT PRIMARY KEY,
    username TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
