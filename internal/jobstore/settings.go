package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jzcodes/narrator/internal/config"
)

// Get implements config.Store, backing the dynamic settings table
// mutated by the HTTP API at runtime.
func (s *Store) Get(ctx context.Context, key string) (*config.Entry, error) {
	var valueJSON, description string
	err := s.db.QueryRowContext(ctx, `SELECT value, description FROM settings WHERE key = ?`, key).
		Scan(&valueJSON, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}

	var value any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return nil, fmt.Errorf("decode setting %q: %w", key, err)
	}
	return &config.Entry{Key: key, Value: value, Description: description}, nil
}

// Set implements config.Store, upserting one settings row.
func (s *Store) Set(ctx context.Context, key string, value any, description string) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, description) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, description = excluded.description`,
		key, string(valueJSON), description,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// List implements config.Store.
func (s *Store) List(ctx context.Context) ([]config.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, description FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []config.Entry
	for rows.Next() {
		var key, valueJSON, description string
		if err := rows.Scan(&key, &valueJSON, &description); err != nil {
			return nil, fmt.Errorf("scan setting row: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, fmt.Errorf("decode setting %q: %w", key, err)
		}
		out = append(out, config.Entry{Key: key, Value: value, Description: description})
	}
	return out, rows.Err()
}

var _ config.Store = (*Store)(nil)
