// Package store implements the Run Store: transactional operations over the
// pipeline's primary tables. It is the only shared mutable state in the
// system; every worker coordinates exclusively through it.
package store

import (
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store exposes the Run Store operations over a shared *sql.DB.
type Store struct {
	db *stdsql.DB
}

// New creates a Store on top of an open database connection.
func New(db *stdsql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection, for health checks.
func (s *Store) DB() *stdsql.DB {
	return s.db
}

// marshalJSON encodes a map for a JSONB column; nil maps become SQL NULL.
func marshalJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONB value: %w", err)
	}
	return b, nil
}

// unmarshalJSON decodes a JSONB column into a map; NULL yields nil.
func unmarshalJSON(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSONB value: %w", err)
	}
	return nil
}

// nullTime converts a nullable timestamp to *time.Time.
func nullTime(t stdsql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullString converts a nullable text column to its zero-value form.
func nullString(s stdsql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}
