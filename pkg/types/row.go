package types

import (
	"encoding/json"
	"fmt"
)

// Row is one normalized result row keyed by field name. Every row carries an
// int64 "id" unless the statement projected it away.
type Row map[string]any

// ID returns the row's integer id.
func (r Row) ID() (int64, bool) {
	id, ok := r["id"].(int64)
	return id, ok
}

// Decode copies the row into an entity struct such as *Article.
func (r Row) Decode(v any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	return nil
}

// MutationResult is the outcome of an INSERT, UPDATE, or DELETE.
// InsertID is zero for non-inserts.
type MutationResult struct {
	InsertID     int64
	RowsAffected int64
}

// LastID is an alias of InsertID.
func (m MutationResult) LastID() int64 { return m.InsertID }

// AffectedRows is an alias of RowsAffected.
func (m MutationResult) AffectedRows() int64 { return m.RowsAffected }

// Changes is an alias of RowsAffected.
func (m MutationResult) Changes() int64 { return m.RowsAffected }

// MarshalJSON emits every alias callers have historically read.
func (m MutationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		InsertID     int64 `json:"insertId"`
		LastID       int64 `json:"lastID"`
		RowsAffected int64 `json:"rowsAffected"`
		AffectedRows int64 `json:"affectedRows"`
		Changes      int64 `json:"changes"`
	}{m.InsertID, m.InsertID, m.RowsAffected, m.RowsAffected, m.RowsAffected})
}
