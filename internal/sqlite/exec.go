package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// prepare turns an intent into SQL text and driver arguments.
func prepare(in *query.Intent) (string, []any, error) {
	if in.Statement == "" {
		return render(in)
	}
	stmt, err := rewrite(in)
	if err != nil {
		return "", nil, err
	}
	a, err := args(in)
	if err != nil {
		return "", nil, err
	}
	return stmt, a, nil
}

// Query runs a read intent and returns the raw rows keyed by column name.
func (b *Backend) Query(ctx context.Context, in *query.Intent) ([]map[string]any, error) {
	if b.closed.Load() {
		return nil, types.ErrClosed
	}
	stmt, a, err := prepare(in)
	if err != nil {
		return nil, err
	}
	b.log.Debug().Str("sql", stmt).Int("args", len(a)).Msg("query")

	rows, err := b.db.QueryContext(ctx, stmt, a...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", in.Table, err)
	}
	return scanRows(rows)
}

// scanRows reads every row into a column-keyed map and closes rows.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// Exec runs a write intent. Derived assignments are applied to the target
// row in the same transaction once the statement has matched it.
func (b *Backend) Exec(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	if b.closed.Load() {
		return types.MutationResult{}, types.ErrClosed
	}
	stmt, a, err := prepare(in)
	if err != nil {
		return types.MutationResult{}, err
	}
	b.log.Debug().Str("sql", stmt).Int("args", len(a)).Msg("exec")

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return types.MutationResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, stmt, a...)
	if err != nil {
		return types.MutationResult{}, fmt.Errorf("%s %s: %w", in.Operation, in.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return types.MutationResult{}, fmt.Errorf("reading rows affected: %w", err)
	}
	var lastID int64
	if in.Operation == query.OpInsert {
		if lastID, err = res.LastInsertId(); err != nil {
			return types.MutationResult{}, fmt.Errorf("reading insert id: %w", err)
		}
	}

	// Builder intents already rendered their derived assignments.
	if affected > 0 && len(in.Derived) > 0 && in.Statement != "" {
		ub, err := updateBuilder(in, in.Derived, false)
		if err != nil {
			return types.MutationResult{}, err
		}
		dstmt, dargs, err := ub.ToSql()
		if err != nil {
			return types.MutationResult{}, err
		}
		if _, err := tx.ExecContext(ctx, dstmt, dargs...); err != nil {
			return types.MutationResult{}, fmt.Errorf("applying derived fields: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.MutationResult{}, fmt.Errorf("committing %s: %w", in.Operation, err)
	}
	return normalize.Mutation(in.Operation, lastID, affected), nil
}

// Get returns the raw row of e with the given id, or types.ErrNotFound.
func (b *Backend) Get(ctx context.Context, e types.Entity, id int64) (map[string]any, error) {
	if b.closed.Load() {
		return nil, types.ErrClosed
	}
	stmt, a, err := sq.Select("*").From(e.Table()).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, stmt, a...)
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", e, id, err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %d: %w", e, id, types.ErrNotFound)
	}
	return out[0], nil
}
