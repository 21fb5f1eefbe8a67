// Package fixtures moves the CMS tables in and out of JSONL files, one file
// per table: categories.jsonl, users.jsonl, and articles.jsonl.
//
// Seeding goes through the same insert path as application writes, so the
// files load into either backend. Unknown fields are ignored and rows that
// collide with existing ones are skipped.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Store is the part of the adapter fixtures need.
type Store interface {
	Fetch(ctx context.Context, in *query.Intent) ([]types.Row, error)
	Apply(ctx context.Context, in *query.Intent) (types.MutationResult, error)
}

// Report counts what happened to one table.
type Report struct {
	Table     string `json:"table"`
	Rows      int    `json:"rows"`
	Skipped   int    `json:"skipped"`
	Malformed int    `json:"malformed"`
}

// Entities are processed in reference order: articles point at categories
// and users.
var Entities = []types.Entity{types.EntityCategory, types.EntityUser, types.EntityArticle}

// FileName is the JSONL file holding e.
func FileName(e types.Entity) string {
	return e.Table() + ".jsonl"
}

// Seed inserts the records found in dir. Missing files are treated as
// empty. Records that fail validation or hit a unique key are skipped and
// counted; backend failures stop the load.
func Seed(ctx context.Context, s Store, dir string) ([]Report, error) {
	reports := make([]Report, 0, len(Entities))
	for _, e := range Entities {
		records, malformed, err := readJSONL(filepath.Join(dir, FileName(e)))
		if err != nil {
			return reports, err
		}
		rep := Report{Table: e.Table(), Malformed: malformed}
		for _, rec := range records {
			in, err := insertIntent(e, rec)
			if err != nil {
				rep.Skipped++
				continue
			}
			res, err := s.Apply(ctx, in)
			var be *types.BackendError
			if errors.As(err, &be) || errors.Is(err, types.ErrInvalidValue) {
				rep.Skipped++
				continue
			}
			if err != nil {
				return reports, fmt.Errorf("seeding %s: %w", e.Table(), err)
			}
			if res.RowsAffected == 0 {
				rep.Skipped++
				continue
			}
			rep.Rows++
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// insertIntent builds an insert from the known, non-null fields of rec.
func insertIntent(e types.Entity, rec map[string]any) (*query.Intent, error) {
	b := query.Insert(e).IgnoreConflict()
	for _, name := range types.SchemaFor(e).Names() {
		if v, ok := rec[name]; ok && v != nil {
			b.Set(name, v)
		}
	}
	return b.Build()
}

// Export writes every row of each table to dir, ordered by id. Existing
// files are replaced atomically.
func Export(ctx context.Context, s Store, dir string) ([]Report, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	reports := make([]Report, 0, len(Entities))
	for _, e := range Entities {
		in, err := query.Select(e).OrderBy("id", false).Build()
		if err != nil {
			return reports, err
		}
		rows, err := s.Fetch(ctx, in)
		if err != nil {
			return reports, fmt.Errorf("reading %s: %w", e.Table(), err)
		}
		records := make([]any, len(rows))
		for i, r := range rows {
			records[i] = r
		}
		if err := writeJSONL(filepath.Join(dir, FileName(e)), records); err != nil {
			return reports, err
		}
		reports = append(reports, Report{Table: e.Table(), Rows: len(rows)})
	}
	return reports, nil
}
