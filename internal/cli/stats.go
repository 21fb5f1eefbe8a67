package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/pkg/quire"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// storeStats summarizes the contents of the store.
type storeStats struct {
	Engine       string           `json:"engine"`
	Tables       map[string]int64 `json:"tables"`
	ByStatus     map[string]int64 `json:"articles_by_status"`
	Views        int64            `json:"views"`
	LastArticle  *time.Time       `json:"last_article,omitempty"`
	DatabaseSize int64            `json:"database_size,omitempty"`
}

var statuses = []types.Status{types.StatusDraft, types.StatusScheduled, types.StatusPublished, types.StatusArchived, types.StatusDeleted}

func newStatsCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and article totals",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			st, err := collectStats(cmd.Context(), s.db)
			if err != nil {
				return err
			}
			if st.Engine == types.EngineSQLite {
				if fi, err := os.Stat(s.settings.SQLite.Path); err == nil {
					st.DatabaseSize = fi.Size()
				}
			}
			if f.jsonMode {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func count(ctx context.Context, db *quire.DB, stmt string, params ...any) (int64, error) {
	rows, err := db.Query(ctx, stmt, params...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := rows[0]["n"].(int64)
	return n, nil
}

func collectStats(ctx context.Context, db *quire.DB) (*storeStats, error) {
	st := &storeStats{
		Engine:   db.Engine(ctx),
		Tables:   make(map[string]int64),
		ByStatus: make(map[string]int64),
	}
	for _, table := range types.StandardTableNames {
		n, err := count(ctx, db, "SELECT COUNT(*) AS n FROM "+table)
		if err != nil {
			return nil, err
		}
		st.Tables[table] = n
	}
	for _, status := range statuses {
		n, err := count(ctx, db, "SELECT COUNT(*) AS n FROM articles WHERE status = ?", string(status))
		if err != nil {
			return nil, err
		}
		st.ByStatus[string(status)] = n
	}

	rows, err := db.Query(ctx, "SELECT view_count FROM articles")
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		v, _ := r["view_count"].(int64)
		st.Views += v
	}

	rows, err = db.Query(ctx, "SELECT created_at FROM articles ORDER BY created_at DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(rows) == 1 {
		if t, ok := rows[0]["created_at"].(time.Time); ok {
			st.LastArticle = &t
		}
	}
	return st, nil
}

func printStats(w io.Writer, st *storeStats) {
	fmt.Fprintf(w, "engine:      %s\n", st.Engine)
	if st.DatabaseSize > 0 {
		fmt.Fprintf(w, "size:        %s\n", humanize.Bytes(uint64(st.DatabaseSize)))
	}
	for _, table := range types.StandardTableNames {
		fmt.Fprintf(w, "%-12s %s\n", table+":", humanize.Comma(st.Tables[table]))
	}
	for _, status := range statuses {
		fmt.Fprintf(w, "  %-10s %s\n", string(status)+":", humanize.Comma(st.ByStatus[string(status)]))
	}
	fmt.Fprintf(w, "views:       %s\n", humanize.Comma(st.Views))
	if st.LastArticle != nil {
		fmt.Fprintf(w, "last article %s\n", humanize.Time(*st.LastArticle))
	}
}
