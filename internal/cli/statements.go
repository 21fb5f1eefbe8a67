package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// parseParams turns positional arguments into statement parameters. JSON
// scalars, arrays, and objects are decoded (whole numbers become int64);
// anything else is passed as a string.
func parseParams(args []string) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = parseParam(arg)
	}
	return out
}

func parseParam(arg string) any {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return n
	}
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	if _, isString := v.(string); isString {
		return arg
	}
	return v
}

func newQueryCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query <statement> [param...]",
		Short: "Run a read statement",
		Long: `Run a SELECT statement. Each ? placeholder takes the next param.

Example:
  quire query "SELECT * FROM articles WHERE status = ? ORDER BY created_at DESC LIMIT ?" published 10`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			rows, err := s.db.Query(cmd.Context(), args[0], parseParams(args[1:])...)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			printRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func newExecCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <statement> [param...]",
		Short: "Run an INSERT, UPDATE, or DELETE statement",
		Long: `Run a write statement. Each ? placeholder takes the next param.

Example:
  quire exec "INSERT INTO categories (name, slug) VALUES (?, ?)" News news
  quire exec "UPDATE articles SET status = ? WHERE id = ?" published 3`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			res, err := s.db.Exec(cmd.Context(), args[0], parseParams(args[1:])...)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), f.jsonMode, res)
		},
	}
}

func newImageCmd(f *rootFlags) *cobra.Command {
	var alt, caption string
	cmd := &cobra.Command{
		Use:   "image <article-id> <file-or-url>",
		Short: "Set an article's featured image",
		Long: `Set an article's featured image from a local file, which is copied into the
data directory's uploads folder, or from an http(s) URL.`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return usagef("invalid article id %q", args[0])
			}
			src, err := imageSource(args[1], alt, caption)
			if err != nil {
				return err
			}

			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			res, err := s.db.SetImage(cmd.Context(), id, src)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), f.jsonMode, res)
		},
	}
	cmd.Flags().StringVar(&alt, "alt", "", "alternative text")
	cmd.Flags().StringVar(&caption, "caption", "", "caption (uploaded files only)")
	return cmd
}

func imageSource(ref, alt, caption string) (types.ImageSource, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return types.URLImage{URL: ref, Alt: alt}, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, usageError{fmt.Errorf("read image: %w", err)}
	}
	return types.UploadedImage{
		Data:        data,
		Filename:    filepath.Base(ref),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(ref))),
		Alt:         alt,
		Caption:     caption,
	}, nil
}

func printResult(w io.Writer, jsonMode bool, res types.MutationResult) error {
	if jsonMode {
		return writeJSON(w, res)
	}
	if res.InsertID != 0 {
		fmt.Fprintf(w, "inserted id %d\n", res.InsertID)
		return nil
	}
	fmt.Fprintf(w, "%d row(s) affected\n", res.RowsAffected)
	return nil
}

// printRows renders rows as a table. Columns are the union of row keys,
// id first, the rest sorted.
func printRows(w io.Writer, rows []types.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No rows.")
		return
	}

	var cols []string
	for _, r := range rows {
		for k := range r {
			if !slices.Contains(cols, k) {
				cols = append(cols, k)
			}
		}
	}
	slices.SortFunc(cols, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "id":
			return -1
		case b == "id":
			return 1
		}
		return strings.Compare(a, b)
	})

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = cell(r[c])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	for _, line := range strings.Split(strings.TrimRight(sb.String(), "\n"), "\n") {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(w, "Total: %d row(s)\n", len(rows))
}

// maxCell is the widest table cell, in runes.
const maxCell = 40

func cell(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "-"
	case *types.FeaturedImage:
		if x == nil {
			return "-"
		}
		s = x.URL
	case []string:
		s = strings.Join(x, ",")
	case interface{ Format(string) string }:
		s = x.Format("2006-01-02 15:04:05")
	default:
		s = fmt.Sprint(x)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > maxCell {
		s = string(r[:maxCell-3]) + "..."
	}
	return s
}
