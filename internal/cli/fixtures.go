package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/fixtures"
)

func newSeedCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <dir>",
		Short: "Load categories, users, and articles from JSONL files",
		Long: `Load categories.jsonl, users.jsonl, and articles.jsonl from dir, in that order.
Missing files are skipped. Records that are malformed, incomplete, or collide
with existing rows are counted and skipped.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			reports, err := fixtures.Seed(cmd.Context(), s.db, args[0])
			if err != nil {
				return err
			}
			return printReports(cmd.OutOrStdout(), f.jsonMode, "LOADED", reports)
		},
	}
}

func newExportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every table to JSONL files",
		Long:  "Write categories.jsonl, users.jsonl, and articles.jsonl to dir. Existing files\nare replaced atomically. The files can be loaded back with seed on either engine.",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			reports, err := fixtures.Export(cmd.Context(), s.db, args[0])
			if err != nil {
				return err
			}
			return printReports(cmd.OutOrStdout(), f.jsonMode, "EXPORTED", reports)
		},
	}
}

func printReports(w io.Writer, jsonMode bool, verb string, reports []fixtures.Report) error {
	if jsonMode {
		return writeJSON(w, reports)
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TABLE\t%s\tSKIPPED\tMALFORMED\n", verb)
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", r.Table, r.Rows, r.Skipped, r.Malformed)
	}
	tw.Flush()
	_, err := io.WriteString(w, sb.String())
	return err
}
