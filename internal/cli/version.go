package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/pkg/quire"
)

const modulePath = "github.com/mesh-intelligence/quire"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quire version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "quire v%s\nmodule: %s\n", quire.Version, modulePath)
			return nil
		},
	}
}
