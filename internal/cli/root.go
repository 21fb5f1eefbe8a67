// Package cli implements the quire command-line interface: initialize a
// store, run statements against it, move fixtures in and out, and inspect
// the effective configuration.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/pkg/quire"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds the global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
	logFile   string
}

// usageError marks a mistake in the command line itself.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// NewRootCmd builds the quire command tree.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "quire",
		Short:         "Run CMS statements against MongoDB or SQLite",
		Long:          "Quire selects a document or relational store from its configuration and runs\nthe CMS statement dialect against it, returning rows of the same shape on both.",
		Version:       quire.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&f.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&f.dataDir, "data-dir", "", "data directory (default: $(CWD)/.quire)")
	pf.BoolVar(&f.jsonMode, "json", false, "output as JSON")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (default from config, else warn)")
	pf.StringVar(&f.logFile, "log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		newInitCmd(f),
		newQueryCmd(f),
		newExecCmd(f),
		newImageCmd(f),
		newSeedCmd(f),
		newExportCmd(f),
		newStatsCmd(f),
		newConfigCmd(f),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintf(stderr, "quire: %s\n", err)
	return exitCode(err)
}

// exitCode maps an error to exitUserError when the caller can fix it by
// changing the command, statement, or config, and exitSysError otherwise.
func exitCode(err error) int {
	var ue usageError
	switch {
	case errors.As(err, &ue),
		strings.HasPrefix(err.Error(), "unknown command"),
		errors.Is(err, types.ErrInvalidConfig),
		errors.Is(err, types.ErrClassificationMiss),
		errors.Is(err, types.ErrParameterMismatch),
		errors.Is(err, types.ErrInvalidValue),
		errors.Is(err, types.ErrInvalidStatus),
		errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrNotFound):
		return exitUserError
	}
	return exitSysError
}
