package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/paths"
)

func newInitCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file and initialize storage",
		Long:  "Create the configuration directory and a default config.yaml if missing,\nthen connect to the configured backend so its schema and indexes exist.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, err := paths.ResolveConfigDir(f.configDir)
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			created, err := writeConfigIfMissing(paths.ConfigFile(configDir))
			if err != nil {
				return err
			}

			s, err := open(cmd.Context(), f)
			if err != nil {
				return err
			}
			engine := s.db.Engine(cmd.Context())
			if err := s.Close(cmd.Context()); err != nil {
				return fmt.Errorf("close storage: %w", err)
			}

			out := cmd.OutOrStdout()
			if f.jsonMode {
				return writeJSON(out, map[string]any{
					"config_dir":     configDir,
					"config_created": created,
					"data_dir":       s.dataDir,
					"engine":         engine,
				})
			}
			if created {
				fmt.Fprintf(out, "wrote %s\n", paths.ConfigFile(configDir))
			}
			fmt.Fprintf(out, "quire initialized (%s, data in %s)\n", engine, s.dataDir)
			return nil
		},
	}
}

// writeConfigIfMissing writes the default config.yaml and reports whether
// it did. An existing file is left alone.
func writeConfigIfMissing(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}
