package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/quire/internal/logging"
	"github.com/mesh-intelligence/quire/internal/paths"
	"github.com/mesh-intelligence/quire/pkg/quire"
	"github.com/mesh-intelligence/quire/pkg/types"
)

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "QUIRE"

	defaultLogLevel  = "warn"
	defaultLogFormat = logging.FormatConsole
)

// defaultConfigYAML is written by init when no config.yaml exists.
const defaultConfigYAML = `# quire configuration

# auto tries MongoDB first and falls back to SQLite.
# document and relational use only that engine.
backend: auto
select_timeout: 3s

mongo:
  uri: ""
  database: quire
  max_pool_size: 10

sqlite:
  # Defaults to <data_dir>/quire.db.
  path: ""
  busy_timeout: 5s

# counter or legacy
id_strategy: counter
# decoded or encoded
json_fields: decoded
strict_statements: false

log:
  level: warn
  format: console

# data_dir:
`

// logSettings configures the CLI logger.
type logSettings struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// settings is the full content of config.yaml.
type settings struct {
	types.Config `yaml:",inline" mapstructure:",squash"`
	DataDir      string      `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Log          logSettings `json:"log" yaml:"log" mapstructure:"log"`
}

// env is the resolved runtime environment of one command.
type env struct {
	configDir string
	dataDir   string
	settings  settings
}

// loadEnv resolves the directories and reads config.yaml. Environment
// variables prefixed with QUIRE_ override file values; a missing file is
// not an error.
func loadEnv(f *rootFlags) (*env, error) {
	configDir, err := paths.ResolveConfigDir(f.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}

	v := viper.New()
	v.SetDefault("backend", types.BackendAuto)
	v.SetDefault("select_timeout", types.DefaultSelectTimeout)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", types.DefaultDatabase)
	v.SetDefault("mongo.max_pool_size", types.DefaultMaxPoolSize)
	v.SetDefault("sqlite.path", "")
	v.SetDefault("sqlite.busy_timeout", types.DefaultBusyTimeout)
	v.SetDefault("id_strategy", types.IDStrategyCounter)
	v.SetDefault("json_fields", types.JSONDecoded)
	v.SetDefault("strict_statements", false)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("data_dir", "")

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if !errors.As(err, &missing) {
			return nil, usageError{fmt.Errorf("read config: %w", err)}
		}
	}

	e := &env{configDir: configDir}
	if err := v.Unmarshal(&e.settings); err != nil {
		return nil, usageError{fmt.Errorf("decode config: %w", err)}
	}
	if err := e.settings.Validate(); err != nil {
		return nil, err
	}

	e.dataDir, err = paths.ResolveDataDir(f.dataDir, e.settings.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	e.settings.DataDir = e.dataDir
	if e.settings.SQLite.Path == "" {
		e.settings.SQLite.Path = paths.DatabaseFile(e.dataDir)
	}
	if f.logLevel != "" {
		e.settings.Log.Level = f.logLevel
	}
	return e, nil
}

// session is an open database plus the logger it writes to.
type session struct {
	*env
	db  *quire.DB
	log *logging.Log
}

func (s *session) Close(ctx context.Context) error {
	err := s.db.Close(ctx)
	if lerr := s.log.Close(); err == nil {
		err = lerr
	}
	return err
}

// open loads the environment and opens the configured backend.
func open(ctx context.Context, f *rootFlags, opts ...quire.Option) (*session, error) {
	e, err := loadEnv(f)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	b := logging.New().Level(e.settings.Log.Level).Format(e.settings.Log.Format)
	if f.logFile != "" {
		b = b.FromPath(f.logFile)
	}
	log, err := b.Make()
	if err != nil {
		return nil, usageError{err}
	}

	opts = append([]quire.Option{
		quire.WithLogger(log.Logger),
		quire.WithImageStore(quire.DirImageStore{Dir: paths.UploadsDir(e.dataDir)}),
	}, opts...)
	db, err := quire.Open(ctx, e.settings.Config, opts...)
	if err != nil {
		log.Close()
		return nil, err
	}
	return &session{env: e, db: db, log: log}, nil
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after applying config.yaml, QUIRE_* environment\nvariables, and command-line flags.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.jsonMode {
				return writeJSON(out, e.settings)
			}
			fmt.Fprintf(out, "# %s\n", paths.ConfigFile(e.configDir))
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(e.settings); err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			return enc.Close()
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
