package types

import (
	"errors"
	"fmt"
	"time"
)

// Config holds backend selection and engine parameters.
type Config struct {
	// Backend is the selection mode: BackendAuto, BackendDocument, or
	// BackendRelational.
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// SelectTimeout bounds the document-store connection attempt in auto
	// mode. Zero means DefaultSelectTimeout.
	SelectTimeout time.Duration `json:"select_timeout" yaml:"select_timeout" mapstructure:"select_timeout"`

	SQLite SQLiteConfig `json:"sqlite" yaml:"sqlite" mapstructure:"sqlite"`
	Mongo  MongoConfig  `json:"mongo" yaml:"mongo" mapstructure:"mongo"`

	// IDStrategy picks how the document backend allocates integer ids:
	// IDStrategyCounter or IDStrategyLegacy.
	IDStrategy string `json:"id_strategy" yaml:"id_strategy" mapstructure:"id_strategy"`

	// StrictStatements makes unrecognized SELECT statements fail instead of
	// returning an empty result.
	StrictStatements bool `json:"strict_statements" yaml:"strict_statements" mapstructure:"strict_statements"`

	// JSONFields chooses how featured_image and tags appear in rows:
	// JSONDecoded or JSONEncoded.
	JSONFields string `json:"json_fields" yaml:"json_fields" mapstructure:"json_fields"`
}

// SQLiteConfig configures the embedded relational store.
type SQLiteConfig struct {
	Path        string        `json:"path" yaml:"path" mapstructure:"path"`
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout" mapstructure:"busy_timeout"`
}

// MongoConfig configures the networked document store.
type MongoConfig struct {
	URI         string `json:"uri" yaml:"uri" mapstructure:"uri"`
	Database    string `json:"database" yaml:"database" mapstructure:"database"`
	MaxPoolSize uint64 `json:"max_pool_size" yaml:"max_pool_size" mapstructure:"max_pool_size"`
}

// Backend selection modes.
const (
	BackendAuto       = "auto"
	BackendDocument   = "document"
	BackendRelational = "relational"
)

// Backend engine names reported by a live handle.
const (
	EngineSQLite  = "sqlite"
	EngineMongoDB = "mongodb"
)

// ID allocation strategies for the document backend.
const (
	IDStrategyCounter = "counter"
	IDStrategyLegacy  = "legacy"
)

// JSON field rendering modes.
const (
	JSONDecoded = "decoded"
	JSONEncoded = "encoded"
)

// Defaults applied by the getters.
const (
	DefaultSelectTimeout = 3 * time.Second
	DefaultBusyTimeout   = 5 * time.Second
	DefaultMaxPoolSize   = 10
	DefaultDatabase      = "quire"
	DefaultSQLiteFile    = "quire.db"
)

// ErrInvalidConfig is wrapped by every config validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config validation errors.
var (
	ErrBackendUnknown     = fmt.Errorf("%w: unknown backend mode", ErrInvalidConfig)
	ErrIDStrategyUnknown  = fmt.Errorf("%w: unknown id strategy", ErrInvalidConfig)
	ErrJSONFieldsUnknown  = fmt.Errorf("%w: unknown json_fields mode", ErrInvalidConfig)
	ErrMongoURIEmpty      = fmt.Errorf("%w: document backend requires mongo.uri", ErrInvalidConfig)
	ErrSelectTimeoutRange = fmt.Errorf("%w: select timeout must not be negative", ErrInvalidConfig)
)

var knownBackends = map[string]bool{
	"":                true,
	BackendAuto:       true,
	BackendDocument:   true,
	BackendRelational: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendDocument && c.Mongo.URI == "" {
		return ErrMongoURIEmpty
	}
	if c.SelectTimeout < 0 {
		return ErrSelectTimeoutRange
	}
	switch c.IDStrategy {
	case "", IDStrategyCounter, IDStrategyLegacy:
	default:
		return ErrIDStrategyUnknown
	}
	switch c.JSONFields {
	case "", JSONDecoded, JSONEncoded:
	default:
		return ErrJSONFieldsUnknown
	}
	return nil
}

// GetBackend returns the selection mode, defaulting to BackendAuto.
func (c Config) GetBackend() string {
	if c.Backend == "" {
		return BackendAuto
	}
	return c.Backend
}

// GetSelectTimeout returns the selection timeout, defaulting to
// DefaultSelectTimeout.
func (c Config) GetSelectTimeout() time.Duration {
	if c.SelectTimeout <= 0 {
		return DefaultSelectTimeout
	}
	return c.SelectTimeout
}

// GetIDStrategy returns the id strategy, defaulting to IDStrategyCounter.
func (c Config) GetIDStrategy() string {
	if c.IDStrategy == "" {
		return IDStrategyCounter
	}
	return c.IDStrategy
}

// GetJSONFields returns the JSON field mode, defaulting to JSONDecoded.
func (c Config) GetJSONFields() string {
	if c.JSONFields == "" {
		return JSONDecoded
	}
	return c.JSONFields
}

// GetBusyTimeout returns the SQLite busy timeout.
func (c SQLiteConfig) GetBusyTimeout() time.Duration {
	if c.BusyTimeout <= 0 {
		return DefaultBusyTimeout
	}
	return c.BusyTimeout
}

// GetDatabase returns the MongoDB database name.
func (c MongoConfig) GetDatabase() string {
	if c.Database == "" {
		return DefaultDatabase
	}
	return c.Database
}

// GetMaxPoolSize returns the driver pool bound.
func (c MongoConfig) GetMaxPoolSize() uint64 {
	if c.MaxPoolSize == 0 {
		return DefaultMaxPoolSize
	}
	return c.MaxPoolSize
}
