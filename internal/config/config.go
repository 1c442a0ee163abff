// Package config loads pipeline settings from the environment. Every field
// maps to one variable; a .env file, when present, is applied by the CLI
// before loading.
package config

// Config holds all pipeline configuration.
type Config struct {
	Paths    PathsConfig
	Database DatabaseConfig
	Staging  StagingConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// PathsConfig locates the pipeline's working directories and files.
type PathsConfig struct {
	// Raw is the directory holding source files, one per registered transform.
	Raw string `env:"RAW_DIR" required:"true"`

	// Staged receives one Parquet file per successfully staged raw file.
	Staged string `env:"STAGED_DIR" required:"true"`

	// Manifest receives one JSON manifest per staging run.
	Manifest string `env:"MANIFEST_DIR" required:"true"`

	// Schema is the SQL script applied to every freshly created database.
	Schema string `env:"SCHEMA_PATH" required:"true"`
}

// DatabaseConfig selects the ingestion target.
type DatabaseConfig struct {
	// Kind is the storage backend: sqlite, postgres or mssql.
	Kind string `env:"DATABASE_KIND" default:"sqlite"`

	// Location is the base file path (sqlite) or database name (servers).
	// Each ingestion appends a timestamp to it.
	Location string `env:"DATABASE_PATH" required:"true"`

	// DSN is the server connection string for postgres and mssql.
	DSN string `env:"DATABASE_DSN"`
}

// StagingConfig tunes the shipped transforms.
type StagingConfig struct {
	Encoding string `env:"CSV_ENCODING" default:"utf-8"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

type MetricsConfig struct {
	// Backend is "none" or "datadog".
	Backend string `env:"METRICS_BACKEND" default:"none"`

	// Tags are extra "k:v" tags attached to every series.
	Tags []string `env:"METRICS_TAGS"`

	Job string `env:"METRICS_JOB" default:"pipeline"`
}
