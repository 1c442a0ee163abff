// Command pipeline stages raw files into Parquet and ingests staged files
// into a fresh versioned database.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"pipeline/internal/config"
	"pipeline/internal/logging"
	"pipeline/internal/metrics"
	"pipeline/internal/metrics/datadog"

	// every backend is compiled in; DATABASE_KIND picks one.
	_ "pipeline/internal/storage/all"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}
}

// runtime is the state the Before hook prepares for every command.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func newApp(stdout, stderr io.Writer) *cli.App {
	rt := &runtime{}
	return &cli.App{
		Name:      "pipeline",
		Usage:     "Stage raw files into Parquet and ingest them into a versioned database",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load variables from this file, overriding the environment",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides LOG_LEVEL",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json); overrides LOG_FORMAT",
			},
			&cli.StringFlag{
				Name:  "metrics-backend",
				Usage: "Metrics backend (none, datadog); overrides METRICS_BACKEND",
			},
		},
		Before: rt.setup,
		After:  rt.teardown,
		Commands: []*cli.Command{
			{
				Name:   "stage",
				Usage:  "Stage every registered raw file and export a manifest",
				Action: rt.stageCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Restage every file, ignoring the previous manifest",
					},
					&cli.StringFlag{
						Name:  "previous",
						Usage: "Manifest to compare against (defaults to the newest in MANIFEST_DIR)",
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Ingest a manifest's staged files into a new database",
				Action: rt.ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "manifest",
						Aliases: []string{"m"},
						Usage:   "Manifest to ingest (defaults to the newest in MANIFEST_DIR)",
					},
				},
			},
			{
				Name:   "run",
				Usage:  "Stage, then ingest the manifest just exported",
				Action: rt.runCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Restage every file, ignoring the previous manifest",
					},
				},
			},
			{
				Name:   "tables",
				Usage:  "List the tables of an ingested database",
				Action: rt.tablesCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Aliases:  []string{"d"},
						Usage:    "Database location printed by ingest",
						Required: true,
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Run a SQL query against an ingested database",
				ArgsUsage: "SQL",
				Action:    rt.queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Aliases:  []string{"d"},
						Usage:    "Database location printed by ingest",
						Required: true,
					},
				},
			},
		},
	}
}

func (rt *runtime) setup(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.IsSet("metrics-backend") {
		cfg.Metrics.Backend = c.String("metrics-backend")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt.cfg = cfg
	rt.logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format, c.App.ErrWriter)
	rt.logger.Debug("configuration loaded", "config", cfg.String())

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	switch strings.ToLower(cfg.Metrics.Backend) {
	case "datadog":
		b, err := datadog.NewBackend(c.Context, datadog.Options{
			JobName: cfg.Metrics.Job,
			Tags:    cfg.Metrics.Tags,
		})
		if err != nil {
			rt.logger.Warn("metrics: datadog backend unavailable; using nop", "err", err)
			return nil
		}
		metrics.SetBackend(b)
		rt.closer = b
		rt.logger.Info("metrics: backend enabled", "backend", "datadog", "job", cfg.Metrics.Job)
	}
	return nil
}

func (rt *runtime) teardown(*cli.Context) error {
	if rt.closer == nil {
		return nil
	}
	if err := rt.closer.Close(); err != nil {
		rt.logger.Warn("metrics: final flush failed", "err", err)
	}
	metrics.SetBackend(nil)
	rt.closer = nil
	return nil
}
