package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"pipeline/internal/manifest"
	"pipeline/internal/pipeline"
	"pipeline/internal/registry"
	"pipeline/internal/storage"
	"pipeline/internal/tabular"
	"pipeline/internal/transforms"
)

func (rt *runtime) stageCommand(c *cli.Context) error {
	res, err := rt.stage(c.Context, c.Bool("full"), c.String("previous"))
	fmt.Fprintln(c.App.Writer, res.ManifestPath)
	return err
}

func (rt *runtime) ingestCommand(c *cli.Context) error {
	path := c.String("manifest")
	if path == "" {
		latest, err := manifest.Latest(rt.cfg.Paths.Manifest)
		if err != nil {
			return err
		}
		path = latest
	}

	res, err := rt.ingest(c.Context, path)
	if res.Database != "" {
		fmt.Fprintln(c.App.Writer, res.Database)
	}
	return err
}

func (rt *runtime) runCommand(c *cli.Context) error {
	staged, err := rt.stage(c.Context, c.Bool("full"), "")
	if err != nil {
		fmt.Fprintln(c.App.Writer, staged.ManifestPath)
		return err
	}

	res, err := rt.ingest(c.Context, staged.ManifestPath)
	if res.Database != "" {
		fmt.Fprintln(c.App.Writer, res.Database)
	}
	return err
}

func (rt *runtime) tablesCommand(c *cli.Context) error {
	db, err := storage.Open(c.Context, rt.storageConfig(c.String("db")))
	if err != nil {
		return err
	}
	tables, err := db.Tables(c.Context)
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Fprintln(c.App.Writer, t)
	}
	return nil
}

func (rt *runtime) queryCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("query: SQL argument is required")
	}

	db, err := storage.Open(c.Context, rt.storageConfig(c.String("db")))
	if err != nil {
		return err
	}
	frame, err := db.Query(c.Context, query)
	if err != nil {
		return err
	}
	return printFrame(c.App.Writer, frame)
}

func (rt *runtime) stage(ctx context.Context, full bool, previousPath string) (pipeline.StageResult, error) {
	reg := registry.New()
	defs := transforms.Definitions(transforms.Options{CSVEncoding: rt.cfg.Staging.Encoding})
	if _, err := registry.Populate(reg, defs, rt.logger); err != nil {
		// Failed definitions are skipped; the rest still run.
		rt.logger.Warn("some transforms were not registered", "err", err)
	}

	previous, err := rt.previousManifest(full, previousPath)
	if err != nil {
		return pipeline.StageResult{ManifestPath: pipeline.NoManifestExported}, err
	}

	st := &pipeline.Stager{
		Registry:    reg,
		RawDir:      rt.cfg.Paths.Raw,
		StagedDir:   rt.cfg.Paths.Staged,
		ManifestDir: rt.cfg.Paths.Manifest,
		Logger:      rt.logger,
	}
	return st.Run(ctx, previous)
}

// previousManifest picks the manifest an incremental run compares against.
// An explicit path must be readable; the newest manifest is optional.
func (rt *runtime) previousManifest(full bool, path string) (*manifest.Manifest, error) {
	if full {
		return nil, nil
	}
	if path != "" {
		return manifest.Read(path)
	}

	latest, err := manifest.Latest(rt.cfg.Paths.Manifest)
	if errors.Is(err, manifest.ErrNoManifest) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := manifest.Read(latest)
	if err != nil {
		rt.logger.Warn("previous manifest unreadable; staging every file", "path", latest, "err", err)
		return nil, nil
	}
	rt.logger.Info("comparing against previous manifest", "path", latest, "manifest_id", m.ID)
	return m, nil
}

func (rt *runtime) ingest(ctx context.Context, manifestPath string) (pipeline.IngestResult, error) {
	in := &pipeline.Ingester{
		Storage: rt.storageConfig(rt.cfg.Database.Location),
		Logger:  rt.logger,
	}
	return in.Run(ctx, manifestPath, rt.cfg.Paths.Schema)
}

func (rt *runtime) storageConfig(location string) storage.Config {
	return storage.Config{
		Kind:     rt.cfg.Database.Kind,
		Location: location,
		DSN:      rt.cfg.Database.DSN,
	}
}

func printFrame(w io.Writer, f *tabular.Frame) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(f.Names(), "\t"))
	cells := make([]string, len(f.Columns))
	for _, row := range f.Rows {
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", f.Len())
	return err
}
