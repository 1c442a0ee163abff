package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pipeline/internal/logging"
	"pipeline/internal/manifest"
	"pipeline/internal/metrics"
	"pipeline/internal/storage"
)

// IngestStatus is the per-record ingestion result.
type IngestStatus string

const (
	StatusIngested IngestStatus = "ingested"
	StatusSkipped  IngestStatus = "skipped"
	StatusFailed   IngestStatus = "failed"
)

// Skip reasons.
var (
	ErrNotStaged     = errors.New("file was not successfully staged")
	ErrNoStagedFile  = errors.New("staged file not recorded")
	ErrTableNotFound = errors.New("no staging table found")
)

// IngestOutcome reports what happened to one manifest record.
type IngestOutcome struct {
	RecordID string
	Table    string
	Status   IngestStatus
	Rows     int64
	Err      error
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	// Database is the location of the versioned database created for the run.
	Database string

	Attempted int
	Succeeded int
	Outcomes  []IngestOutcome
}

// Ingester loads a manifest's staged files into a new versioned database.
type Ingester struct {
	// Storage names the backend and base location; each run creates a new
	// database whose location carries the run timestamp.
	Storage storage.Config

	Logger *slog.Logger
	Now    func() time.Time
}

// Run reads manifestPath, creates a versioned database, applies schemaPath
// and appends each successfully staged file to the table named after its
// raw file. Records that were not staged, or whose table the schema does not
// define, are skipped. Per-record load errors do not stop the run.
func (in *Ingester) Run(ctx context.Context, manifestPath, schemaPath string) (IngestResult, error) {
	log := in.logger()

	m, err := manifest.Read(manifestPath)
	if err != nil {
		log.Error("failed to read manifest", "path", manifestPath, "err", err)
		return IngestResult{}, fmt.Errorf("pipeline: %w", err)
	}
	log.Info("ingestion started", "manifest", manifestPath, "manifest_id", m.ID, "records", len(m.Records))

	db, err := storage.CreateVersioned(ctx, in.Storage, in.now())
	if err != nil {
		log.Error("failed to create the database", "location", in.Storage.Location, "err", err)
		return IngestResult{}, fmt.Errorf("pipeline: create database: %w", err)
	}
	res := IngestResult{Database: db.Location()}

	if err := db.ExecScript(ctx, schemaPath); err != nil {
		log.Error("failed to apply schema", "database", db.Location(), "schema", schemaPath, "err", err)
		return res, fmt.Errorf("pipeline: apply schema: %w", err)
	}
	log.Info("created database", "database", db.Location(), "schema", schemaPath)

	for _, rec := range m.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := in.ingest(ctx, db, rec)
		res.Outcomes = append(res.Outcomes, out)
		res.Attempted++
		if out.Status == StatusIngested {
			res.Succeeded++
		}
	}

	log.Info("ingestion completed",
		"succeeded", res.Succeeded,
		"attempted", res.Attempted,
		"database", res.Database,
		"summary", fmt.Sprintf("%d/%d successfully ingested", res.Succeeded, res.Attempted),
	)
	return res, nil
}

func (in *Ingester) ingest(ctx context.Context, db storage.Database, rec manifest.Record) IngestOutcome {
	start := time.Now()
	table := rec.Table()
	out := IngestOutcome{RecordID: rec.ID, Table: table}
	log := in.logger().With("record_id", rec.ID, "file", rec.File, "table", table)

	finish := func(status IngestStatus, err error) IngestOutcome {
		out.Status, out.Err = status, err
		metrics.RecordFile(metrics.PhaseIngest, string(status), time.Since(start))
		return out
	}

	sc, ok := rec.Success()
	if !ok {
		log.Warn("skipped file ingestion", "reason", ErrNotStaged)
		return finish(StatusSkipped, ErrNotStaged)
	}
	if sc.StagedFile == "" {
		log.Warn("skipped file ingestion", "reason", ErrNoStagedFile)
		return finish(StatusSkipped, ErrNoStagedFile)
	}

	exists, err := storage.HasTable(ctx, db, table)
	if err != nil {
		log.Error("failed to ingest file", "err", err)
		return finish(StatusFailed, err)
	}
	if !exists {
		log.Error("failed to ingest file", "reason", ErrTableNotFound)
		return finish(StatusSkipped, ErrTableNotFound)
	}

	n, err := db.LoadParquet(ctx, sc.StagedFile, table)
	if err != nil {
		log.Error("failed to ingest file", "staged_file", sc.StagedFile, "err", err)
		return finish(StatusFailed, err)
	}

	out.Rows = n
	metrics.AddRows(table, n)
	log.Info("file ingested", "staged_file", sc.StagedFile, "rows", n)
	return finish(StatusIngested, nil)
}

func (in *Ingester) logger() *slog.Logger {
	if in.Logger == nil {
		return logging.Discard()
	}
	return in.Logger
}

func (in *Ingester) now() time.Time {
	if in.Now == nil {
		return time.Now()
	}
	return in.Now()
}
