// Package pipeline runs the two phases: staging raw files into Parquet with
// a manifest, and ingesting a manifest into a fresh versioned database.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"pipeline/internal/fingerprint"
	"pipeline/internal/logging"
	"pipeline/internal/manifest"
	"pipeline/internal/metrics"
	"pipeline/internal/registry"
	"pipeline/internal/tabular"
)

// Sentinels reported in place of an artifact path.
const (
	NoManifestExported = "NO MANIFEST EXPORTED"
	NoStagingFunctions = "NO STAGING FUNCTIONS REGISTERED"
)

// ErrNoTransforms is returned by Stager.Run when the registry is empty.
var ErrNoTransforms = errors.New("pipeline: no staging functions registered")

// StagedExt is the extension of staged files.
const StagedExt = ".parquet"

// Stager stages every registered raw file.
type Stager struct {
	Registry    *registry.Registry
	RawDir      string
	StagedDir   string
	ManifestDir string

	Logger *slog.Logger
	Now    func() time.Time
}

// StageResult summarizes one staging run. ManifestPath holds a sentinel
// when no manifest was written.
type StageResult struct {
	ManifestPath string
	Manifest     *manifest.Manifest
	Records      []manifest.Record

	Attempted int
	Succeeded int
	Unchanged int
}

// Run stages each registry entry in registration order and exports a new
// manifest. Files whose raw and staged fingerprints match a successful
// record in previous are carried forward without re-running the transform.
// previous may be nil.
//
// Per-file failures become failure records. An export failure returns the
// populated result together with the error.
func (s *Stager) Run(ctx context.Context, previous *manifest.Manifest) (StageResult, error) {
	log := s.logger()

	if s.Registry == nil || s.Registry.Len() == 0 {
		log.Warn("early exit: no staging functions registered")
		return StageResult{ManifestPath: NoStagingFunctions}, ErrNoTransforms
	}
	if err := os.MkdirAll(s.StagedDir, 0o755); err != nil {
		return StageResult{ManifestPath: NoManifestExported}, fmt.Errorf("pipeline: staged dir: %w", err)
	}

	log.Info("staging started", "files", s.Registry.Len(), "incremental", previous != nil)

	prev := previous.ByKey()
	res := StageResult{}
	for _, e := range s.Registry.Entries() {
		if err := ctx.Err(); err != nil {
			return StageResult{ManifestPath: NoManifestExported}, err
		}

		rec, unchanged := s.stage(ctx, e, prev)
		res.Records = append(res.Records, rec)
		res.Attempted++
		if rec.Successful() {
			res.Succeeded++
		}
		if unchanged {
			res.Unchanged++
		}
	}

	log.Info("staging completed",
		"succeeded", res.Succeeded,
		"attempted", res.Attempted,
		"unchanged", res.Unchanged,
		"summary", fmt.Sprintf("%d/%d successfully staged", res.Succeeded, res.Attempted),
	)

	path, m, err := manifest.Export(s.ManifestDir, res.Records, s.now())
	if err != nil {
		log.Error("failed to export manifest", "dir", s.ManifestDir, "err", err)
		res.ManifestPath = NoManifestExported
		return res, fmt.Errorf("pipeline: export manifest: %w", err)
	}
	res.ManifestPath = path
	res.Manifest = m
	log.Info("manifest exported", "path", path, "manifest_id", m.ID)
	return res, nil
}

// stage produces the record for one entry and reports whether it was
// carried forward unchanged.
func (s *Stager) stage(ctx context.Context, e registry.Entry, prev map[string]manifest.Record) (manifest.Record, bool) {
	log := s.logger().With("file", e.Key, "module", e.Module)
	start := time.Now()

	rawPath := filepath.Join(s.RawDir, e.Key)
	stagedPath := filepath.Join(s.StagedDir, registry.Stem(e.Key)+StagedExt)

	fail := func(msg string) manifest.Record {
		log.Error("failed to stage file", "err", msg)
		metrics.RecordFile(metrics.PhaseStage, "failed", time.Since(start))
		return manifest.NewFailure(rawPath, e.Module, msg, s.now())
	}

	rawHash, err := fingerprint.File(rawPath)
	if err != nil {
		if errors.Is(err, fingerprint.ErrNoFingerprint) {
			return fail("raw file not found"), false
		}
		return fail(err.Error()), false
	}

	stagedHash, err := fingerprint.Current(stagedPath)
	if err != nil {
		log.Warn("staged file unreadable; restaging", "staged_file", stagedPath, "err", err)
		stagedHash = fingerprint.None
	}

	if old, ok := prev[e.Key]; ok {
		if sc, ok := old.Success(); ok &&
			fingerprint.Matches(rawHash, sc.FileHash) &&
			fingerprint.Matches(stagedHash, sc.StagedFileHash) {
			log.Info("file unchanged; skipped", "record_id", old.ID)
			metrics.RecordFile(metrics.PhaseStage, "unchanged", time.Since(start))
			return old, true
		}
	}

	frame, err := e.Transform(ctx, rawPath)
	if err != nil {
		return fail(err.Error()), false
	}
	if frame == nil {
		return fail("transform returned no data"), false
	}
	if err := tabular.WriteParquet(stagedPath, frame); err != nil {
		return fail(err.Error()), false
	}

	newHash, err := fingerprint.File(stagedPath)
	if err != nil {
		return fail(err.Error()), false
	}

	var size uint64
	if st, err := os.Stat(stagedPath); err == nil {
		size = uint64(st.Size())
	}
	log.Info("file staged",
		"staged_file", stagedPath,
		"rows", frame.Len(),
		"size", humanize.Bytes(size),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	metrics.RecordFile(metrics.PhaseStage, "success", time.Since(start))

	return manifest.NewSuccess(rawPath, e.Module, manifest.Success{
		FileHash:       rawHash,
		StagedFile:     stagedPath,
		StagedFileHash: newHash,
	}, s.now()), false
}

func (s *Stager) logger() *slog.Logger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger
}

func (s *Stager) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
