// Package manifest records the outcome of each staging attempt and persists
// the collection as an auditable JSON file that drives ingestion.
package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"pipeline/internal/fingerprint"
)

// ErrMixedOutcome is returned when decoding a record that carries both
// success and failure fields.
var ErrMixedOutcome = errors.New("manifest: record mixes success and failure fields")

// Outcome is either Success or Failure.
type Outcome interface {
	successful() bool
}

// Success holds the fields only present on a successfully staged record.
type Success struct {
	FileHash       fingerprint.Digest
	StagedFile     string
	StagedFileHash fingerprint.Digest
}

func (Success) successful() bool { return true }

// Failure holds the error text of a failed staging attempt.
type Failure struct {
	Message string
}

func (Failure) successful() bool { return false }

// Record is one file's staging outcome.
type Record struct {
	ID            string
	File          string
	StagingModule string
	ProcessedAt   time.Time
	Outcome       Outcome
}

// NewSuccess builds a successful record with a fresh id.
func NewSuccess(file, module string, s Success, now time.Time) Record {
	return Record{
		ID:            newID(),
		File:          file,
		StagingModule: module,
		ProcessedAt:   now.UTC(),
		Outcome:       s,
	}
}

// NewFailure builds a failed record with a fresh id.
func NewFailure(file, module, message string, now time.Time) Record {
	return Record{
		ID:            newID(),
		File:          file,
		StagingModule: module,
		ProcessedAt:   now.UTC(),
		Outcome:       Failure{Message: message},
	}
}

// Successful reports whether the record describes a staged file.
func (r Record) Successful() bool {
	return r.Outcome != nil && r.Outcome.successful()
}

// Success returns the success fields, if any.
func (r Record) Success() (Success, bool) {
	s, ok := r.Outcome.(Success)
	return s, ok
}

// Failure returns the failure fields, if any.
func (r Record) Failure() (Failure, bool) {
	f, ok := r.Outcome.(Failure)
	return f, ok
}

// Key is the logical file name the record belongs to (the raw file's base name).
func (r Record) Key() string {
	return filepath.Base(r.File)
}

// Table is the database table the record loads into: the raw file's base
// name without extension.
func (r Record) Table() string {
	base := filepath.Base(r.File)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// recordJSON is the wire shape. Optional fields are omitted, never null.
type recordJSON struct {
	RecordID       string  `json:"record_id"`
	ProcessedAt    string  `json:"processed_at"`
	Successful     bool    `json:"successful"`
	File           string  `json:"file"`
	StagingModule  string  `json:"staging_module"`
	FileHash       *string `json:"file_hash,omitempty"`
	StagedFile     *string `json:"staged_file,omitempty"`
	StagedFileHash *string `json:"staged_file_hash,omitempty"`
	Error          *string `json:"error,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		RecordID:      r.ID,
		ProcessedAt:   r.ProcessedAt.UTC().Format(time.RFC3339Nano),
		File:          r.File,
		StagingModule: r.StagingModule,
	}

	switch o := r.Outcome.(type) {
	case Success:
		out.Successful = true
		fh, sf, sfh := string(o.FileHash), o.StagedFile, string(o.StagedFileHash)
		out.FileHash, out.StagedFile, out.StagedFileHash = &fh, &sf, &sfh
	case Failure:
		msg := o.Message
		out.Error = &msg
	case nil:
		return nil, fmt.Errorf("manifest: record %s has no outcome", r.ID)
	default:
		return nil, fmt.Errorf("manifest: record %s has unknown outcome %T", r.ID, o)
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var in recordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	at, err := parseTime(in.ProcessedAt)
	if err != nil {
		return fmt.Errorf("manifest: record %s processed_at: %w", in.RecordID, err)
	}

	rec := Record{
		ID:            in.RecordID,
		File:          in.File,
		StagingModule: in.StagingModule,
		ProcessedAt:   at,
	}

	hasSuccessFields := in.FileHash != nil || in.StagedFile != nil || in.StagedFileHash != nil
	if in.Successful {
		if in.Error != nil {
			return fmt.Errorf("%w: record %s", ErrMixedOutcome, in.RecordID)
		}
		rec.Outcome = Success{
			FileHash:       fingerprint.Digest(deref(in.FileHash)),
			StagedFile:     deref(in.StagedFile),
			StagedFileHash: fingerprint.Digest(deref(in.StagedFileHash)),
		}
	} else {
		if hasSuccessFields {
			return fmt.Errorf("%w: record %s", ErrMixedOutcome, in.RecordID)
		}
		rec.Outcome = Failure{Message: deref(in.Error)}
	}

	*r = rec
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseTime accepts RFC3339 timestamps and the naive ISO form older
// manifests were written with (interpreted as UTC).
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

// newID returns a 32-char hex id.
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
