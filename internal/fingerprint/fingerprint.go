// Package fingerprint computes content digests used to decide whether a file
// changed between staging runs.
//
// Digests are only compared for equality; they are not a security boundary.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// BlockSize is the read size used while hashing.
const BlockSize = 8192

// Digest is a lowercase hex sha256 of a file's content.
type Digest string

// None is returned when no fingerprint is available (the file does not exist).
// It never equals a real digest.
const None Digest = ""

// ErrNoFingerprint is returned by File when the path does not exist.
// It also matches fs.ErrNotExist.
var ErrNoFingerprint = errors.New("fingerprint: no fingerprint available")

// IsNone reports whether d is the None sentinel.
func (d Digest) IsNone() bool { return d == None }

func (d Digest) String() string {
	if d == None {
		return "<none>"
	}
	return string(d)
}

// File hashes the file at path in BlockSize chunks.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return None, &missingError{path: path, err: err}
		}
		return None, fmt.Errorf("fingerprint: open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader hashes everything readable from r.
func Reader(r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return None, fmt.Errorf("fingerprint: read: %w", err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Current is the comparison helper used by staging: a missing file yields
// (None, nil) so callers can compare it against a recorded digest directly.
func Current(path string) (Digest, error) {
	d, err := File(path)
	if errors.Is(err, ErrNoFingerprint) {
		return None, nil
	}
	return d, err
}

// Matches reports whether a current digest equals a recorded one.
// None never matches, not even another None.
func Matches(current, recorded Digest) bool {
	if current.IsNone() || recorded.IsNone() {
		return false
	}
	return current == recorded
}

type missingError struct {
	path string
	err  error
}

func (e *missingError) Error() string {
	return fmt.Sprintf("fingerprint: %s: file does not exist", e.path)
}

func (e *missingError) Is(target error) bool {
	return target == ErrNoFingerprint || target == fs.ErrNotExist
}

func (e *missingError) Unwrap() error { return e.err }
