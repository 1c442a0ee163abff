package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestFile_KnownDigest(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "a.csv", "x\n1\n")
	got, err := File(p)
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	sum := sha256.Sum256([]byte("x\n1\n"))
	want := Digest(hex.EncodeToString(sum[:]))
	if got != want {
		t.Fatalf("File()=%s, want %s", got, want)
	}
}

func TestFile_SpansMultipleBlocks(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("abcdefgh", BlockSize/4+3)
	p := writeFile(t, t.TempDir(), "big.csv", content)

	got, err := File(p)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	if string(got) != hex.EncodeToString(sum[:]) {
		t.Fatalf("digest mismatch for multi-block input")
	}
}

func TestFile_ChangesWithContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "a.csv", "x\n1\n")
	before, err := File(p)
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	writeFile(t, dir, "a.csv", "x\n2\n")
	after, err := File(p)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if before == after {
		t.Fatalf("expected digest to change after content change")
	}
}

func TestFile_MissingReturnsSentinel(t *testing.T) {
	t.Parallel()

	d, err := File(filepath.Join(t.TempDir(), "nope.csv"))
	if !d.IsNone() {
		t.Fatalf("expected None digest, got %q", d)
	}
	if !errors.Is(err, ErrNoFingerprint) {
		t.Fatalf("expected ErrNoFingerprint, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected error to match fs.ErrNotExist, got %v", err)
	}
}

func TestCurrent_MissingIsNotAnError(t *testing.T) {
	t.Parallel()

	d, err := Current(filepath.Join(t.TempDir(), "nope.parquet"))
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !d.IsNone() {
		t.Fatalf("expected None, got %q", d)
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  Digest
		recorded Digest
		want     bool
	}{
		{name: "equal", current: "ab", recorded: "ab", want: true},
		{name: "different", current: "ab", recorded: "cd", want: false},
		{name: "current_none", current: None, recorded: "ab", want: false},
		{name: "both_none", current: None, recorded: None, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.current, tc.recorded); got != tc.want {
				t.Fatalf("Matches(%q,%q)=%v, want %v", tc.current, tc.recorded, got, tc.want)
			}
		})
	}
}
