// Package registry maps logical file names (keys) to the transform that stages
// them. A Registry is built once at startup and passed to the stager.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"pipeline/internal/tabular"
)

// Transform reads the raw file at path and returns its tabular content.
type Transform func(ctx context.Context, path string) (*tabular.Frame, error)

var (
	// ErrDuplicate is returned when a key is registered twice, or when two
	// keys would stage to the same file and table.
	ErrDuplicate = errors.New("registry: transform already registered")

	// ErrInvalid is returned for an empty key, a key that is not a plain file
	// name, or a nil transform.
	ErrInvalid = errors.New("registry: invalid registration")
)

// Entry is one registered transform.
type Entry struct {
	Key       string
	Module    string
	Transform Transform
}

// Registry keeps entries in registration order.
type Registry struct {
	entries []Entry
	index   map[string]int
	stems   map[string]string // lowercased stem -> key
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{index: make(map[string]int), stems: make(map[string]string)}
}

// Register adds a transform under key. The key is the raw file's name inside
// the raw directory; it may not contain a path separator. Registration never
// overwrites: a second registration for the same key, or for a key whose
// stem matches an existing one case-insensitively ("a.csv" and "A.tsv"),
// fails with ErrDuplicate.
func (r *Registry) Register(key, module string, fn Transform) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalid)
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("%w: key %q is not a plain file name", ErrInvalid, key)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil transform for %q", ErrInvalid, key)
	}
	if _, exists := r.index[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, key)
	}
	stem := Stem(key)
	if stem == "" {
		return fmt.Errorf("%w: key %q has an empty stem", ErrInvalid, key)
	}
	if other, exists := r.stems[strings.ToLower(stem)]; exists {
		return fmt.Errorf("%w: %q stages to the same table as %q", ErrDuplicate, key, other)
	}
	if module == "" {
		module = key
	}

	r.stems[strings.ToLower(stem)] = key
	r.index[key] = len(r.entries)
	r.entries = append(r.entries, Entry{Key: key, Module: module, Transform: fn})
	return nil
}

// Get returns the entry for key.
func (r *Registry) Get(key string) (Entry, bool) {
	i, ok := r.index[key]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Entries returns a copy of all entries in registration order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Stem is key without its extension. It names both the staged file and the
// target table.
func Stem(key string) string {
	return strings.TrimSuffix(key, filepath.Ext(key))
}

// Len returns the number of registered transforms.
func (r *Registry) Len() int { return len(r.entries) }

// Definition describes a transform that can be loaded into a registry.
// Load may fail (bad configuration, missing resources); such a definition is
// skipped by Populate.
type Definition struct {
	Key    string
	Module string
	Load   func() (Transform, error)
}

// Populate loads and registers every definition. A definition that fails to
// load or register is logged and skipped; the remaining definitions are still
// processed. It returns the number registered and the joined failures.
func Populate(r *Registry, defs []Definition, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		n    int
		errs []error
	)
	for _, d := range defs {
		if d.Load == nil {
			err := fmt.Errorf("%w: definition %q has no loader", ErrInvalid, d.Key)
			logger.Error("transform not loaded", "key", d.Key, "module", d.Module, "error", err)
			errs = append(errs, err)
			continue
		}

		fn, err := d.Load()
		if err != nil {
			err = fmt.Errorf("registry: load %s (%s): %w", d.Key, d.Module, err)
			logger.Error("transform not loaded", "key", d.Key, "module", d.Module, "error", err)
			errs = append(errs, err)
			continue
		}

		if err := r.Register(d.Key, d.Module, fn); err != nil {
			logger.Error("transform not registered", "key", d.Key, "module", d.Module, "error", err)
			errs = append(errs, err)
			continue
		}
		n++
	}

	logger.Info("transforms registered", "count", n, "definitions", len(defs))
	return n, errors.Join(errs...)
}
