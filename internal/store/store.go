// Package store persists run records.
//
// Records are keyed "/Run/{id}". Run ids start with a UTC timestamp, so
// key order is creation order.
package store

import (
	"errors"
	"fmt"
	"sort"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// Store is the persistence interface for run records.
type Store interface {
	// Create stores a new run. Returns ErrAlreadyExists if the id is taken.
	Create(run *v1alpha1.Run) error

	// Get returns the run with the given id, or ErrNotFound.
	Get(id string) (*v1alpha1.Run, error)

	// Update replaces a stored run. Returns ErrNotFound if it does not exist.
	Update(run *v1alpha1.Run) error

	// Delete removes a run. Returns ErrNotFound if it does not exist.
	Delete(id string) error

	// List returns every stored run, newest first.
	List() ([]*v1alpha1.Run, error)

	// Close releases any resources held by the store (e.g. BoltDB file handle).
	Close() error
}

// Common sentinel errors.
var (
	ErrAlreadyExists = errors.New("run already exists")
	ErrNotFound      = errors.New("run not found")
	ErrInvalidRun    = errors.New("invalid run record")
)

// RunKey builds the store key of a run.
//
//	RunKey("20260101-120000-1a2b3c4d")
//	=> "/Run/20260101-120000-1a2b3c4d"
func RunKey(id string) string {
	return fmt.Sprintf("/%s/%s", v1alpha1.KindRun, id)
}

func runPrefix() string {
	return "/" + v1alpha1.KindRun + "/"
}

func checkRun(run *v1alpha1.Run) error {
	if run == nil || run.Metadata.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRun)
	}
	return nil
}

// newestFirst orders runs by creation time, then id, descending.
func newestFirst(runs []*v1alpha1.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i].Metadata, runs[j].Metadata
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Name > b.Name
	})
}
