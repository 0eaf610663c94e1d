package tui

import (
	"github.com/klubi/scout/internal/store"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// StoreSource reads runs straight from a local store.
type StoreSource struct {
	Store store.Store
}

func (s StoreSource) ListRuns(phase v1alpha1.RunPhase) ([]*v1alpha1.Run, error) {
	runs, err := s.Store.List()
	if err != nil || phase == "" {
		return runs, err
	}
	out := runs[:0]
	for _, run := range runs {
		if run.Status.Phase == phase {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s StoreSource) GetRun(id string) (*v1alpha1.Run, error) {
	return s.Store.Get(id)
}

func (s StoreSource) DeleteRun(id string) error {
	return s.Store.Delete(id)
}
