package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klubi/scout/internal/store"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// NewRun builds a fresh run record for spec. The id starts with a UTC
// timestamp so saved runs sort by creation time.
func NewRun(spec v1alpha1.RunSpec) *v1alpha1.Run {
	now := time.Now()
	uid := uuid.New().String()
	return &v1alpha1.Run{
		TypeMeta: v1alpha1.TypeMeta{
			APIVersion: v1alpha1.APIVersion,
			Kind:       v1alpha1.KindRun,
		},
		Metadata: v1alpha1.ObjectMeta{
			Name:      now.UTC().Format("20060102-150405") + "-" + uid[:8],
			UID:       uid,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Spec:   spec,
		Status: v1alpha1.RunStatus{Phase: v1alpha1.RunRunning},
	}
}

// StoreJournal writes run records to a Store, creating the record on the
// first write and updating it afterwards.
type StoreJournal struct {
	store store.Store
}

// NewStoreJournal creates a Journal backed by s.
func NewStoreJournal(s store.Store) *StoreJournal {
	return &StoreJournal{store: s}
}

func (j *StoreJournal) Record(ctx context.Context, run *v1alpha1.Run) error {
	err := j.store.Update(run)
	if errors.Is(err, store.ErrNotFound) {
		err = j.store.Create(run)
	}
	if err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.Metadata.Name, err)
	}
	return nil
}
