package agent

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// orphanMessage is recorded on runs found Running with no loop behind them.
const orphanMessage = "interrupted: scout exited before the run finished"

// RecoverOrphans marks stored runs that claim to be Running but are not
// executing in this runtime as Aborted. A process that dies mid-run leaves
// such records behind; the store lock guarantees no other process still
// owns them. It returns the ids it marked.
func (r *Runtime) RecoverOrphans() ([]string, error) {
	runs, err := r.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var marked []string
	for _, run := range runs {
		id := run.Metadata.Name
		if run.Status.Phase != v1alpha1.RunRunning || r.IsActive(id) {
			continue
		}

		now := time.Now()
		run.Status.Phase = v1alpha1.RunAborted
		run.Status.Error = orphanMessage
		run.Status.FinishedAt = now
		run.Metadata.UpdatedAt = now

		if err := r.store.Update(run); err != nil {
			return marked, fmt.Errorf("marking run %q aborted: %w", id, err)
		}
		r.logger.Warn("run marked as aborted",
			zap.String("runId", id),
			zap.String("reason", orphanMessage),
			zap.Int("iterations", run.Status.Iterations),
		)
		marked = append(marked, id)
	}
	return marked, nil
}
