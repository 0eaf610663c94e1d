package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/klubi/scout/internal/store"
	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// ErrNotActive is returned when stopping a run this runtime is not executing.
var ErrNotActive = errors.New("run is not active")

// Runtime executes runs in the background and tracks them until they end.
// Each run gets its own goroutine, Conversation and iteration counter;
// runs share only the model client, the dispatcher and the store.
type Runtime struct {
	store  store.Store
	loop   *Loop
	logger *zap.Logger

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu sync.Mutex
	// active tracks running loops by run id.
	active map[string]context.CancelFunc
}

// NewRuntime creates a Runtime whose runs are journaled to s.
func NewRuntime(s store.Store, model Model, dispatcher ToolDispatcher, schemas []tools.Schema, logger *zap.Logger) *Runtime {
	base, cancel := context.WithCancel(context.Background())
	return &Runtime{
		store:    s,
		loop:     NewLoop(model, dispatcher, schemas, logger, WithJournal(NewStoreJournal(s))),
		logger:   logger,
		base:     base,
		shutdown: cancel,
		active:   make(map[string]context.CancelFunc),
	}
}

// Start validates spec, stores a new Running record and launches the run.
// It returns the record as stored before the first round.
func (r *Runtime) Start(spec v1alpha1.RunSpec) (*v1alpha1.Run, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunSpec, err)
	}
	if err := r.base.Err(); err != nil {
		return nil, fmt.Errorf("runtime is shut down: %w", err)
	}

	run := NewRun(spec)
	id := run.Metadata.Name
	if err := r.store.Create(run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}
	snapshot, err := r.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}

	ctx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()

	r.logger.Info("starting run",
		zap.String("runId", id),
		zap.String("target", spec.Target),
		zap.String("mode", string(spec.Mode)),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(id)

		if _, err := r.loop.Run(ctx, run); err != nil {
			r.logger.Warn("background run ended with error",
				zap.String("runId", id),
				zap.Error(err),
			)
		}
	}()

	return snapshot, nil
}

// Stop cancels an active run. The run records itself as Aborted.
func (r *Runtime) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.active[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	r.logger.Info("stopping run", zap.String("runId", id))
	cancel()
	return nil
}

// IsActive checks whether a run is currently executing in this runtime.
func (r *Runtime) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Active returns the ids of executing runs in lexical order.
func (r *Runtime) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every active run and waits for them to record their
// final state, or for ctx to expire.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdown()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runs still active at shutdown: %w", ctx.Err())
	}
}

func (r *Runtime) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[id]; ok {
		cancel()
		delete(r.active, id)
	}
}
