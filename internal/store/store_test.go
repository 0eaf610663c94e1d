package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// newTestRun creates a Run for testing with the given id and target.
func newTestRun(id, target string, created time.Time) *v1alpha1.Run {
	return &v1alpha1.Run{
		TypeMeta: v1alpha1.TypeMeta{
			APIVersion: v1alpha1.APIVersion,
			Kind:       v1alpha1.KindRun,
		},
		Metadata: v1alpha1.ObjectMeta{
			Name:      id,
			CreatedAt: created,
		},
		Spec: v1alpha1.RunSpec{
			Target:        target,
			Mode:          v1alpha1.ModeQuick,
			MaxIterations: 3,
		},
		Status: v1alpha1.RunStatus{Phase: v1alpha1.RunRunning},
	}
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})
	t.Run("bolt", func(t *testing.T) {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "scout.db"))
		if err != nil {
			t.Fatalf("failed to open bolt store: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func TestCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		run := newTestRun("run-1", "10.10.10.5", time.Now())
		run.Status.Turns = []v1alpha1.Turn{
			{Role: v1alpha1.RoleSystem, Content: "sys"},
			{Role: v1alpha1.RoleAssistant, ToolCalls: []v1alpha1.ToolCall{{ID: "c1", Name: "nmap", Arguments: `{"target":"10.10.10.5"}`}}},
		}

		if err := s.Create(run); err != nil {
			t.Fatalf("unexpected error on Create: %v", err)
		}

		got, err := s.Get("run-1")
		if err != nil {
			t.Fatalf("unexpected error on Get: %v", err)
		}
		if got.Spec.Target != "10.10.10.5" {
			t.Errorf("expected target 10.10.10.5, got %s", got.Spec.Target)
		}
		if len(got.Status.Turns) != 2 {
			t.Fatalf("expected 2 turns, got %d", len(got.Status.Turns))
		}
		if got.Status.Turns[1].ToolCalls[0].Name != "nmap" {
			t.Errorf("expected tool call nmap, got %+v", got.Status.Turns[1].ToolCalls)
		}
	})
}

func TestCreateDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		run := newTestRun("dup", "10.0.0.1", time.Now())
		if err := s.Create(run); err != nil {
			t.Fatalf("unexpected error on first Create: %v", err)
		}
		if err := s.Create(run); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})
}

func TestCreateInvalid(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.Create(&v1alpha1.Run{}); !errors.Is(err, ErrInvalidRun) {
			t.Fatalf("expected ErrInvalidRun, got %v", err)
		}
	})
}

func TestGetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if _, err := s.Get("nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		run := newTestRun("upd", "10.0.0.1", time.Now())
		if err := s.Create(run); err != nil {
			t.Fatalf("unexpected error on Create: %v", err)
		}

		run.Status.Phase = v1alpha1.RunCompleted
		run.Status.Iterations = 2
		if err := s.Update(run); err != nil {
			t.Fatalf("unexpected error on Update: %v", err)
		}

		got, err := s.Get("upd")
		if err != nil {
			t.Fatalf("unexpected error on Get: %v", err)
		}
		if got.Status.Phase != v1alpha1.RunCompleted {
			t.Errorf("expected phase Completed, got %s", got.Status.Phase)
		}
		if got.Status.Iterations != 2 {
			t.Errorf("expected 2 iterations, got %d", got.Status.Iterations)
		}
	})
}

func TestUpdateNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.Update(newTestRun("ghost", "10.0.0.1", time.Now())); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.Create(newTestRun("del", "10.0.0.1", time.Now())); err != nil {
			t.Fatalf("unexpected error on Create: %v", err)
		}
		if err := s.Delete("del"); err != nil {
			t.Fatalf("unexpected error on Delete: %v", err)
		}
		if _, err := s.Get("del"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after Delete, got %v", err)
		}
		if err := s.Delete("del"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second Delete, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			if err := s.Create(newTestRun(id, "10.0.0.1", base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("unexpected error on Create: %v", err)
			}
		}

		runs, err := s.List()
		if err != nil {
			t.Fatalf("unexpected error on List: %v", err)
		}
		if len(runs) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(runs))
		}
		for i, want := range []string{"c", "b", "a"} {
			if runs[i].Metadata.Name != want {
				t.Errorf("position %d: expected %s, got %s", i, want, runs[i].Metadata.Name)
			}
		}
	})
}

func TestListEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		runs, err := s.List()
		if err != nil {
			t.Fatalf("unexpected error on List: %v", err)
		}
		if len(runs) != 0 {
			t.Errorf("expected no runs, got %d", len(runs))
		}
	})
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to open bolt store: %v", err)
	}
	if err := s.Create(newTestRun("kept", "10.0.0.1", time.Now())); err != nil {
		t.Fatalf("unexpected error on Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error on Close: %v", err)
	}

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("failed to reopen bolt store: %v", err)
	}
	defer s.Close()

	if _, err := s.Get("kept"); err != nil {
		t.Errorf("expected run to survive reopen, got %v", err)
	}
}

func TestRunKey(t *testing.T) {
	if got := RunKey("20260101-120000-1a2b3c4d"); got != "/Run/20260101-120000-1a2b3c4d" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestMemoryClose(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Create(newTestRun("gone", "10.0.0.1", time.Now())); err != nil {
		t.Fatalf("unexpected error on Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error on Close: %v", err)
	}
	if _, err := s.Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after Close, got %v", err)
	}
}
