package killswitch

import (
	"context"
	"errors"
	"testing"
)

// scriptedSource returns fixed defined/active sets
type scriptedSource struct {
	defined []string
	active  []string
	err     error
}

func (s *scriptedSource) DefinedProfiles(context.Context) ([]string, error) {
	return s.defined, s.err
}

func (s *scriptedSource) ActiveProfiles(context.Context) ([]string, error) {
	return s.active, s.err
}

func TestTracker_Refresh(t *testing.T) {
	tests := []struct {
		name     string
		defined  []string
		active   []string
		expectKS Status
		expectRT Status
	}{
		{
			name: "nothing defined",
		},
		{
			name:     "killswitch defined only",
			defined:  []string{"ks", "Wired connection 1"},
			expectKS: Status{Exists: true},
		},
		{
			name:     "killswitch running",
			defined:  []string{"ks", "routed"},
			active:   []string{"ks"},
			expectKS: Status{Exists: true, IsRunning: true},
			expectRT: Status{Exists: true},
		},
		{
			name:     "active but not listed as defined",
			active:   []string{"routed"},
			expectRT: Status{Exists: true, IsRunning: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{defined: tt.defined, active: tt.active}
			tracker := NewTracker(src, "ks", "routed")

			if err := tracker.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}

			if got, _ := tracker.Status("ks"); got != tt.expectKS {
				t.Errorf("ks: expected %+v, got %+v", tt.expectKS, got)
			}
			if got, _ := tracker.Status("routed"); got != tt.expectRT {
				t.Errorf("routed: expected %+v, got %+v", tt.expectRT, got)
			}
		})
	}
}

func TestTracker_RefreshResetsPreviousState(t *testing.T) {
	src := &scriptedSource{defined: []string{"ks"}, active: []string{"ks"}}
	tracker := NewTracker(src, "ks", "routed")

	if err := tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	src.defined, src.active = nil, nil
	if err := tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if got, _ := tracker.Status("ks"); got != (Status{}) {
		t.Errorf("expected ks to be cleared, got %+v", got)
	}
}

func TestTracker_RefreshError(t *testing.T) {
	src := &scriptedSource{defined: []string{"ks"}}
	tracker := NewTracker(src, "ks")
	if err := tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	src.err = &QueryError{Query: "defined", Cause: errors.New("bus unavailable")}
	err := tracker.Refresh(context.Background())
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}

	if got, _ := tracker.Status("ks"); !got.Exists {
		t.Error("failed refresh must leave previous state in place")
	}
}

func TestTracker_UntrackedName(t *testing.T) {
	tracker := NewTracker(&scriptedSource{}, "ks")
	if _, ok := tracker.Status("other"); ok {
		t.Error("expected untracked name to report ok=false")
	}

	snapshot := tracker.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Name != "ks" {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}
}
