package killswitch

import (
	"context"
	"sync"
)

// NamedStatus pairs a tracked profile name with its last observed status.
type NamedStatus struct {
	Name string
	Status
}

// Tracker mirrors the existence and activation state of a fixed set of
// profile names. Nothing is trusted across calls: callers Refresh before
// every decision.
type Tracker struct {
	source StateSource
	names  []string

	mutex  sync.RWMutex
	states map[string]Status
}

// NewTracker tracks names, all initially absent.
func NewTracker(source StateSource, names ...string) *Tracker {
	t := &Tracker{
		source: source,
		names:  append([]string(nil), names...),
		states: make(map[string]Status, len(names)),
	}
	for _, name := range t.names {
		t.states[name] = Status{}
	}
	return t
}

// Refresh queries the state source and rebuilds every tracked status.
// On failure the previous statuses are left untouched.
func (t *Tracker) Refresh(ctx context.Context) error {
	defined, err := t.source.DefinedProfiles(ctx)
	if err != nil {
		return err
	}
	active, err := t.source.ActiveProfiles(ctx)
	if err != nil {
		return err
	}

	definedSet := toSet(defined)
	activeSet := toSet(active)

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, name := range t.names {
		_, running := activeSet[name]
		_, exists := definedSet[name]
		t.states[name] = Status{
			// an active profile is always a defined one, even if the two
			// queries straddled a concurrent change
			Exists:    exists || running,
			IsRunning: running,
		}
	}
	return nil
}

// Status returns the last observed status; ok is false for untracked names.
func (t *Tracker) Status(name string) (Status, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, ok := t.states[name]
	return s, ok
}

// Snapshot returns every tracked status in registration order.
func (t *Tracker) Snapshot() []NamedStatus {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make([]NamedStatus, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, NamedStatus{Name: name, Status: t.states[name]})
	}
	return out
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
