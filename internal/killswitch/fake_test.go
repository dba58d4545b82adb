package killswitch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// fakeService implements Backend and StateSource over an in-memory profile table
type fakeService struct {
	mutex   sync.Mutex
	defined map[string]bool
	active  map[string]bool
	specs   map[string]ProfileSpec
	calls   []string

	// failOn maps "op:name" to the error returned for that call
	failOn   map[string]error
	queryErr error
	onMutate func(call string)
}

func newFakeService() *fakeService {
	return &fakeService{
		defined: make(map[string]bool),
		active:  make(map[string]bool),
		specs:   make(map[string]ProfileSpec),
		failOn:  make(map[string]error),
	}
}

func (f *fakeService) record(op, name string) error {
	call := op + ":" + name
	f.calls = append(f.calls, call)
	if f.onMutate != nil {
		f.onMutate(call)
	}
	return f.failOn[call]
}

func (f *fakeService) CreateProfile(_ context.Context, spec ProfileSpec) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.record("create", spec.Name); err != nil {
		return err
	}
	f.defined[spec.Name] = true
	f.specs[spec.Name] = spec
	return nil
}

func (f *fakeService) ActivateProfile(_ context.Context, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.record("activate", name); err != nil {
		return err
	}
	if !f.defined[name] {
		return fmt.Errorf("unknown connection %s", name)
	}
	f.active[name] = true
	return nil
}

func (f *fakeService) DeactivateProfile(_ context.Context, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.record("deactivate", name); err != nil {
		return err
	}
	delete(f.active, name)
	return nil
}

func (f *fakeService) DeleteProfile(_ context.Context, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.record("delete", name); err != nil {
		return err
	}
	delete(f.defined, name)
	delete(f.active, name)
	delete(f.specs, name)
	return nil
}

func (f *fakeService) DefinedProfiles(context.Context) ([]string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return keys(f.defined), nil
}

func (f *fakeService) ActiveProfiles(context.Context) ([]string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return keys(f.active), nil
}

// seed marks a profile as defined and optionally active without recording a call
func (f *fakeService) seed(name string, running bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.defined[name] = true
	if running {
		f.active[name] = true
	}
}

func (f *fakeService) recorded() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.calls...)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
