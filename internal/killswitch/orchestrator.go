package killswitch

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/wesleywu/killswitch/internal/exclusion"
	"github.com/wesleywu/killswitch/internal/logger"
)

// Orchestrator sequences profile mutations so that traffic stays blocked
// unless the routed exception or a verified tunnel is in place. Every
// mutation is preceded by a fresh Refresh; failures abort the action and
// are not rolled back.
type Orchestrator struct {
	settings Settings
	backend  Backend
	tracker  *Tracker
	logger   *logger.Logger
}

// New creates an orchestrator. The tracker must track both profile names
// from settings.
func New(settings Settings, backend Backend, tracker *Tracker, log *logger.Logger) *Orchestrator {
	if settings.Metric == 0 {
		settings.Metric = DefaultRouteMetric
	}
	return &Orchestrator{
		settings: settings,
		backend:  backend,
		tracker:  tracker,
		logger:   log.WithComponent("killswitch"),
	}
}

// Manage runs one action to completion.
func (o *Orchestrator) Manage(ctx context.Context, req Request) error {
	start := time.Now()
	o.logger.ActionStarted(req.Action.String(), req.Action.IsMenu(), o.settings.Mode.String())

	var err error
	switch req.Action {
	case ActionCreateHard:
		err = o.CreateHard(ctx)
	case ActionDisableAll:
		err = o.DisableAll(ctx)
	case ActionPreConnection:
		err = o.PreConnection(ctx, req.ServerAddresses...)
	case ActionPostConnection:
		err = o.PostConnection(ctx)
	case ActionSoftConnection:
		err = o.SoftConnection(ctx)
	case ActionDisable:
		err = o.Disable(ctx)
	case ActionDeactivateAll:
		err = o.DeactivateAll(ctx)
	default:
		err = &UnsupportedActionError{Value: fmt.Sprintf("%d", int(req.Action))}
	}

	o.logger.ActionCompleted(req.Action.String(), time.Since(start).Milliseconds(), err)
	return err
}

// CreateHard adds the kill switch profile unless it already exists.
func (o *Orchestrator) CreateHard(ctx context.Context) error {
	return o.createProfile(ctx, o.killSwitchSpec())
}

// DisableAll deletes whichever of the two profiles exist.
func (o *Orchestrator) DisableAll(ctx context.Context) error {
	if err := o.deleteProfile(ctx, o.settings.KillSwitch.Name); err != nil {
		return err
	}
	return o.deleteProfile(ctx, o.settings.Routed.Name)
}

// PreConnection creates the routed profile that reaches every IPv4 address
// except the server, then suspends the kill switch profile. When several
// addresses are given the last one is used.
func (o *Orchestrator) PreConnection(ctx context.Context, serverAddresses ...string) error {
	hole, err := exclusion.LastHole(serverAddresses)
	if err != nil {
		return err
	}
	blocks, err := exclusion.Exclude(exclusion.IPv4Universe, hole)
	if err != nil {
		return err
	}

	o.logger.Debug("Computed routed profile exclusion",
		"server", hole.String(),
		"blocks", len(blocks),
		"fingerprint", fmt.Sprintf("%016x", exclusion.NewBlockSet(blocks...).Fingerprint()))

	if err := o.createProfile(ctx, o.routedSpec(blocks)); err != nil {
		return err
	}
	return o.deactivateProfile(ctx, o.settings.KillSwitch.Name)
}

// PostConnection activates the kill switch profile before deleting the
// routed one, so there is no moment with neither in place.
func (o *Orchestrator) PostConnection(ctx context.Context) error {
	if err := o.activateProfile(ctx, o.settings.KillSwitch.Name); err != nil {
		return err
	}
	return o.deleteProfile(ctx, o.settings.Routed.Name)
}

// SoftConnection creates the kill switch profile, then runs PostConnection.
func (o *Orchestrator) SoftConnection(ctx context.Context) error {
	if err := o.CreateHard(ctx); err != nil {
		return err
	}
	return o.PostConnection(ctx)
}

// Disable is DisableAll issued from the connection lifecycle.
func (o *Orchestrator) Disable(ctx context.Context) error {
	return o.DisableAll(ctx)
}

// DeactivateAll brings both profiles down, keeping their definitions.
func (o *Orchestrator) DeactivateAll(ctx context.Context) error {
	if err := o.deactivateProfile(ctx, o.settings.KillSwitch.Name); err != nil {
		return err
	}
	return o.deactivateProfile(ctx, o.settings.Routed.Name)
}

func (o *Orchestrator) killSwitchSpec() ProfileSpec {
	return ProfileSpec{
		Kind:          KillSwitchProfile,
		Name:          o.settings.KillSwitch.Name,
		InterfaceName: o.settings.KillSwitch.InterfaceName,
		IPv4Address:   o.settings.IPv4DummyAddress,
		IPv4Gateway:   o.settings.IPv4DummyGateway,
		IPv6Address:   o.settings.IPv6DummyAddress,
		IPv6Gateway:   o.settings.IPv6DummyGateway,
		Metric:        o.settings.Metric,
	}
}

// routedSpec leaves IPv4 without a gateway; IPv6 keeps the dummy default
// gateway rather than a restricted route list.
func (o *Orchestrator) routedSpec(blocks []netip.Prefix) ProfileSpec {
	return ProfileSpec{
		Kind:          RoutedProfile,
		Name:          o.settings.Routed.Name,
		InterfaceName: o.settings.Routed.InterfaceName,
		IPv4Address:   o.settings.IPv4DummyAddress,
		IPv6Address:   o.settings.IPv6DummyAddress,
		IPv6Gateway:   o.settings.IPv6DummyGateway,
		Metric:        o.settings.Metric,
		IPv4Routes:    blocks,
	}
}

func (o *Orchestrator) createProfile(ctx context.Context, spec ProfileSpec) error {
	st, err := o.currentStatus(ctx, spec.Name)
	if err != nil {
		return err
	}
	if st.Exists {
		o.logger.Debug("Profile already exists, skipping create", "profile", spec.Name)
		return nil
	}
	return o.mutate(CreateFailed, "create", spec.Name, func() error {
		return o.backend.CreateProfile(ctx, spec)
	})
}

func (o *Orchestrator) activateProfile(ctx context.Context, name string) error {
	st, err := o.currentStatus(ctx, name)
	if err != nil {
		return err
	}
	if !st.Exists || st.IsRunning {
		o.logger.Debug("Skipping activate", "profile", name, "exists", st.Exists, "is_running", st.IsRunning)
		return nil
	}
	return o.mutate(ActivateFailed, "activate", name, func() error {
		return o.backend.ActivateProfile(ctx, name)
	})
}

func (o *Orchestrator) deactivateProfile(ctx context.Context, name string) error {
	st, err := o.currentStatus(ctx, name)
	if err != nil {
		return err
	}
	if !st.IsRunning {
		o.logger.Debug("Profile not running, skipping deactivate", "profile", name)
		return nil
	}
	return o.mutate(DeactivateFailed, "deactivate", name, func() error {
		return o.backend.DeactivateProfile(ctx, name)
	})
}

func (o *Orchestrator) deleteProfile(ctx context.Context, name string) error {
	st, err := o.currentStatus(ctx, name)
	if err != nil {
		return err
	}
	if !st.Exists {
		o.logger.Debug("Profile does not exist, skipping delete", "profile", name)
		return nil
	}
	return o.mutate(DeleteFailed, "delete", name, func() error {
		return o.backend.DeleteProfile(ctx, name)
	})
}

// currentStatus refreshes the tracker and returns name's status.
func (o *Orchestrator) currentStatus(ctx context.Context, name string) (Status, error) {
	if err := o.tracker.Refresh(ctx); err != nil {
		o.logTrackerState()
		return Status{}, fmt.Errorf("refresh profile state: %w", err)
	}
	st, ok := o.tracker.Status(name)
	if !ok {
		return Status{}, fmt.Errorf("profile %q is not tracked", name)
	}
	return st, nil
}

// mutate runs call, logs its outcome and normalizes failures to
// *OperationError of the given type.
func (o *Orchestrator) mutate(opType OperationType, op, name string, call func() error) error {
	start := time.Now()
	err := call()
	o.logger.ProfileOperation(op, name, time.Since(start).Milliseconds(), err == nil)
	if err == nil {
		return nil
	}

	o.logTrackerState()

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Type: opType, Profile: name, Cause: err}
}

func (o *Orchestrator) logTrackerState() {
	snapshot := o.tracker.Snapshot()
	states := make([]logger.ProfileState, 0, len(snapshot))
	for _, s := range snapshot {
		states = append(states, logger.ProfileState{Name: s.Name, Exists: s.Exists, IsRunning: s.IsRunning})
	}
	o.logger.TrackerState(states)
}
