// Package nmcli drives NetworkManager through its command line client to
// create, activate, deactivate, delete and list kill switch profiles.
package nmcli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/wesleywu/killswitch/internal/exclusion"
	"github.com/wesleywu/killswitch/internal/killswitch"
	"github.com/wesleywu/killswitch/internal/logger"
	"github.com/wesleywu/killswitch/internal/metrics"
)

const (
	// DefaultPath is looked up in PATH.
	DefaultPath = "nmcli"

	// exitAlreadySatisfied is returned by nmcli when the connection is
	// already in the requested state or already gone.
	exitAlreadySatisfied = 10
)

type exitCoder interface {
	ExitCode() int
}

// Options configures an Adapter.
type Options struct {
	Path    string
	Timeout time.Duration // zero waits for nmcli indefinitely
}

// Adapter implements killswitch.Backend and killswitch.StateSource.
type Adapter struct {
	cmd     Commander
	path    string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
}

var (
	_ killswitch.Backend     = (*Adapter)(nil)
	_ killswitch.StateSource = (*Adapter)(nil)
)

func New(cmd Commander, opts Options, log *logger.Logger) *Adapter {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	return &Adapter{
		cmd:     cmd,
		path:    path,
		timeout: opts.Timeout,
		metrics: metrics.NewMetrics(),
		logger:  log.WithComponent("nmcli"),
	}
}

// Metrics exposes per-operation counters.
func (a *Adapter) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *Adapter) CreateProfile(ctx context.Context, spec killswitch.ProfileSpec) error {
	return a.mutate(ctx, "create", killswitch.CreateFailed, spec.Name, CreateArgs(spec))
}

func (a *Adapter) ActivateProfile(ctx context.Context, name string) error {
	return a.mutate(ctx, "activate", killswitch.ActivateFailed, name, []string{"connection", "up", name})
}

func (a *Adapter) DeactivateProfile(ctx context.Context, name string) error {
	return a.mutate(ctx, "deactivate", killswitch.DeactivateFailed, name, []string{"connection", "down", name})
}

func (a *Adapter) DeleteProfile(ctx context.Context, name string) error {
	return a.mutate(ctx, "delete", killswitch.DeleteFailed, name, []string{"connection", "delete", name})
}

func (a *Adapter) DefinedProfiles(ctx context.Context) ([]string, error) {
	return a.query(ctx, "defined", []string{"-t", "-f", "NAME", "connection", "show"})
}

func (a *Adapter) ActiveProfiles(ctx context.Context) ([]string, error) {
	return a.query(ctx, "active", []string{"-t", "-f", "NAME", "connection", "show", "--active"})
}

// CreateArgs builds the "connection add" arguments for spec. Profiles
// without an IPv4 gateway carry the explicit IPv4 route list instead.
func CreateArgs(spec killswitch.ProfileSpec) []string {
	metric := strconv.Itoa(spec.Metric)

	args := []string{
		"connection", "add", "type", "dummy",
		"ifname", spec.InterfaceName,
		"con-name", spec.Name,
		"ipv4.method", "manual",
		"ipv4.addresses", spec.IPv4Address,
	}
	if spec.IPv4Gateway != "" {
		args = append(args, "ipv4.gateway", spec.IPv4Gateway)
	}
	args = append(args,
		"ipv6.method", "manual",
		"ipv6.addresses", spec.IPv6Address,
	)
	if spec.IPv6Gateway != "" {
		args = append(args, "ipv6.gateway", spec.IPv6Gateway)
	}
	args = append(args,
		"ipv4.route-metric", metric,
		"ipv6.route-metric", metric,
	)
	if len(spec.IPv4Routes) > 0 {
		args = append(args, "ipv4.routes", exclusion.Join(spec.IPv4Routes))
	}
	return args
}

// mutate runs a profile mutation. Exit code 10 counts as success.
func (a *Adapter) mutate(ctx context.Context, op string, opType killswitch.OperationType, name string, args []string) error {
	start := time.Now()
	out, err := a.run(ctx, a.cmd.CombinedOutput, args)
	duration := time.Since(start)

	if err != nil {
		var ec exitCoder
		if errors.As(err, &ec) && ec.ExitCode() == exitAlreadySatisfied {
			a.logger.Debug("nmcli reported nothing to do", "operation", op, "profile", name)
			err = nil
		}
	}

	a.metrics.RecordOperation(op, duration, err == nil)

	if err != nil {
		a.logger.Error("nmcli call failed",
			"operation", op,
			"profile", name,
			"args", strings.Join(args, " "),
			"output", strings.TrimSpace(string(out)),
			"error", err)
		return &killswitch.OperationError{
			Type:    opType,
			Profile: name,
			Output:  string(out),
			Cause:   err,
		}
	}

	a.logger.Debug("nmcli call succeeded", "operation", op, "profile", name, "duration_ms", duration.Milliseconds())
	return nil
}

func (a *Adapter) query(ctx context.Context, which string, args []string) ([]string, error) {
	start := time.Now()
	out, err := a.run(ctx, a.cmd.Output, args)
	a.metrics.RecordOperation("query_"+which, time.Since(start), err == nil)

	if err != nil {
		qe := &killswitch.QueryError{Query: which, Cause: err}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			qe.Output = string(ee.Stderr)
		}
		return nil, qe
	}
	return ParseNames(string(out)), nil
}

// run executes nmcli. The caller's cancellation is ignored once a call is
// issued; only the configured timeout can end it early.
func (a *Adapter) run(ctx context.Context, call func(context.Context, string, ...string) ([]byte, error), args []string) ([]byte, error) {
	runCtx := context.WithoutCancel(ctx)
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, a.timeout)
		defer cancel()
	}

	out, err := call(runCtx, a.path, args...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%s %s timed out after %s: %w", a.path, args[0], a.timeout, context.DeadlineExceeded)
	}
	return out, err
}

// ParseNames splits terse nmcli output into connection names, undoing
// nmcli's backslash escaping of ':' and '\'.
func ParseNames(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		names = append(names, unescape(line))
	}
	return names
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
