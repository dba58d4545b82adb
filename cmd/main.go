package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/wesleywu/killswitch/internal/config"
	"github.com/wesleywu/killswitch/internal/exclusion"
	"github.com/wesleywu/killswitch/internal/killswitch"
	"github.com/wesleywu/killswitch/internal/logger"
	"github.com/wesleywu/killswitch/internal/nmcli"
	"github.com/wesleywu/killswitch/internal/nmdbus"
)

var (
	version = "1.0.0"

	configFile  string
	verboseMode bool
	asyncMode   bool
	checkAddr   string
	serverAddrs []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "killswitch",
		Short: "Network kill switch for VPN connections",
		Long: `Blocks all traffic outside the VPN tunnel by composing NetworkManager
dummy connection profiles that own the default route.`,
		SilenceUsage: true,
	}

	hardCmd := actionCommand("hard", "Enable the permanent kill switch", killswitch.ActionCreateHard)
	disableAllCmd := actionCommand("disable-all", "Remove both kill switch profiles", killswitch.ActionDisableAll)
	postCmd := actionCommand("post-connection", "Restore the block once the tunnel is up", killswitch.ActionPostConnection)
	softCmd := actionCommand("soft-connection", "Block traffic for the current tunnel session", killswitch.ActionSoftConnection)
	disableCmd := actionCommand("disable", "Remove the kill switch after a tunnel session", killswitch.ActionDisable)
	deactivateAllCmd := actionCommand("deactivate-all", "Bring both profiles down without deleting them", killswitch.ActionDeactivateAll)

	preCmd := actionCommand("pre-connection SERVER...", "Allow traffic to the VPN server while connecting", killswitch.ActionPreConnection)
	preCmd.Args = cobra.MinimumNArgs(1)

	modeCmd := &cobra.Command{
		Use:       "mode MODE",
		Short:     "Set the kill switch mode (disabled, soft, hard)",
		Long:      `Store the kill switch mode in the configuration file and apply it.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"disabled", "soft", "hard"},
		Run:       setMode,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show kill switch profile status",
		Long:  `Show whether each kill switch profile exists and is active.`,
		Run:   showStatus,
	}

	routesCmd := &cobra.Command{
		Use:   "routes SERVER...",
		Short: "Print the routes that exclude a server address",
		Long:  `Print the IPv4 blocks the routed profile would carry for a server address.`,
		Args:  cobra.MinimumNArgs(1),
		Run:   showRoutes,
	}
	routesCmd.Flags().StringVar(&checkAddr, "check", "", "Report how many blocks cover this address")

	runCmd := &cobra.Command{
		Use:   "run ACTION...",
		Short: "Run several actions in order, stopping at the first failure",
		Long: `Queue several actions on the background worker, for example
"run pre-connection post-connection --server 203.0.113.5". Actions after a
failed one are skipped.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runSequence,
	}
	runCmd.Flags().StringSliceVar(&serverAddrs, "server", nil, "VPN server address for pre-connection")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Show version, build information and system details.`,
		Run:   showVersion,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "Verbose mode (debug level logging)")
	rootCmd.PersistentFlags().BoolVar(&asyncMode, "async", false, "Run the action on the background worker; an interrupt waits for it to finish")

	rootCmd.AddCommand(hardCmd, disableAllCmd, preCmd, postCmd, softCmd, disableCmd, deactivateAllCmd)
	rootCmd.AddCommand(modeCmd, statusCmd, routesCmd, runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func actionCommand(use, short string, action killswitch.Action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			requireRoot()
			cfg, log := loadConfig()
			if err := manage(cmd.Context(), cfg, log, killswitch.Request{Action: action, ServerAddresses: args}); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to run %s: %v\n", action, err)
				os.Exit(exitCode(err))
			}
		},
	}
}

func setMode(cmd *cobra.Command, args []string) {
	mode, err := killswitch.ParseMode(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	action, err := killswitch.ActionForMode(mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	requireRoot()
	cfg, log := loadConfig()
	cfg.Mode = mode

	if err := manage(cmd.Context(), cfg, log, killswitch.Request{Action: action}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to apply mode %s: %v\n", mode, err)
		os.Exit(exitCode(err))
	}

	if err := cfg.Save(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Kill switch mode set to %s\n", mode)
}

func showStatus(cmd *cobra.Command, _ []string) {
	cfg, log := loadConfig()

	source, closeSource, err := newStateSource(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state source: %v\n", err)
		os.Exit(1)
	}
	defer closeSource()

	tracker := killswitch.NewTracker(source, cfg.KillSwitchProfile.Name, cfg.RoutedProfile.Name)
	if err := tracker.Refresh(cmd.Context()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query profiles: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Mode: %s\n", cfg.Mode)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tEXISTS\tACTIVE")
	for _, s := range tracker.Snapshot() {
		fmt.Fprintf(w, "%s\t%t\t%t\n", s.Name, s.Exists, s.IsRunning)
	}
	w.Flush()
}

func showRoutes(_ *cobra.Command, args []string) {
	hole, err := exclusion.LastHole(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	blocks, err := exclusion.Exclude(exclusion.IPv4Universe, hole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	set := exclusion.NewBlockSet(blocks...)
	for _, b := range blocks {
		fmt.Println(b)
	}
	fmt.Printf("# %d blocks excluding %s, fingerprint %016x\n", set.Size(), hole, set.Fingerprint())

	if checkAddr != "" {
		addr, err := netip.ParseAddr(checkAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --check address: %v\n", err)
			os.Exit(2)
		}
		n := set.Covers(addr)
		fmt.Printf("# %s is covered by %d block(s)\n", addr, n)
		if n == 0 {
			os.Exit(1)
		}
	}
}

func showVersion(_ *cobra.Command, _ []string) {
	fmt.Printf("Kill Switch Manager v%s\n", version)
	fmt.Printf("Runtime: %s\n", runtime.Version())
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		fmt.Printf("Kernel: %s %s\n", unix.ByteSliceToString(uts.Sysname[:]), unix.ByteSliceToString(uts.Release[:]))
	}
}

func loadConfig() (*config.Config, *logger.Logger) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if verboseMode {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg.LogLevel)
	log.ConfigLoaded(configFile, cfg.Mode.String())
	return cfg, log
}

func requireRoot() {
	if unix.Geteuid() != 0 {
		fmt.Fprintf(os.Stderr, "Error: Root privileges required to change network profiles\n")
		os.Exit(1)
	}
}

func newStateSource(cfg *config.Config, log *logger.Logger) (killswitch.StateSource, func(), error) {
	if cfg.StateSource == config.StateSourceDBus {
		src, err := nmdbus.Connect(log)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	}
	return newAdapter(cfg, log), func() {}, nil
}

func newAdapter(cfg *config.Config, log *logger.Logger) *nmcli.Adapter {
	return nmcli.New(nmcli.NewExecCommander(), nmcli.Options{
		Path:    cfg.NmcliPath,
		Timeout: cfg.CommandTimeout,
	}, log)
}

// openSession wires the adapter, state source, tracker and orchestrator.
// The returned func releases the state source and logs adapter metrics.
func openSession(cfg *config.Config, log *logger.Logger) (*killswitch.Orchestrator, func(), error) {
	adapter := newAdapter(cfg, log)

	source, closeSource, err := newStateSource(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	settings := cfg.Settings()
	tracker := killswitch.NewTracker(source, settings.KillSwitch.Name, settings.Routed.Name)
	orchestrator := killswitch.New(settings, adapter, tracker, log)

	return orchestrator, func() {
		closeSource()
		log.Performance("nmcli", adapter.Metrics().Fields())
	}, nil
}

// manage runs one request, on the background worker when --async is set.
// An interrupt only prevents an action that has not started yet.
func manage(parent context.Context, cfg *config.Config, log *logger.Logger, req killswitch.Request) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator, closeSession, err := openSession(cfg, log)
	if err != nil {
		return err
	}
	defer closeSession()

	if !asyncMode {
		if err := ctx.Err(); err != nil {
			return err
		}
		return orchestrator.Manage(ctx, req)
	}

	return runQueued(ctx, stop, orchestrator, log, []killswitch.Request{req})[0]
}

// runQueued submits every request to one runner up front and collects the
// results in order. After an interrupt the running action is waited for,
// queued ones are dropped and a second interrupt terminates the process.
func runQueued(ctx context.Context, stop context.CancelFunc, m killswitch.Manager, log *logger.Logger, reqs []killswitch.Request) []error {
	errs := make([]error, len(reqs))

	runner, err := killswitch.NewRunner(m, log)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	defer runner.Close()

	pending := make([]<-chan error, len(reqs))
	for i, req := range reqs {
		pending[i] = runner.Submit(ctx, req)
	}

	interrupted := false
	for i, ch := range pending {
		if interrupted {
			errs[i] = <-ch
			continue
		}
		select {
		case errs[i] = <-ch:
		case <-ctx.Done():
			interrupted = true
			stop()
			log.Warn("Interrupt received, waiting for the running action to finish",
				"action", reqs[i].Action.String(),
				"queued", len(reqs)-i-1)
			errs[i] = <-ch
		}
	}
	return errs
}

func runSequence(cmd *cobra.Command, args []string) {
	reqs := make([]killswitch.Request, 0, len(args))
	for _, arg := range args {
		action, err := killswitch.ParseAction(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		if action == killswitch.ActionPreConnection && len(serverAddrs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: %s requires --server\n", action)
			os.Exit(2)
		}
		reqs = append(reqs, killswitch.Request{Action: action, ServerAddresses: serverAddrs})
	}

	requireRoot()
	cfg, log := loadConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator, closeSession, err := openSession(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session: %v\n", err)
		os.Exit(1)
	}

	errs := runQueued(ctx, stop, killswitch.StopOnFailure(orchestrator), log, reqs)
	closeSession()

	code := 0
	for i, err := range errs {
		switch {
		case err == nil:
			fmt.Printf("%s: ok\n", reqs[i].Action)
		case errors.Is(err, killswitch.ErrSkipped), errors.Is(err, context.Canceled):
			fmt.Printf("%s: skipped\n", reqs[i].Action)
		default:
			fmt.Printf("%s: failed: %v\n", reqs[i].Action, err)
			if code == 0 {
				code = exitCode(err)
			}
		}
	}
	if code == 0 && ctx.Err() != nil {
		code = 130
	}
	os.Exit(code)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, exclusion.ErrInvalidAddress), errors.Is(err, killswitch.ErrUnsupportedAction):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
