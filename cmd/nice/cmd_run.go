package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mindwolf80/nice/internal/aggregate"
	"github.com/mindwolf80/nice/internal/device"
	"github.com/mindwolf80/nice/internal/engine"
	"github.com/mindwolf80/nice/internal/extract"
	"github.com/mindwolf80/nice/internal/inventory"
	"github.com/mindwolf80/nice/internal/logging"
	"github.com/mindwolf80/nice/internal/runner"
	"github.com/mindwolf80/nice/internal/shell"
)

type runFlags struct {
	inventoryPath string
	hosts         []string
	commands      []string
	dialect       string
	port          int
	configMode    bool

	workers     int
	batchSize   int
	retryBudget time.Duration
	serial      bool
	delay       time.Duration
	confirm     bool

	username     string
	enableSecret string
	group        bool
	limit        []string
	extractName  string
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute command sequences against devices",
		Long: `Execute command sequences against devices, either from an inventory file
or ad-hoc via --host and --command. Devices are processed in batches
through a bounded worker pool; interrupt once to stop gracefully, twice
to force-close every session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), &f)
		},
	}

	cmd.Flags().StringVarP(&f.inventoryPath, "inventory", "i", "", "inventory YAML file")
	cmd.Flags().StringSliceVar(&f.hosts, "host", nil, "ad-hoc target host (repeatable, CIDR allowed)")
	cmd.Flags().StringArrayVarP(&f.commands, "command", "c", nil, "command to run ad-hoc (repeatable, ordered)")
	cmd.Flags().StringVar(&f.dialect, "dialect", device.DialectLinux.String(), "device dialect for ad-hoc hosts")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port for ad-hoc hosts (0 = ssh_config, then 22)")
	cmd.Flags().BoolVar(&f.configMode, "config-mode", false, "apply ad-hoc commands as one configuration batch")

	cmd.Flags().IntVar(&f.workers, "workers", 0, "max concurrent devices per batch (0 = inventory default)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "devices per batch (0 = inventory default)")
	cmd.Flags().DurationVar(&f.retryBudget, "retry-budget", 0, "total connect-retry budget per device (0 = inventory default)")
	cmd.Flags().BoolVar(&f.serial, "serial", false, "run devices one at a time")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "pause between devices in serial mode")
	cmd.Flags().BoolVar(&f.confirm, "confirm", false, "ask before each device in serial mode")

	cmd.Flags().StringVarP(&f.username, "username", "u", "", "login username (overrides NICE_USERNAME)")
	cmd.Flags().StringVar(&f.enableSecret, "enable-secret", "", "privileged-mode secret (login password when empty)")
	cmd.Flags().BoolVar(&f.group, "group", false, "group identical outputs per command after the run")
	cmd.Flags().StringSliceVar(&f.limit, "limit", nil, "only run devices whose host or name matches the glob (repeatable)")
	cmd.Flags().StringVar(&f.extractName, "extract", "", "apply the named inventory extract rules and print the table")

	return cmd
}

func runRun(ctx context.Context, f *runFlags) error {
	log, err := logging.New(logging.Config{Debug: debugFlag, Format: formatFlag})
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	creds, err := resolveCredentials(f)
	if err != nil {
		return err
	}

	targets, err := cfg.Targets(creds)
	if err != nil {
		return err
	}
	targets, err = inventory.FilterTargets(targets, f.limit)
	if err != nil {
		return err
	}

	var extractor *extract.Extractor
	if f.extractName != "" {
		rules, ok := cfg.Extracts[f.extractName]
		if !ok {
			return fmt.Errorf("inventory defines no extract named %q", f.extractName)
		}
		if extractor, err = extract.New(rules); err != nil {
			return err
		}
	}

	gateway := &engine.ShellGateway{
		Timeouts: shell.Timeouts{
			PortCheck: cfg.Defaults.PortCheckTimeout.Duration,
			Connect:   cfg.Defaults.ConnectTimeout.Duration,
			Command:   cfg.Defaults.CommandTimeout.Duration,
		},
		Log: log,
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMaxWorkers(pick(f.workers, cfg.Defaults.Workers)),
		engine.WithBatchSize(pick(f.batchSize, cfg.Defaults.BatchSize)),
		engine.WithBatchCallback(func(b engine.BatchOutcome) {
			fmt.Fprintf(os.Stderr, "batch %d/%d done: %d ok, %d failed, %d skipped\n",
				b.Batch, b.Batches, b.Completed, b.Failed, b.Skipped)
		}),
	}
	if f.retryBudget > 0 {
		opts = append(opts, engine.WithRetryBudget(f.retryBudget))
	} else if cfg.Defaults.RetryBudget.Duration > 0 {
		opts = append(opts, engine.WithRetryBudget(cfg.Defaults.RetryBudget.Duration))
	}
	if f.serial {
		pacing := engine.Pacing{Mode: engine.PacingSerial, Delay: f.delay}
		if f.confirm {
			pacing.Confirm = confirmDevice
		}
		opts = append(opts, engine.WithPacing(pacing))
	}

	run, err := engine.New(gateway, opts...).Run(ctx, targets, nil)
	if err != nil {
		return err
	}

	stopSignals := watchInterrupts(run)
	defer stopSignals()

	collector := aggregate.NewCollector()
	for res := range run.Results() {
		collector.Add(res)
		printResult(res)
	}
	summary := run.Wait()

	if f.group {
		printGroups(collector)
	}
	if extractor != nil {
		fmt.Println()
		fmt.Print(extract.FormatTable(extractor.FromResults(collector.All())))
	}
	printSummary(summary)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d devices failed", summary.Failed, summary.Attempted)
	}
	return nil
}

// loadConfig builds the run configuration from the inventory file or from
// the ad-hoc host/command flags.
func loadConfig(f *runFlags) (*inventory.Config, error) {
	if f.inventoryPath != "" {
		if len(f.hosts) > 0 || len(f.commands) > 0 {
			return nil, fmt.Errorf("--inventory cannot be combined with --host/--command")
		}
		return inventory.Load(f.inventoryPath)
	}

	if len(f.hosts) == 0 {
		return nil, fmt.Errorf("either --inventory or --host is required")
	}
	if len(f.commands) == 0 {
		return nil, fmt.Errorf("ad-hoc runs need at least one --command")
	}

	cfg := inventory.DefaultConfig()
	cfg.Defaults.Dialect = f.dialect
	if f.port > 0 {
		cfg.Defaults.Port = f.port
	}
	for _, h := range f.hosts {
		cfg.Devices = append(cfg.Devices, inventory.Row{
			Address:    h,
			Commands:   strings.Join(f.commands, "\n"),
			ConfigMode: f.configMode,
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveCredentials combines flags, environment, and interactive prompts.
// The password is never accepted as a flag.
func resolveCredentials(f *runFlags) (inventory.Credentials, error) {
	creds := inventory.CredentialsFromEnv()
	if f.username != "" {
		creds.Username = f.username
	}
	creds.EnableSecret = f.enableSecret

	if creds.Username == "" {
		fmt.Fprint(os.Stderr, "Username: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return creds, fmt.Errorf("reading username: %w", err)
		}
		creds.Username = strings.TrimSpace(line)
	}
	if creds.Username == "" {
		return creds, fmt.Errorf("username is required")
	}

	if creds.Password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", creds.Username)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return creds, fmt.Errorf("reading password: %w", err)
		}
		creds.Password = string(pw)
	}
	if creds.Password == "" {
		return creds, fmt.Errorf("password is required")
	}
	return creds, nil
}

// watchInterrupts maps the first interrupt to a graceful cancel and the
// second to a forceful abort. The returned stop function releases the
// signal handler.
func watchInterrupts(run *engine.Run) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nstopping after in-flight commands (interrupt again to force)")
			run.Cancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nforce-closing all sessions")
			run.Abort()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func confirmDevice(ctx context.Context, next device.Target) error {
	fmt.Fprintf(os.Stderr, "Proceed to %s? [y/N] ", next.Key())
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return fmt.Errorf("declined at %s", next.Key())
	}
}

func printResult(res runner.Result) {
	label := res.Host
	if res.Name != "" {
		label = fmt.Sprintf("%s (%s)", res.Host, res.Name)
	}
	fmt.Printf("=== %s | %s | %s\n", label, res.Command, res.Status)
	if res.Err != nil {
		fmt.Printf("    %v\n", res.Err)
	}
	if out := strings.TrimRight(res.Output, "\n"); out != "" {
		fmt.Println(out)
	}
}

func printGroups(collector *aggregate.Collector) {
	all := collector.All()
	for _, command := range collector.Commands() {
		gr := aggregate.GroupCommand(all, command)
		fmt.Printf("\n=== %s\n", command)
		for _, g := range gr.Groups {
			tag := "outlier"
			if g.IsNorm {
				tag = "norm"
			}
			fmt.Printf("--- %d device(s), %s [%s]: %s\n",
				len(g.Hosts), tag, g.Status, strings.Join(g.Hosts, ", "))
			if g.IsNorm {
				if out := strings.TrimRight(g.Output, "\n"); out != "" {
					fmt.Println(out)
				}
			} else if g.Diff != "" {
				fmt.Print(g.Diff)
			}
		}
		for _, r := range gr.Failed {
			fmt.Printf("--- failed: %s (%v)\n", r.Host, r.Err)
		}
		for _, r := range gr.Skipped {
			fmt.Printf("--- skipped: %s\n", r.Host)
		}
	}
}

func printSummary(s engine.Summary) {
	fmt.Printf("\nrun %s: %d attempted, %d succeeded, %d failed, %d skipped in %s\n",
		s.RunID, s.Attempted, s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	switch {
	case s.Aborted:
		fmt.Println("run was force-aborted")
	case s.Cancelled:
		fmt.Println("run was cancelled")
	}
}

func pick(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}
