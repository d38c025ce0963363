package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropwatch-go/internal/app"
	"dropwatch-go/internal/config"
	"dropwatch-go/internal/core"
	"dropwatch-go/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: 2 for fatal
// configuration/auth problems (bad cron, missing or rejected credentials,
// unwritable data dir), 3 when a run found no prior-day snapshot to diff
// against (informational, not a failure), 1 for anything else.
func exitCode(err error) int {
	var cfgErr *core.ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	var missingBaseline *core.MissingBaselineError
	if errors.As(err, &missingBaseline) {
		return 3
	}
	return 1
}

// newApp reads the config file and wires a DropwatchApp. The caller must
// defer app.Close(). operation identifies the CLI command being run, and
// is stamped into every log line the run emits.
func newApp(operation string, opts app.Options) (*app.DropwatchApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, &core.ConfigError{Msg: "reading config", Err: err}
	}

	a, err := app.New(cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "dropwatch",
	Short: "CZDS zone-drop detection pipeline",
}

// config commands

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the session-cache key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID:  %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		passphrase, err := promptNewPassphrase("Session-cache passphrase (protects the cached CZDS token at rest)")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if passphrase == "" {
			fmt.Println("Skipped session-cache key setup; CZDS will re-authenticate every run.")
			return nil
		}

		encryptor := encryption.NewAgeEncryptor(cfg.Encryption)
		if err := encryptor.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up session-cache key pair: %w", err)
		}
		fmt.Printf("Session-cache key pair written to %s / %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return &core.ConfigError{Msg: "reading config", Err: err}
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:        %s\n", cfg.HostID)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Zone Store:     %s\n", cfg.ZoneStore.Type)
		fmt.Printf("Database:       %s\n", cfg.Database.Type)
		fmt.Printf("CZDS Base URL:  %s\n", cfg.CZDS.BaseURL)
		fmt.Printf("Worker Count:   %d\n", cfg.Scheduler.WorkerCount)
		fmt.Printf("Poll Interval:  %s\n", cfg.Scheduler.PollInterval)
		return nil
	},
}

// tld commands

var tldCmd = &cobra.Command{
	Use:   "tld",
	Short: "Manage tracked top-level domains",
}

var tldAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Start tracking a TLD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AddTLD", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Database().UpsertTLD(cmd.Context(), core.TLD{Name: args[0], IsActive: true}); err != nil {
			return fmt.Errorf("adding tld: %w", err)
		}
		fmt.Printf("Tracking TLD: %s\n", args[0])
		return nil
	},
}

var tldListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked TLDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active-only")

		a, err := newApp("ListTLDs", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		tlds, err := a.Database().ListTLDs(cmd.Context(), activeOnly)
		if err != nil {
			return err
		}
		if len(tlds) == 0 {
			fmt.Println("No TLDs tracked.")
			return nil
		}
		for _, t := range tlds {
			status := "disabled"
			if t.IsActive {
				status = "active"
			}
			lastImport := "never"
			if t.LastImportDate != nil {
				lastImport = t.LastImportDate.String()
			}
			fmt.Printf("%-20s %-10s last_import=%-12s last_drops=%d\n", t.Name, status, lastImport, t.LastDropCount)
		}
		return nil
	},
}

var tldEnableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Enable a disabled TLD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return setTLDActive(cmd, args[0], true) },
}

var tldDisableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Disable a tracked TLD",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return setTLDActive(cmd, args[0], false) },
}

func setTLDActive(cmd *cobra.Command, name string, active bool) error {
	a, err := newApp("SetTLDActive", app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Database().SetTLDActive(cmd.Context(), name, active); err != nil {
		return fmt.Errorf("updating tld: %w", err)
	}
	verb := "disabled"
	if active {
		verb = "enabled"
	}
	fmt.Printf("%s: %s\n", name, verb)
	return nil
}

// job commands

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage per-TLD cron jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add TLD KIND SCHEDULE",
	Short: "Schedule a job (kind: ingest, parse, detect, full; schedule: 5-field cron)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")

		a, err := newApp("AddJob", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		kind := core.JobKind(args[1])
		id, err := a.Database().CreateJob(cmd.Context(), core.Job{
			TLD:       args[0],
			Kind:      kind,
			Schedule:  args[2],
			IsEnabled: true,
			Priority:  priority,
		})
		if err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		fmt.Printf("Created job #%d: %s %s %q\n", id, args[0], kind, args[2])
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListJobs", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.Database().ListEnabledJobs(cmd.Context())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No enabled jobs.")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("#%-4d %-20s %-8s %-15s priority=%d\n", j.ID, j.TLD, j.Kind, j.Schedule, j.Priority)
		}
		return nil
	},
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return setJobEnabled(cmd, args[0], true) },
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return setJobEnabled(cmd, args[0], false) },
}

func setJobEnabled(cmd *cobra.Command, idArg string, enabled bool) error {
	var id int64
	if _, err := fmt.Sscanf(idArg, "%d", &id); err != nil {
		return fmt.Errorf("invalid job id %q: %w", idArg, err)
	}

	a, err := newApp("SetJobEnabled", app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Database().SetJobEnabled(cmd.Context(), id, enabled); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	fmt.Printf("job #%d %s\n", id, verb)
	return nil
}

// ingest, catch-up, replay, serve

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion cycle for a TLD immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		tld, _ := cmd.Flags().GetString("tld")
		dateStr, _ := cmd.Flags().GetString("date")
		kindStr, _ := cmd.Flags().GetString("kind")
		if tld == "" {
			return &core.ConfigError{Msg: "--tld is required"}
		}

		date, err := resolveDate(dateStr)
		if err != nil {
			return err
		}

		passphrase := promptExistingPassphrase()
		a, err := newApp("Ingest", app.Options{EncryptionPassphrase: passphrase})
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.RunOnce(cmd.Context(), tld, core.JobKind(kindStr), date)
		if err != nil {
			var missingBaseline *core.MissingBaselineError
			if errors.As(err, &missingBaseline) {
				fmt.Println(missingBaseline.Error())
				os.Exit(3)
			}
			return err
		}
		printStats(tld, date, stats)
		return nil
	},
}

var catchUpCmd = &cobra.Command{
	Use:   "catch-up",
	Short: "Run every currently-due catch-up ticket synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		horizon, _ := cmd.Flags().GetInt("horizon")

		passphrase := promptExistingPassphrase()
		a, err := newApp("CatchUp", app.Options{EncryptionPassphrase: passphrase})
		if err != nil {
			return err
		}
		defer a.Close()

		if horizon > 0 {
			a.SetCatchUpHorizon(horizon)
		}
		if err := a.RunCatchUp(cmd.Context()); err != nil {
			return fmt.Errorf("catch-up failed: %w", err)
		}
		fmt.Println("Catch-up complete.")
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a zone file from a local directory instead of CZDS",
	RunE: func(cmd *cobra.Command, args []string) error {
		tld, _ := cmd.Flags().GetString("tld")
		dateStr, _ := cmd.Flags().GetString("date")
		kindStr, _ := cmd.Flags().GetString("kind")
		from, _ := cmd.Flags().GetString("from")
		if tld == "" || from == "" {
			return &core.ConfigError{Msg: "--tld and --from are required"}
		}

		date, err := resolveDate(dateStr)
		if err != nil {
			return err
		}

		a, err := newApp("Replay", app.Options{LocalZoneDir: from})
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.RunOnce(cmd.Context(), tld, core.JobKind(kindStr), date)
		if err != nil {
			var missingBaseline *core.MissingBaselineError
			if errors.As(err, &missingBaseline) {
				fmt.Println(missingBaseline.Error())
				os.Exit(3)
			}
			return err
		}
		printStats(tld, date, stats)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase := promptExistingPassphrase()
		a, err := newApp("Serve", app.Options{EncryptionPassphrase: passphrase})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("dropwatch serving; Ctrl-C to stop.")
		return a.Serve(ctx)
	},
}

func resolveDate(s string) (core.Date, error) {
	if s == "" {
		return core.NewDate(time.Now()), nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, &core.ConfigError{Msg: fmt.Sprintf("invalid --date %q, want YYYY-MM-DD", s), Err: err}
	}
	return d, nil
}

func printStats(tld string, date core.Date, stats core.RunStats) {
	fmt.Printf("%s %s: downloaded=%d labels=%d drops_detected=%d drops_inserted=%d\n",
		tld, date, stats.BytesDownloaded, stats.LabelsParsed, stats.DropsDetected, stats.DropsInserted)
}

// promptNewPassphrase asks twice and requires the two entries to match,
// the way a key-setup wizard does. An empty first entry skips setup.
func promptNewPassphrase(label string) (string, error) {
	fmt.Printf("%s: ", label)
	first := readPassword()
	if first == "" {
		return "", nil
	}
	fmt.Print("Confirm: ")
	second := readPassword()
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

// promptExistingPassphrase reads a passphrase to unlock an already-configured
// session cache. It never fails: an empty result just means the CZDS client
// re-authenticates every run instead of reusing a cached token.
func promptExistingPassphrase() string {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ""
	}
	fmt.Print("Session-cache passphrase (blank to skip): ")
	return readPassword()
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword() string {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil {
			return string(password)
		}
	}
	var line string
	fmt.Scanln(&line)
	return line
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	tldCmd.AddCommand(tldAddCmd)
	tldCmd.AddCommand(tldListCmd)
	tldListCmd.Flags().Bool("active-only", false, "Only show active TLDs")
	tldCmd.AddCommand(tldEnableCmd)
	tldCmd.AddCommand(tldDisableCmd)

	jobCmd.AddCommand(jobAddCmd)
	jobAddCmd.Flags().Int("priority", 0, "Lower runs first within the same dispatch tick")
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobEnableCmd)
	jobCmd.AddCommand(jobDisableCmd)

	ingestCmd.Flags().String("tld", "", "TLD to ingest")
	ingestCmd.Flags().String("date", "", "Target date, YYYY-MM-DD (default: today)")
	ingestCmd.Flags().String("kind", string(core.JobFull), "ingest, parse, detect, or full")

	catchUpCmd.Flags().Int("horizon", 0, "Override the configured catch-up horizon in days")

	replayCmd.Flags().String("tld", "", "TLD to replay")
	replayCmd.Flags().String("date", "", "Target date, YYYY-MM-DD (default: today)")
	replayCmd.Flags().String("kind", string(core.JobFull), "ingest, parse, detect, or full")
	replayCmd.Flags().String("from", "", "Local directory containing <tld>.zone files")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tldCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(catchUpCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
}
