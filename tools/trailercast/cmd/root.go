package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/perpetuallyhorni/trailercast/pkg/client"
	"github.com/perpetuallyhorni/trailercast/tools/trailercast/internal/cli"
	cliconfig "github.com/perpetuallyhorni/trailercast/tools/trailercast/internal/config"
	"github.com/perpetuallyhorni/trailercast/tools/trailercast/internal/update"
	"github.com/spf13/cobra"
)

var (
	cfg        *cliconfig.Config
	appClient  *client.Client
	console    *cli.Console
	fileLogger *log.Logger
	// stores holds the quota and history backends opened for this run.
	stores     *backends
	stopPacers = func() {}

	flagConfigPath string
	flagQuiet      bool

	// version is set at build time.
	version = "dev"
)

// SetVersion records the build version shown by --version and used for update checks.
func SetVersion(v string) {
	version = v
	if rootCmd != nil {
		rootCmd.Version = v
	}
}

var rootCmd = &cobra.Command{
	Use:   "trailercast",
	Short: "Publish trailers to Instagram, Facebook, TikTok and X.",
	Long: `Publish trailers to Instagram, Facebook, TikTok and X while staying inside
each platform's posting limits.

For example:
  trailercast publish https://cdn.example.com/trailer.mp4 -t instagram_reels,tiktok,x --caption "Out now"
  trailercast quota
  trailercast serve --listen 127.0.0.1:8080`,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

// setup wires config, logging, storage and the client for commands that publish or read state.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "completion" || cmd.Name() == cobra.ShellCompRequestCmd || needsNoClient(cmd) {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var err error
	if fileLogger, err = setupFileLogger(cfg); err != nil {
		return fmt.Errorf("failed to set up file logger: %w", err)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		fileLogger.SetOutput(io.MultiWriter(fileLogger.Writer(), os.Stderr))
	}

	if stores, err = openBackends(cmd.Context(), cfg); err != nil {
		return err
	}
	adapters, stop, err := client.BuildAdapters(&cfg.Config, stores.quota, fileLogger, client.BuildOptions{Debug: debug})
	if err != nil {
		return fmt.Errorf("failed to build platform adapters: %w", err)
	}
	stopPacers = stop
	if appClient, err = client.New(&cfg.Config, stores.history, fileLogger, adapters...); err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if cfg.TestMode {
		console.Warn("Test mode is on: no platform API will be called.")
	}
	if cfg.CheckForUpdates {
		notifyUpdate()
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	stopPacers()
	if stores == nil {
		return nil
	}
	return stores.Close()
}

// needsNoClient reports whether cmd, or a parent of it, only touches files on disk.
func needsNoClient(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "edit", "update":
			return true
		}
	}
	return false
}

func notifyUpdate() {
	latest, err := update.CheckForUpdate(version)
	switch {
	case err != nil:
		console.Warn("Update check failed: %v", err)
	case latest == "":
	case cfg.AutoUpdate:
		console.Info("Installing trailercast %s...", latest)
		if err := update.ApplyUpdate(console, version); err != nil {
			console.Error("Auto-update failed: %v", err)
		}
		// The running process is the old binary either way.
		os.Exit(0)
	default:
		console.Warn("trailercast %s is available. Run 'trailercast update' to upgrade.", console.Bold.Sprint(latest))
	}
}

// loadConfig runs before every command, after flags are parsed.
func loadConfig() {
	if flagQuiet {
		console = cli.New(true)
	}
	var err error
	if cfg, err = cliconfig.Load(flagConfigPath); err != nil {
		console.Error("Error loading config: %v", err)
		os.Exit(1)
	}
	applyFlagOverrides(rootCmd, cfg)
}

func init() {
	console = cli.New(false)
	cobra.OnInitialize(loadConfig)

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	f := rootCmd.PersistentFlags()
	f.StringVarP(&flagConfigPath, "config", "c", "", "Path to config file")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "Only print errors")
	f.Bool("debug", false, "Mirror the log file to stderr")
	f.Bool("test-mode", false, "Return mock ids without calling any platform API")
	f.IntP("workers", "w", 0, "Targets published in parallel")
	f.String("tier", "", `X API tier: free, basic, pro or enterprise`)
	f.String("quota-backend", "", `Quota counter backend: sqlite, redis or memory`)
	f.String("redis-url", "", "Redis URL for the redis quota backend")
	f.String("db", "", "Path to the SQLite database")
	f.String("bind", "", "Outbound IP address or interface to bind to")

	rootCmd.AddCommand(publishCmd, quotaCmd, historyCmd, serveCmd, validateCmd, editCmd, updateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
