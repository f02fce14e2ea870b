// Package commands implements the CLI commands for schoolsync.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/application"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/schoolsync/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
	Offline    bool
}

// AppContext holds the application runtime context.
type AppContext struct {
	Config     *config.Config
	ConfigPath string
	Formatter  *output.Formatter
	Flags      *GlobalFlags
	Container  *application.Container
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex // Protects appCtx for thread-safe access
)

// skipInit lists commands that run without the application container.
var skipInit = map[string]bool{
	"help":       true,
	"version":    true,
	"completion": true,
	"config":     true,
}

// NewRootCmd creates the root command for the schoolsync CLI.
func NewRootCmd() *cobra.Command {
	globalFlags = GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "schoolsync",
		Short: "Schoolsync - offline-first client for the school API",
		Long: `Schoolsync talks to the school-management API and keeps working
without a network connection.

Reads are cached on the device and served from the cache while offline.
Writes made while offline are queued and replayed in order once the
connection returns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for c := cmd; c != nil; c = c.Parent() {
				if skipInit[c.Name()] {
					return nil
				}
			}
			return initializeApp(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeApp()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: ~/.schoolsync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Offline, "offline", false, "treat the device as offline for this command")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewGetCmd())
	rootCmd.AddCommand(NewSendCmd())
	rootCmd.AddCommand(NewQueueCmd())
	rootCmd.AddCommand(NewSyncCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewLoginCmd())
	rootCmd.AddCommand(NewLogoutCmd())
	rootCmd.AddCommand(NewDaemonCmd())
	rootCmd.AddCommand(NewShellCmd())

	return rootCmd
}

// newFormatter builds a formatter for the global output flag writing to the
// command's output stream.
func newFormatter(cmd *cobra.Command) (*output.Formatter, error) {
	format, err := output.ParseFormat(globalFlags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewFormatter(
		output.WithWriter(cmd.OutOrStdout()),
		output.WithFormat(format),
		output.WithColor(format != output.FormatJSON && output.IsColorSupported()),
	), nil
}

// initializeApp initializes the application context.
func initializeApp(cmd *cobra.Command) error {
	// PersistentPostRunE does not run after a failed command.
	_ = closeApp()

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}

	cfg, path, err := loadConfig(globalFlags.ConfigFile)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	container, err := application.NewContainer(cfg, globalFlags.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	if globalFlags.Offline {
		container.Connectivity().SetOnline(false)
	}
	if storeErr := container.StoreError(); storeErr != nil && globalFlags.Verbose {
		formatter.Warning("Local storage unavailable, changes will not survive a restart: %v", storeErr)
	}

	appCtxMu.Lock()
	appCtx = &AppContext{
		Config:     cfg,
		ConfigPath: path,
		Formatter:  formatter,
		Flags:      &globalFlags,
		Container:  container,
	}
	appCtxMu.Unlock()

	return nil
}

// loadConfig loads configuration from the specified file or default
// location and returns it with the path it was read from.
func loadConfig(configPath string) (*config.Config, string, error) {
	loader, err := config.NewLoader("")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create config loader: %w", err)
	}

	if configPath == "" {
		configPath = loader.DefaultConfigPath()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, "", fmt.Errorf("config file: %w", err)
	}

	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, configPath, nil
}

// closeApp releases the container and clears the application context.
func closeApp() error {
	appCtxMu.Lock()
	ctx := appCtx
	appCtx = nil
	appCtxMu.Unlock()

	if ctx == nil || ctx.Container == nil {
		return nil
	}
	return ctx.Container.Close()
}

// GetAppContext returns the current application context.
// Returns nil if the app hasn't been initialized.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter.
// Creates a default formatter if app context is not initialized.
func GetFormatter() *output.Formatter {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Formatter
	}
	return output.NewFormatter(output.WithColor(output.IsColorSupported()))
}

// GetContainer returns the application container.
// Returns nil if the app hasn't been initialized.
func GetContainer() *application.Container {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Container
	}
	return nil
}

// requireContainer returns the container or an error when it is missing.
func requireContainer() (*application.Container, error) {
	c := GetContainer()
	if c == nil {
		return nil, errors.New("application container not initialized")
	}
	return c, nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so long-running commands can shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	_ = closeApp()

	if err != nil {
		formatter := output.NewFormatter(
			output.WithWriter(os.Stderr),
			output.WithColor(output.IsColorSupported()),
		)
		formatter.Error("%s", err.Error())
		stop()
		os.Exit(1)
	}
	if ctx.Err() != nil {
		stop()
		os.Exit(130) // Standard exit code for SIGINT
	}
}
