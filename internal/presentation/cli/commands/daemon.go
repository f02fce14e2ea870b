package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/schoolsync/internal/application"
	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/config"
)

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Watch connectivity and sync automatically",
		Long: `Run in the foreground, tracking whether the API is reachable and
replaying queued changes whenever the connection returns, on a regular
heartbeat, and shortly after startup.

Connectivity comes from the health probe and, when configured, the
realtime channel. Edits to the config file's API base URL take effect
without a restart. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print sync events")

	return cmd
}

func runDaemon(cmd *cobra.Command, quiet bool) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	formatter := GetFormatter()

	if !quiet {
		unsubscribe := container.API().OnSyncChange(func(e events.Event) {
			_ = formatter.Event(e)
		})
		defer unsubscribe()
	}

	g, gctx := errgroup.WithContext(ctx)

	if probe := container.Probe(); probe != nil && !globalFlags.Offline {
		g.Go(func() error { return probe.Run(gctx) })
	}
	if presence := container.Presence(); presence != nil && !globalFlags.Offline {
		g.Go(func() error { return presence.Run(gctx) })
	}
	if w := configWatcher(container); w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}

	container.API().SetupAutoSync(gctx)
	if !formatter.IsJSON() {
		formatter.Info("Watching %s (%d change(s) queued). Press Ctrl-C to stop.",
			container.BaseURL().BaseURL(), container.API().PendingSyncCount(ctx))
	}

	g.Go(func() error {
		<-gctx.Done()
		container.Monitor().Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

// configWatcher returns a watcher for the loaded config file, or nil when
// there is no file to watch.
func configWatcher(container *application.Container) *config.Watcher {
	app := GetAppContext()
	if app == nil || app.ConfigPath == "" {
		return nil
	}
	if _, err := os.Stat(app.ConfigPath); err != nil {
		return nil
	}

	loader, err := config.NewLoader("")
	if err != nil {
		return nil
	}
	return config.NewWatcher(app.ConfigPath, loader, container.ApplyConfig,
		config.WithWatcherLogger(container.Logger()))
}

