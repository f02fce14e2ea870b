package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes now",
		Long: `Send every queued change to the server in the order it was made.

Changes the server rejects as invalid are dropped with a warning in the
log. Changes that fail for any other reason stay queued for the next run.`,
		Example: `  # Replay now
  schoolsync sync

  # Probe the API first and skip the run when it is unreachable
  schoolsync sync --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, check)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "probe the API health endpoint before syncing")

	return cmd
}

func runSync(cmd *cobra.Command, check bool) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if check && container.Probe() != nil {
		container.Probe().Check(ctx)
	}

	formatter := GetFormatter()
	run, err := container.API().ProcessQueue(ctx)
	switch {
	case errors.Is(err, domainErrors.ErrOffline):
		pending := container.API().PendingSyncCount(ctx)
		if formatter.IsJSON() {
			return formatter.JSON(map[string]any{"offline": true, "pending": pending})
		}
		return formatter.Warning("Offline: %d change(s) waiting to sync", pending)
	case errors.Is(err, domainErrors.ErrDrainInProgress):
		return formatter.Info("A sync is already running")
	case err != nil:
		return fmt.Errorf("sync: %w", err)
	}

	return formatter.RunSummary(run)
}
