package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/application"
	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	"github.com/jbctechsolutions/schoolsync/internal/application/syncengine"
	"github.com/jbctechsolutions/schoolsync/internal/presentation/cli/output"
)

// SystemStatus is the device's sync state.
type SystemStatus struct {
	Online         bool                   `json:"online"`
	BaseURL        string                 `json:"base_url"`
	Pending        int                    `json:"pending"`
	CacheEntries   int                    `json:"cache_entries"`
	StoreAvailable bool                   `json:"store_available"`
	StoreDriver    string                 `json:"store_driver"`
	User           string                 `json:"user,omitempty"`
	SessionExpired bool                   `json:"session_expired,omitempty"`
	LastRun        *syncengine.RunSummary `json:"last_run,omitempty"`
	ConfigPath     string                 `json:"config_path,omitempty"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue and session state",
		Long: `Display the sync state of this device: whether the API is reachable,
how many changes are waiting, how many responses are saved, and who is
signed in.`,
		Example: `  # Show status
  schoolsync status

  # Probe the API before reporting
  schoolsync status --check

  # Get status as JSON for scripting
  schoolsync status -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, check)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "probe the API health endpoint")

	return cmd
}

func runStatus(cmd *cobra.Command, check bool) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if check && container.Probe() != nil {
		container.Probe().Check(ctx)
	}

	status := getSystemStatus(ctx, container)
	if app := GetAppContext(); app != nil {
		status.ConfigPath = app.ConfigPath
	}

	formatter := GetFormatter()
	if formatter.IsJSON() {
		return formatter.JSON(status)
	}

	formatter.Header("Schoolsync Status")
	formatter.Item("Connectivity", formatter.OnlineLabel(status.Online))
	formatter.Item("API", status.BaseURL)
	formatter.Item("Pending changes", fmt.Sprintf("%d", status.Pending))
	formatter.Item("Saved responses", fmt.Sprintf("%d", status.CacheEntries))

	storage := status.StoreDriver
	if !status.StoreAvailable {
		storage += " " + formatter.Colorize("(unavailable)", output.ColorRed)
	}
	formatter.Item("Storage", storage)

	switch {
	case status.User == "":
		formatter.Item("Signed in", formatter.Dim("no"))
	case status.SessionExpired:
		formatter.Item("Signed in", status.User+" "+formatter.Dim("(token expired)"))
	default:
		formatter.Item("Signed in", status.User)
	}

	if status.LastRun != nil {
		formatter.Item("Last sync", fmt.Sprintf("%s ago, synced %d, dropped %d",
			time.Since(status.LastRun.StartedAt).Round(time.Second), status.LastRun.Synced, status.LastRun.Failed))
	}
	if status.ConfigPath != "" {
		formatter.Item("Config", status.ConfigPath)
	}

	return nil
}

// getSystemStatus collects the status from the container.
func getSystemStatus(ctx context.Context, container *application.Container) SystemStatus {
	status := SystemStatus{
		Online:         container.Connectivity().IsOnline(),
		BaseURL:        container.BaseURL().BaseURL(),
		Pending:        container.API().PendingSyncCount(ctx),
		StoreAvailable: container.Store().Available(),
		StoreDriver:    container.Config().Storage.Driver,
	}

	if n, err := container.Store().Count(ctx, ports.TableCache); err == nil {
		status.CacheEntries = n
	}

	sessions := container.SessionManager()
	if rec, ok := sessions.Current(ctx); ok {
		status.User = rec.UserID
		if status.User == "" {
			status.User = "(unknown user)"
		}
		status.SessionExpired = sessions.Expired(ctx)
	}

	if run, ok := container.Engine().LastRun(); ok {
		status.LastRun = &run
	}

	return status
}
