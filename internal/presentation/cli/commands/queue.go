package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
)

// NewQueueCmd creates the queue command and its subcommands.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Inspect changes waiting to sync",
		Long: `List the changes saved on this device that have not reached the
server yet, oldest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd)
		},
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueClearCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued changes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd)
		},
	}
}

func newQueueClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued change",
		Long: `Discard every change waiting to sync. The changes are lost; they
will not reach the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to discard queued changes without --force")
			}
			return runQueueClear(cmd)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "confirm discarding queued changes")

	return cmd
}

func runQueueList(cmd *cobra.Command) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	items, err := container.Queue().List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing queue: %w", err)
	}
	return GetFormatter().Mutations(items)
}

func runQueueClear(cmd *cobra.Command) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	n := container.Queue().PendingCount(ctx)
	if err := container.Store().Clear(ctx, ports.TableMutations); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}

	formatter := GetFormatter()
	if formatter.IsJSON() {
		return formatter.JSON(map[string]int{"discarded": n})
	}
	return formatter.Success("Discarded %d queued change(s)", n)
}
