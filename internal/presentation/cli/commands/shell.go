package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/application"
	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/presentation/cli/output"
)

// NewShellCmd creates the interactive shell command.
func NewShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with automatic sync",
		Long: `Start an interactive session against the school API.

Automatic sync runs in the background while the shell is open and sync
events are printed as they happen. Type help for the list of commands.`,
		Args: cobra.NoArgs,
		RunE: runShell,
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	formatter := GetFormatter()
	sh := &shellSession{container: container, formatter: formatter}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "schoolsync> ",
		HistoryFile:     filepath.Join(container.Config().DataDir(), "shell_history"),
		AutoComplete:    shellCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("could not create readline: %w", err)
	}
	defer rl.Close()

	unsubscribe := container.API().OnSyncChange(func(e events.Event) {
		_ = formatter.Event(e)
		rl.Refresh()
	})
	defer unsubscribe()

	if probe := container.Probe(); probe != nil && !globalFlags.Offline {
		go func() { _ = probe.Run(ctx) }()
	}
	container.API().SetupAutoSync(ctx)

	formatter.Info("Connected to %s. Type help for commands.", container.BaseURL().BaseURL())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		exit, err := sh.exec(ctx, line)
		if err != nil {
			formatter.Error("%s", err.Error())
		}
		if exit {
			break
		}
	}

	return nil
}

func shellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("get"),
		readline.PcItem("post"),
		readline.PcItem("put"),
		readline.PcItem("patch"),
		readline.PcItem("delete"),
		readline.PcItem("sync"),
		readline.PcItem("status"),
		readline.PcItem("queue"),
		readline.PcItem("online"),
		readline.PcItem("offline"),
		readline.PcItem("login"),
		readline.PcItem("logout"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// shellSession executes shell lines against the container.
type shellSession struct {
	container *application.Container
	formatter *output.Formatter
}

// exec runs one line. It reports whether the shell should exit.
func (s *shellSession) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	api := s.container.API()
	f := s.formatter
	verb, rest := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "exit", "quit":
		return true, nil

	case "help":
		f.Header("Commands")
		f.Item("get <path> [key=value ...]", "read a resource")
		f.Item("post|put|patch <path> <json>", "write a resource")
		f.Item("delete <path>", "delete a resource")
		f.Item("sync", "replay queued changes now")
		f.Item("queue", "list queued changes")
		f.Item("status", "show connectivity and queue state")
		f.Item("online | offline", "override connectivity")
		f.Item("login <token> | logout", "manage the session")
		f.Item("exit", "leave the shell")
		return false, nil

	case "get":
		if len(rest) == 0 {
			return false, errors.New("usage: get <path> [key=value ...]")
		}
		params, err := parseParams(rest[1:])
		if err != nil {
			return false, err
		}
		res, err := api.Get(ctx, rest[0], params)
		if err != nil {
			return false, err
		}
		return false, f.Result(res)

	case "post", "put", "patch", "delete":
		if len(rest) == 0 {
			return false, fmt.Errorf("usage: %s <path> [json]", verb)
		}
		method := offline.Method(strings.ToUpper(verb))
		var body any
		if len(rest) > 1 {
			raw := json.RawMessage(strings.Join(rest[1:], " "))
			if !json.Valid(raw) {
				return false, errors.New("request body is not valid JSON")
			}
			body = raw
		}
		res, err := api.Write(ctx, method, rest[0], body)
		if err != nil {
			return false, err
		}
		return false, f.WriteResult(method, rest[0], res)

	case "sync":
		run, err := api.ProcessQueue(ctx)
		switch {
		case errors.Is(err, domainErrors.ErrOffline):
			return false, f.Warning("Offline: %d change(s) waiting to sync", api.PendingSyncCount(ctx))
		case errors.Is(err, domainErrors.ErrDrainInProgress):
			return false, f.Info("A sync is already running")
		case err != nil:
			return false, err
		}
		return false, f.RunSummary(run)

	case "queue":
		items, err := s.container.Queue().List(ctx)
		if err != nil {
			return false, err
		}
		return false, f.Mutations(items)

	case "status":
		st := getSystemStatus(ctx, s.container)
		f.Item("Connectivity", f.OnlineLabel(st.Online))
		f.Item("Pending changes", fmt.Sprintf("%d", st.Pending))
		f.Item("Saved responses", fmt.Sprintf("%d", st.CacheEntries))
		return false, nil

	case "online", "offline":
		s.container.Connectivity().SetOnline(verb == "online")
		return false, f.Println("%s", f.OnlineLabel(verb == "online"))

	case "login":
		if len(rest) != 1 {
			return false, errors.New("usage: login <access-token>")
		}
		rec, err := api.Login(ctx, offline.Tokens{AccessToken: rest[0]}, nil)
		if err != nil {
			return false, err
		}
		return false, f.Success("Session saved %s", rec.UserID)

	case "logout":
		if err := api.Logout(ctx); err != nil {
			return false, err
		}
		return false, f.Success("Signed out")

	default:
		return false, fmt.Errorf("unknown command: %s (type help for help)", verb)
	}
}
