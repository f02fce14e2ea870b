package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/application/client"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	var (
		data    string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "send <POST|PUT|PATCH|DELETE> <path>",
		Short: "Write to the API, queueing the change while offline",
		Long: `Send a mutating request to the school API.

When the API cannot be reached the change is saved on the device and
replayed in order once the connection returns. Rejections from a
reachable API are reported immediately and nothing is queued.`,
		Example: `  # Create a pupil
  schoolsync send POST /pupils -d '{"first_name":"Amy"}'

  # Body from a file, or from stdin with @-
  schoolsync send PUT /pupils/7 -d @pupil.json

  # Delete with an extra header
  schoolsync send DELETE /fees/3 -H X-School=12`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := offline.Method(strings.ToUpper(args[0]))
			body, err := readBody(cmd.InOrStdin(), data)
			if err != nil {
				return err
			}
			opts, err := headerOptions(headers)
			if err != nil {
				return err
			}
			return runSend(cmd, method, args[1], body, opts)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body, @file to read a file, or @- for stdin")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header as key=value (repeatable)")

	return cmd
}

func runSend(cmd *cobra.Command, method offline.Method, path string, body json.RawMessage, opts []client.WriteOption) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	var payload any
	if len(body) > 0 {
		payload = body
	}

	res, err := container.API().Write(cmd.Context(), method, path, payload, opts...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return GetFormatter().WriteResult(method, path, res)
}

// readBody resolves the --data flag.
func readBody(stdin io.Reader, data string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading body from stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		raw = b
	default:
		raw = []byte(data)
	}

	raw = []byte(strings.TrimSpace(string(raw)))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return raw, nil
}

func headerOptions(pairs []string) ([]client.WriteOption, error) {
	opts := make([]client.WriteOption, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q: expected key=value", pair)
		}
		opts = append(opts, client.WithHeader(key, value))
	}
	return opts, nil
}
