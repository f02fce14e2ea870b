package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read a resource, falling back to saved data while offline",
		Long: `Fetch a resource from the school API.

Successful responses are saved on the device. When the API cannot be
reached the last saved copy is shown instead.`,
		Example: `  # List pupils
  schoolsync get /pupils

  # Filter with query parameters
  schoolsync get /pupils -p class=4B -p page=2

  # Read from the device only
  schoolsync get /pupils --offline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseParams(params)
			if err != nil {
				return err
			}
			return runGet(cmd, args[0], query)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value (repeatable)")

	return cmd
}

func runGet(cmd *cobra.Command, path string, params map[string]any) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	res, err := container.API().Get(cmd.Context(), path, params)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return GetFormatter().Result(res)
}

// parseParams turns key=value pairs into query parameters. Integer and
// boolean values keep their type so cache keys match calls made from code.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = typedValue(value)
	}
	return params, nil
}

func typedValue(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
