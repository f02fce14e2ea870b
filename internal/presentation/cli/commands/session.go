package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

// NewLoginCmd creates the login command.
func NewLoginCmd() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		user         string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the session used to authorize requests",
		Long: `Save the tokens issued by the school API's sign-in endpoint.

The access token authorizes every request, including queued changes
replayed later. The session is kept on the device so it survives restarts
and offline periods.`,
		Example: `  # Token from the environment
  schoolsync login --access-token "$SCHOOL_TOKEN"

  # With the signed-in user's profile
  schoolsync login --access-token "$T" --refresh-token "$R" --user '{"name":"Ms Otieno"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessToken == "" {
				accessToken = os.Getenv("SCHOOLSYNC_ACCESS_TOKEN")
			}
			var raw json.RawMessage
			if user != "" {
				if !json.Valid([]byte(user)) {
					return fmt.Errorf("--user must be a JSON document")
				}
				raw = json.RawMessage(user)
			}
			return runLogin(cmd, offline.Tokens{AccessToken: accessToken, RefreshToken: refreshToken}, raw)
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "access token (default: $SCHOOLSYNC_ACCESS_TOKEN)")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token")
	cmd.Flags().StringVar(&user, "user", "", "signed-in user profile as JSON")

	return cmd
}

// NewLogoutCmd creates the logout command.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and saved responses",
		Long: `Remove the session and every saved response from this device.

Changes waiting to sync are kept and are sent with the next session's
credentials.`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func runLogin(cmd *cobra.Command, tokens offline.Tokens, user json.RawMessage) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	rec, err := container.API().Login(cmd.Context(), tokens, user)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	formatter := GetFormatter()
	if formatter.IsJSON() {
		return formatter.JSON(map[string]any{"user_id": rec.UserID, "saved_at": rec.SavedAt})
	}
	if rec.UserID != "" {
		return formatter.Success("Signed in as %s", rec.UserID)
	}
	return formatter.Success("Session saved")
}

func runLogout(cmd *cobra.Command, args []string) error {
	container, err := requireContainer()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := container.API().Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	pending := container.API().PendingSyncCount(ctx)
	formatter := GetFormatter()
	if formatter.IsJSON() {
		return formatter.JSON(map[string]int{"pending": pending})
	}
	formatter.Success("Signed out")
	if pending > 0 {
		formatter.Info("%d change(s) still waiting to sync", pending)
	}
	return nil
}
