package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/tpled/internal/cliconfig"
	"github.com/marcus/tpled/internal/output"
	"github.com/marcus/tpled/internal/tplclient"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage authentication",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a tpled server",
	Long: `Starts a device login. Open the printed link in a browser where you are
signed in with the same email, enter the code, and the CLI stores an API key
in ~/.config/tpled/auth.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := getServerURL()
		client := tplclient.New(server, "")

		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			var err error
			if email, err = promptEmail(); err != nil {
				return err
			}
		}
		if err := validateEmail(email); err != nil {
			return err
		}

		resp, err := client.LoginStart(email)
		if err != nil {
			return fmt.Errorf("login start: %w", err)
		}

		fmt.Printf("Open %s and enter code: %s\n", resp.VerificationURI, resp.UserCode)

		interval := time.Duration(resp.Interval) * time.Second
		if interval < time.Second {
			interval = 5 * time.Second
		}

		poll, err := waitForLogin(client, resp.DeviceCode, interval)
		if err != nil {
			return err
		}

		creds := &cliconfig.AuthCredentials{
			ServerURL: server,
			Email:     email,
		}
		if poll.APIKey != nil {
			creds.APIKey = *poll.APIKey
		}
		if poll.UserID != nil {
			creds.UserID = *poll.UserID
		}
		if poll.Email != nil {
			creds.Email = *poll.Email
		}
		if poll.ExpiresAt != nil {
			creds.ExpiresAt = *poll.ExpiresAt
		}

		if err := cliconfig.SaveAuth(creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		if serverURL != "" {
			cfg, err := cliconfig.LoadConfig()
			if err == nil {
				cfg.ServerURL = server
				if err := cliconfig.SaveConfig(cfg); err != nil {
					output.Warning("could not remember server URL: %v", err)
				}
			}
		}

		output.Success("Logged in as %s", creds.Email)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cliconfig.ClearAuth(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := cliconfig.LoadAuth()
		if err != nil {
			return fmt.Errorf("load auth: %w", err)
		}

		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		keyPrefix := creds.APIKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}

		fmt.Printf("Email:  %s\n", creds.Email)
		fmt.Printf("Server: %s\n", creds.ServerURL)
		fmt.Printf("Key:    %s\n", keyPrefix)
		if creds.ExpiresAt != "" {
			fmt.Printf("Expiry: %s\n", creds.ExpiresAt)
		}

		if creds.Expired(time.Now()) {
			output.Warning("key has expired; run tpled auth login")
			return nil
		}
		if offline, _ := cmd.Flags().GetBool("offline"); offline {
			return nil
		}
		if _, err := tplclient.New(getServerURL(), creds.APIKey).Me(); err != nil {
			if errors.Is(err, tplclient.ErrUnauthorized) {
				output.Warning("server rejected the key; run tpled auth login")
				return nil
			}
			output.Warning("could not reach server: %v", err)
			return nil
		}
		output.Success("Key is valid.")
		return nil
	},
}

func promptEmail() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("%w: --email is required when not running in a terminal", errInvalidInput)
	}
	var email string
	err := huh.NewInput().
		Title("Email").
		Placeholder("you@example.com").
		Value(&email).
		Validate(validateEmail).
		Run()
	if err != nil {
		return "", fmt.Errorf("read email: %w", err)
	}
	return strings.TrimSpace(email), nil
}

func validateEmail(s string) error {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fmt.Errorf("%w: %q is not an email address", errInvalidInput, s)
	}
	return nil
}

// loginPoller is the part of the client the poll loop needs.
type loginPoller interface {
	LoginPoll(deviceCode string) (*tplclient.LoginPollResponse, error)
}

var errLoginCancelled = errors.New("login cancelled")

// pollLogin polls every interval until the request completes, is refused,
// or ctx is done.
func pollLogin(ctx context.Context, client loginPoller, deviceCode string, interval time.Duration) (*tplclient.LoginPollResponse, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, errLoginCancelled
		case <-time.After(interval):
		}

		poll, err := client.LoginPoll(deviceCode)
		if err != nil {
			if errors.Is(err, tplclient.ErrGone) {
				return nil, fmt.Errorf("login expired or already used; run tpled auth login again")
			}
			return nil, fmt.Errorf("login poll: %w", err)
		}

		switch poll.Status {
		case "pending":
			continue
		case "complete":
			return poll, nil
		default:
			return nil, fmt.Errorf("unexpected poll status: %s", poll.Status)
		}
	}
}

// waitForLogin shows a spinner on terminals and polls silently otherwise.
func waitForLogin(client loginPoller, deviceCode string, interval time.Duration) (*tplclient.LoginPollResponse, error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return pollLogin(context.Background(), client, deviceCode, interval)
	}
	return runWithSpinner("Waiting for approval in the browser (ctrl+c to cancel)", func(ctx context.Context) (*tplclient.LoginPollResponse, error) {
		return pollLogin(ctx, client, deviceCode, interval)
	})
}

func init() {
	authLoginCmd.Flags().String("email", "", "Email to log in with (prompted when omitted)")
	authStatusCmd.Flags().Bool("offline", false, "Do not check the key against the server")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
