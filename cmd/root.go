package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/tpled/internal/cliconfig"
	"github.com/marcus/tpled/internal/output"
	"github.com/marcus/tpled/internal/tplclient"
)

var (
	version   string
	serverURL string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "tpled",
	Short: "Command-line client for the tpled template editor",
	Long: `tpled - manage HTML email and page templates on a tpled server.

Templates are designed in the browser editor; the CLI lists, exports, saves
and shares them, and keeps every save as a numbered version.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints err in the format the failing command asked for.
func reportError(err error) {
	if jsonFlagSet() {
		output.JSONError(errorCode(err), err.Error())
		return
	}
	output.Error("%v", err)
}

// jsonFlagSet reports whether --json was passed to the command being run.
func jsonFlagSet() bool {
	c, _, err := rootCmd.Find(os.Args[1:])
	if err != nil || c == nil {
		return false
	}
	v, _ := c.Flags().GetBool("json")
	return v
}

// errorCode maps client errors to the stable codes of structured output.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errNotLoggedIn), errors.Is(err, tplclient.ErrUnauthorized):
		return output.ErrCodeNotLoggedIn
	case errors.Is(err, tplclient.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, tplclient.ErrForbidden):
		return output.ErrCodeForbidden
	case errors.Is(err, tplclient.ErrConflict):
		return output.ErrCodeConflict
	case errors.Is(err, errInvalidInput):
		return output.ErrCodeInvalidInput
	}
	var apiErr *tplclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 500 {
			return output.ErrCodeServerError
		}
		return output.ErrCodeInvalidInput
	}
	return output.ErrCodeNetworkFailure
}

var (
	errNotLoggedIn  = errors.New("not logged in (run: tpled auth login)")
	errInvalidInput = errors.New("invalid input")
)

// newClient returns an authenticated client for the configured server.
func newClient() (*tplclient.Client, error) {
	key := cliconfig.GetAPIKey()
	if key == "" {
		return nil, errNotLoggedIn
	}
	return tplclient.New(getServerURL(), key), nil
}

// getServerURL returns --server when given, otherwise the configured URL.
func getServerURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	return cliconfig.GetServerURL()
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	// Add custom template function for showing aliases
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

	// Need to add the 'add' function for padding calculation
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	rootCmd.SetUsageTemplate(usageTemplate)

	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "templates", Title: "Template Commands:"},
		&cobra.Group{ID: "versions", Title: "Version Commands:"},
		&cobra.Group{ID: "sharing", Title: "Sharing Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	// Assign built-in commands to system group
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (default: TPLED_SERVER or ~/.config/tpled/config.json)")
}
