package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/tpled/internal/output"
	"github.com/marcus/tpled/internal/tplclient"
)

var shareCmd = &cobra.Command{
	Use:     "share",
	Short:   "Manage who can view or edit a template (owner only)",
	GroupID: "sharing",
}

var shareAddCmd = &cobra.Command{
	Use:   "add <template> <email>",
	Short: "Share a template with a user who has logged in at least once",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		if role == "" {
			var err error
			if role, err = promptRole(); err != nil {
				return err
			}
		}
		if err := validateShareRole(role); err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTemplateID(client, args[0])
		if err != nil {
			return err
		}
		sh, err := client.AddShare(id, strings.TrimSpace(args[1]), role)
		if err != nil {
			return err
		}
		output.Success("Shared with %s as %s", sh.Email, sh.Role)
		return nil
	},
}

var shareListCmd = &cobra.Command{
	Use:     "list <template>",
	Aliases: []string{"ls"},
	Short:   "List the users a template is shared with",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTemplateID(client, args[0])
		if err != nil {
			return err
		}
		shares, err := client.ListShares(id)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(shares)
		}
		if len(shares) == 0 {
			fmt.Println("Not shared with anyone.")
			return nil
		}
		rows := make([][]string, 0, len(shares))
		for _, s := range shares {
			rows = append(rows, []string{s.Email, output.FormatRole(s.Role), output.FormatTimestamp(s.CreatedAt)})
		}
		fmt.Println(output.Table([]string{"EMAIL", "ROLE", "SINCE"}, rows, 48))
		return nil
	},
}

var shareSetRoleCmd = &cobra.Command{
	Use:   "set-role <template> <email> <viewer|editor>",
	Short: "Change a user's role on a template",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateShareRole(args[2]); err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		id, userID, err := resolveShare(client, args[0], args[1])
		if err != nil {
			return err
		}
		sh, err := client.UpdateShareRole(id, userID, args[2])
		if err != nil {
			return err
		}
		output.Success("%s is now %s", sh.Email, sh.Role)
		return nil
	},
}

var shareRemoveCmd = &cobra.Command{
	Use:     "rm <template> <email>",
	Aliases: []string{"remove"},
	Short:   "Stop sharing a template with a user",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		id, userID, err := resolveShare(client, args[0], args[1])
		if err != nil {
			return err
		}
		if err := client.RemoveShare(id, userID); err != nil {
			return err
		}
		output.Success("Removed %s", strings.ToLower(strings.TrimSpace(args[1])))
		return nil
	},
}

// resolveShare finds the template and the grantee's user ID by email.
func resolveShare(client *tplclient.Client, ref, email string) (string, string, error) {
	id, err := resolveTemplateID(client, ref)
	if err != nil {
		return "", "", err
	}
	shares, err := client.ListShares(id)
	if err != nil {
		return "", "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, s := range shares {
		if s.Email == email {
			return id, s.UserID, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s has no access to this template", tplclient.ErrNotFound, email)
}

func validateShareRole(role string) error {
	switch role {
	case "viewer", "editor":
		return nil
	}
	return fmt.Errorf("%w: role must be viewer or editor", errInvalidInput)
}

// promptRole asks for a role on terminals and defaults to viewer otherwise.
func promptRole() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "viewer", nil
	}
	role := "viewer"
	err := huh.NewSelect[string]().
		Title("Role").
		Options(
			huh.NewOption("Viewer - can view and export", "viewer"),
			huh.NewOption("Editor - can also save, restore and rename", "editor"),
		).
		Value(&role).
		Run()
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func init() {
	shareAddCmd.Flags().StringP("role", "r", "", "viewer or editor (prompted when omitted)")
	shareListCmd.Flags().Bool("json", false, "Output as JSON")

	shareCmd.AddCommand(shareAddCmd, shareListCmd, shareSetRoleCmd, shareRemoveCmd)
	rootCmd.AddCommand(shareCmd)
}
