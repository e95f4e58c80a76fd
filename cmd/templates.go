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

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your templates and the ones shared with you",
	GroupID: "templates",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		list, err := client.ListTemplates()
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(list)
		}

		width := output.TerminalWidth(100)
		maxCell := max(width/3, 16)

		if len(list.Owned) == 0 {
			fmt.Println("No templates yet. Create one with: tpled create <name>")
		} else {
			rows := make([][]string, 0, len(list.Owned))
			for _, t := range list.Owned {
				rows = append(rows, []string{output.ShortID(t.ID), t.Name, output.FormatVersion(t.LatestVersion), output.FormatTimestamp(t.UpdatedAt)})
			}
			fmt.Println(output.Table([]string{"ID", "NAME", "LATEST", "UPDATED"}, rows, maxCell))
		}

		if len(list.Shared) > 0 {
			fmt.Print(output.SectionHeader("shared with me"))
			rows := make([][]string, 0, len(list.Shared))
			for _, t := range list.Shared {
				rows = append(rows, []string{output.ShortID(t.ID), t.Name, t.OwnerEmail, output.FormatRole(t.Role), output.FormatTimestamp(t.UpdatedAt)})
			}
			fmt.Println(output.Table([]string{"ID", "NAME", "OWNER", "ROLE", "UPDATED"}, rows, maxCell))
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:     "create <name>",
	Aliases: []string{"new"},
	Short:   "Create an empty template",
	GroupID: "templates",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		tpl, err := client.CreateTemplate(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(tpl)
		}
		output.Success("Created %s", output.TemplateOneLiner(tpl.ID, tpl.Name, tpl.Role))
		fmt.Printf("Edit in the browser: %s/templates/%s\n", getServerURL(), tpl.ID)
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename <template> <new name>",
	Short:   "Rename a template (owner or editor)",
	GroupID: "templates",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTemplateID(client, args[0])
		if err != nil {
			return err
		}
		tpl, err := client.RenameTemplate(id, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		output.Success("Renamed to %q", tpl.Name)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <template>",
	Aliases: []string{"rm"},
	Short:   "Delete a template with all its versions (owner only)",
	GroupID: "templates",
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

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			tpl, err := client.GetTemplate(id)
			if err != nil {
				return err
			}
			ok, err := confirm(fmt.Sprintf("Delete %q and all of its versions?", tpl.Name))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := client.DeleteTemplate(id); err != nil {
			return err
		}
		output.Success("Deleted %s", output.ShortID(id))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <template>",
	Short:   "Show a template with its recent versions",
	GroupID: "templates",
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
		tpl, err := client.GetTemplate(id)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = 5
		}
		versions, err := client.ListVersions(id, limit)
		if err != nil {
			return err
		}
		var shares []tplclient.Share
		if tpl.Role == "owner" {
			if shares, err = client.ListShares(id); err != nil {
				return err
			}
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(struct {
				*tplclient.Template
				Versions []tplclient.Version `json:"versions"`
				Shares   []tplclient.Share   `json:"shares,omitempty"`
			}{tpl, versions, shares})
		}

		rendered, err := output.RenderMarkdown(templateMarkdown(tpl, versions, shares, getServerURL()))
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

// templateMarkdown describes a template for show.
func templateMarkdown(tpl *tplclient.Template, versions []tplclient.Version, shares []tplclient.Share, server string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", output.EscapeMarkdown(tpl.Name))
	fmt.Fprintf(&sb, "- **ID:** `%s`\n", tpl.ID)
	fmt.Fprintf(&sb, "- **Your role:** %s\n", tpl.Role)
	if tpl.OwnerEmail != "" {
		fmt.Fprintf(&sb, "- **Owner:** %s\n", output.EscapeMarkdown(tpl.OwnerEmail))
	}
	fmt.Fprintf(&sb, "- **Latest version:** %s\n", output.FormatVersion(tpl.LatestVersion))
	fmt.Fprintf(&sb, "- **Updated:** %s\n", output.FormatTimestamp(tpl.UpdatedAt))
	fmt.Fprintf(&sb, "- **Editor:** %s/templates/%s\n", server, tpl.ID)

	sb.WriteString("\n## Versions\n\n")
	if len(versions) == 0 {
		sb.WriteString("Nothing saved yet.\n")
	} else {
		sb.WriteString("| Version | Saved by | When |\n|---|---|---|\n")
		for _, v := range versions {
			fmt.Fprintf(&sb, "| v%d | %s | %s |\n", v.Version, output.EscapeMarkdown(v.SavedByEmail), output.FormatTimestamp(v.CreatedAt))
		}
	}

	if tpl.Role == "owner" {
		sb.WriteString("\n## Sharing\n\n")
		if len(shares) == 0 {
			sb.WriteString("Not shared.\n")
		} else {
			for _, s := range shares {
				fmt.Fprintf(&sb, "- %s (%s)\n", output.EscapeMarkdown(s.Email), s.Role)
			}
		}
	}
	return sb.String()
}

// confirm asks a yes/no question. Non-interactive sessions must pass --yes.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("%w: refusing to continue without --yes when not running in a terminal", errInvalidInput)
	}
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

func init() {
	listCmd.Flags().Bool("json", false, "Output as JSON")
	createCmd.Flags().Bool("json", false, "Output as JSON")
	deleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	showCmd.Flags().Bool("json", false, "Output as JSON")
	showCmd.Flags().Int("limit", 5, "Number of recent versions to show")

	rootCmd.AddCommand(listCmd, createCmd, renameCmd, deleteCmd, showCmd)
}
