package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marcus/tpled/internal/cliconfig"
	"github.com/marcus/tpled/internal/output"
	"github.com/marcus/tpled/internal/tplclient"
)

var saveCmd = &cobra.Command{
	Use:   "save <template>",
	Short: "Save HTML (and optionally CSS and a design) as a new version",
	Long: `Appends a new version. Pass --base with the version you started from to
refuse the save when someone else saved in the meantime.

Use "-" as a file name to read from stdin.`,
	Example: `  tpled save newsletter --html out.html --css out.css
  tpled save 1a2b3c4d --html - --base 3 < page.html`,
	GroupID: "versions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		htmlPath, _ := cmd.Flags().GetString("html")
		cssPath, _ := cmd.Flags().GetString("css")
		designPath, _ := cmd.Flags().GetString("design")
		if htmlPath == "" && designPath == "" {
			return fmt.Errorf("%w: --html or --design is required", errInvalidInput)
		}

		req := &tplclient.SaveRequest{}
		if htmlPath != "" {
			data, err := readInput(htmlPath)
			if err != nil {
				return err
			}
			req.HTML = string(data)
		}
		if cssPath != "" {
			data, err := readInput(cssPath)
			if err != nil {
				return err
			}
			req.CSS = string(data)
		}
		if designPath != "" {
			data, err := readInput(designPath)
			if err != nil {
				return err
			}
			if !json.Valid(data) {
				return fmt.Errorf("%w: %s is not valid JSON", errInvalidInput, designPath)
			}
			req.DesignJSON = json.RawMessage(data)
		}
		if cmd.Flags().Changed("base") {
			base, _ := cmd.Flags().GetInt("base")
			req.BaseVersion = &base
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTemplateID(client, args[0])
		if err != nil {
			return err
		}
		v, err := client.SaveVersion(id, req)
		if err != nil {
			if errors.Is(err, tplclient.ErrConflict) {
				return fmt.Errorf("%w (run tpled versions %s to see what changed)", err, output.ShortID(id))
			}
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(v)
		}
		output.Success("Saved version %d", v.Version)
		return nil
	},
}

var versionsCmd = &cobra.Command{
	Use:     "versions <template>",
	Aliases: []string{"history"},
	Short:   "List saved versions, newest first",
	GroupID: "versions",
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
		limit, _ := cmd.Flags().GetInt("limit")
		if !cmd.Flags().Changed("limit") {
			limit = cliconfig.GetVersionLimit()
		}
		versions, err := client.ListVersions(id, limit)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(versions)
		}
		if len(versions) == 0 {
			fmt.Println("Nothing saved yet.")
			return nil
		}
		rows := make([][]string, 0, len(versions))
		for _, v := range versions {
			rows = append(rows, []string{fmt.Sprintf("v%d", v.Version), v.SavedByEmail, output.FormatTimestamp(v.CreatedAt)})
		}
		fmt.Println(output.Table([]string{"VERSION", "SAVED BY", "WHEN"}, rows, 40))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <template>",
	Short: "Write the exported HTML document to stdout or a file",
	Long: `Exports the latest version, or the one given with --version, as a
standalone HTML document with the CSS inlined in a <style> element.`,
	GroupID: "versions",
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

		var doc []byte
		if v, _ := cmd.Flags().GetInt("version"); v > 0 {
			doc, err = client.VersionHTML(id, v)
		} else {
			doc, err = client.TemplateHTML(id)
		}
		if err != nil {
			return err
		}

		outPath, _ := cmd.Flags().GetString("output")
		if outPath == "" || outPath == "-" {
			_, err := os.Stdout.Write(doc)
			return err
		}
		if err := os.WriteFile(outPath, doc, 0644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		output.Success("Wrote %s (%d bytes)", outPath, len(doc))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <template> <version>",
	Short: "Copy an old version forward as the newest version",
	Long: `Restoring never rewrites history: the chosen version's content is saved
again under the next version number.`,
	GroupID: "versions",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: version must be a positive number", errInvalidInput)
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTemplateID(client, args[0])
		if err != nil {
			return err
		}
		v, err := client.RestoreVersion(id, n)
		if err != nil {
			return err
		}
		output.Success("Restored version %d as version %d", n, v.Version)
		return nil
	},
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func init() {
	saveCmd.Flags().String("html", "", "HTML file (body markup or a full document)")
	saveCmd.Flags().String("css", "", "CSS file, inlined when the HTML is not a full document")
	saveCmd.Flags().String("design", "", "Editor design JSON file")
	saveCmd.Flags().Int("base", 0, "Version the edit is based on; refuse to save if it is not the latest")
	saveCmd.Flags().Bool("json", false, "Output as JSON")

	versionsCmd.Flags().IntP("limit", "n", 20, "Number of versions to show (1-100)")
	versionsCmd.Flags().Bool("json", false, "Output as JSON")

	exportCmd.Flags().Int("version", 0, "Export this version instead of the latest")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	rootCmd.AddCommand(saveCmd, versionsCmd, exportCmd, restoreCmd)
}
