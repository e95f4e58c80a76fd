// Package output provides styled terminal output helpers (success, error,
// warning, template and version formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	roleStyles   = map[string]lipgloss.Style{
		"owner":  lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
		"editor": lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"viewer": lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeConflict       = "conflict"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotLoggedIn    = "not_logged_in"
	ErrCodeServerError    = "server_error"
	ErrCodeNetworkFailure = "network_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Println(jsonErrorString(code, message))
}

func jsonErrorString(code, message string) string {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	return string(data)
}

// FormatRole formats a template role with color
func FormatRole(role string) string {
	style, ok := roleStyles[role]
	if !ok {
		return role
	}
	return style.Render(role)
}

// FormatVersion formats a version number, "-" when nothing is saved yet.
func FormatVersion(v *int) string {
	if v == nil || *v == 0 {
		return "-"
	}
	return fmt.Sprintf("v%d", *v)
}

// FormatTimestamp parses an RFC 3339 server timestamp and formats it as
// FormatTimeAgo does. Unparseable input is returned unchanged.
func FormatTimestamp(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return FormatTimeAgo(t)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// ShortID returns the first block of a UUID for compact display.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nSHARED WITH ME:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// Table renders rows in aligned columns. Cells wider than maxCell are
// truncated with an ellipsis. Widths are measured on visible cells so
// styled values line up.
func Table(headers []string, rows [][]string, maxCell int) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = ansi.StringWidth(h)
	}
	clipped := make([][]string, len(rows))
	for r, row := range rows {
		clipped[r] = make([]string, len(headers))
		for i := range headers {
			if i >= len(row) {
				continue
			}
			cell := row[i]
			if maxCell > 0 && ansi.StringWidth(cell) > maxCell {
				cell = ansi.Truncate(cell, maxCell, "…")
			}
			clipped[r][i] = cell
			if w := ansi.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			pad := widths[i] - ansi.StringWidth(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			sb.WriteString(cell)
			if i < len(cells)-1 {
				sb.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		sb.WriteString("\n")
	}
	writeRow(headers, &headerStyle)
	for _, row := range clipped {
		writeRow(row, nil)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TemplateOneLiner returns a concise single-line template representation
// Format: "1a2b3c4d \"Name\" [role]"
func TemplateOneLiner(id, name, role string) string {
	return fmt.Sprintf("%s %s %s", titleStyle.Render(ShortID(id)), fmt.Sprintf("%q", name), subtleStyle.Render("["+role+"]"))
}
