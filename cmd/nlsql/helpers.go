package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/ui"
)

// maxCellWidth truncates long values in table output.
const maxCellWidth = 48

// Color palette
var (
	colorAccent = lipgloss.Color("#4ecca3")
	colorError  = lipgloss.Color("#e94560")
	colorWarn   = lipgloss.Color("#f0a500")
	colorDim    = lipgloss.Color("#555555")
)

// Check if output is to terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	return err == nil && (fileInfo.Mode()&os.ModeCharDevice) != 0
}

func useColor() bool {
	return !noColor && isTerminal() && os.Getenv("NO_COLOR") == ""
}

// style returns s, or a plain style when color is off.
func style(s lipgloss.Style) lipgloss.Style {
	if useColor() {
		return s
	}
	return lipgloss.NewStyle()
}

// withSpinner runs fn behind a stderr spinner unless output is quiet or JSON.
func withSpinner(message string, fn func() error) error {
	if quiet || jsonOutput() {
		return fn()
	}
	return ui.Run(os.Stderr, message, !noColor, fn)
}

// Print error message in user-friendly format
func printError(format string, args ...any) {
	mark := style(lipgloss.NewStyle().Foreground(colorError)).Render("✗")
	fmt.Fprintf(os.Stderr, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// Print success message
func printSuccess(format string, args ...any) {
	if quiet {
		return
	}
	mark := style(lipgloss.NewStyle().Foreground(colorAccent)).Render("✓")
	fmt.Printf("%s %s\n", mark, fmt.Sprintf(format, args...))
}

// Print info message
func printInfo(format string, args ...any) {
	if quiet {
		return
	}
	fmt.Println(style(lipgloss.NewStyle().Foreground(colorDim)).Render(fmt.Sprintf(format, args...)))
}

// Print warning message
func printWarning(format string, args ...any) {
	mark := style(lipgloss.NewStyle().Foreground(colorWarn)).Render("⚠")
	fmt.Fprintf(os.Stderr, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

func jsonOutput() bool {
	return strings.EqualFold(outFormat, "json")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTable lays rows out under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	header := style(lipgloss.NewStyle().Foreground(colorAccent).Bold(true))
	border := style(lipgloss.NewStyle().Foreground(colorDim))

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.String()
}

// cell renders one value for table output.
func cell(v database.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	s := strings.ReplaceAll(v.String(), "\n", " ")
	if r := []rune(s); len(r) > maxCellWidth {
		s = string(r[:maxCellWidth-1]) + "…"
	}
	return s
}

// resultRows converts a result to table cells in column order.
func resultRows(columns []string, records []map[string]database.Value) [][]string {
	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = cell(rec[c])
		}
		rows[i] = row
	}
	return rows
}
