package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// Colour palette for terminal output.
var (
	colourHeader  = lipgloss.Color("#7C3AED") // Purple
	colourMuted   = lipgloss.Color("#6C7086") // Medium gray
	colourSuccess = lipgloss.Color("#A6E3A1") // Green
	colourWarning = lipgloss.Color("#F9E2AF") // Yellow
	colourError   = lipgloss.Color("#F38BA8") // Red
	colourBorder  = lipgloss.Color("#45475A") // Border gray
)

func termCheck(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newTable returns a table styled for terminals, or borderless plain
// text when output is redirected.
func newTable(headers ...string) *table.Table {
	t := table.New().Headers(headers...)
	if !isTerminal() {
		return t.Border(lipgloss.HiddenBorder()).
			BorderHeader(false).
			StyleFunc(func(_, _ int) lipgloss.Style {
				return lipgloss.NewStyle().PaddingRight(2)
			})
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(colourHeader).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colourBorder)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

// statusStyle colours a stage status on terminals.
func statusStyle(status domain.StageStatus) lipgloss.Style {
	s := lipgloss.NewStyle()
	if !isTerminal() {
		return s
	}
	switch status {
	case domain.StatusDone:
		return s.Foreground(colourSuccess)
	case domain.StatusFailed:
		return s.Foreground(colourError).Bold(true)
	case domain.StatusRunning:
		return s.Foreground(colourWarning)
	case domain.StatusSkipped:
		return s.Foreground(colourMuted)
	}
	return s
}
