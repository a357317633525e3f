package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/deck/internal/models"
	"github.com/mpataki/deck/internal/notify"
	"github.com/mpataki/deck/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSuccess   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	toastStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Deck") + dimStyle.Render(" · "+a.workspace.Name) + "\n\n")

	if a.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n")
	}

	b.WriteString(a.viewActions())
	b.WriteString("\n")
	if a.view == ViewHistory {
		b.WriteString(a.viewHistory())
	} else {
		b.WriteString(a.viewRecentRuns())
	}

	if toasts := a.viewToasts(); toasts != "" {
		b.WriteString("\n" + toasts)
	}

	b.WriteString("\n" + a.help.View(a.keys))
	return b.String()
}

func (a *App) viewActions() string {
	s := "Actions\n"
	s += "───────\n"

	if len(a.actions) == 0 {
		return s + dimStyle.Render("No actions yet. Add one with `deck action add`.") + "\n"
	}

	for i, action := range a.actions {
		line := fmt.Sprintf("%2d. %-20s %-8s %s", action.OrderIndex, truncate(action.Name, 20), action.ActionType, a.actionState(action))
		if i == a.selectedIdx {
			line = selectedStyle.Render("▶ " + line)
		} else if _, ok := a.running[action.ID]; ok {
			line = "  " + line
		} else {
			line = "  " + dimStyle.Render(line)
		}
		s += line + "\n"
	}
	return s
}

func (a *App) actionState(action *models.Action) string {
	if a.busy[action.ID] {
		return statusRunning.Render("… working")
	}
	if ra, ok := a.running[action.ID]; ok {
		uptime := formatDuration(a.now().Sub(ra.StartedAt))
		return statusRunning.Render(fmt.Sprintf("● running %s", uptime)) + dimStyle.Render(fmt.Sprintf("  pid %d", ra.ProcessID))
	}
	if action.TrackProcess {
		return "○"
	}
	return ""
}

func (a *App) viewRecentRuns() string {
	s := "Recent Runs\n"
	s += "───────────\n"
	return s + a.formatRuns(true)
}

func (a *App) viewHistory() string {
	action := a.selected()
	if action == nil {
		return ""
	}
	title := fmt.Sprintf("History: %s", action.Name)
	s := title + "\n" + strings.Repeat("─", lipgloss.Width(title)) + "\n"
	return s + a.formatRuns(false)
}

func (a *App) formatRuns(withName bool) string {
	if len(a.runs) == 0 {
		return dimStyle.Render("(no runs yet)") + "\n"
	}

	names := make(map[int64]string, len(a.actions))
	for _, action := range a.actions {
		names[action.ID] = action.Name
	}

	var s string
	for _, run := range a.runs {
		line := fmt.Sprintf("#%-4d", run.ID)
		if withName {
			name, ok := names[run.ActionID]
			if !ok {
				name = fmt.Sprintf("action #%d", run.ActionID)
			}
			line += fmt.Sprintf(" %-20s", truncate(name, 20))
		}
		line += " " + formatStatus(run.Status)
		line += "  " + dimStyle.Render(fmt.Sprintf("%-8s", storage.FormatTimeAgo(run.StartedAt)))
		if run.CompletedAt != nil {
			line += "  " + dimStyle.Render(formatDuration(run.CompletedAt.Sub(run.StartedAt)))
		}
		if run.ExitCode != nil && *run.ExitCode != 0 {
			line += "  " + statusFailed.Render(fmt.Sprintf("exit:%d", *run.ExitCode))
		}
		if run.ErrorMessage != nil {
			line += "  " + dimStyle.Render(truncate(*run.ErrorMessage, 40))
		}
		s += "  " + line + "\n"
	}
	return s
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusSuccess:
		return statusSuccess.Render("✓ success  ")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed   ")
	case models.RunStatusCancelled:
		return statusCancelled.Render("■ cancelled")
	default:
		return string(status)
	}
}

func (a *App) viewToasts() string {
	if len(a.toasts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(a.toasts))
	for _, t := range a.toasts {
		lines = append(lines, levelStyle(t.Level).Render(levelIcon(t.Level)+" "+t.Message))
	}
	return toastStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func levelStyle(l notify.Level) lipgloss.Style {
	switch l {
	case notify.LevelSuccess:
		return statusSuccess
	case notify.LevelWarning:
		return statusCancelled
	case notify.LevelError:
		return statusFailed
	default:
		return lipgloss.NewStyle()
	}
}

func levelIcon(l notify.Level) string {
	switch l {
	case notify.LevelSuccess:
		return "✓"
	case notify.LevelWarning:
		return "⚠"
	case notify.LevelError:
		return "✗"
	default:
		return "•"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
