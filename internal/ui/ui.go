// Package ui renders Runbar state for the terminal.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/runbar/runbar/internal/model"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	boldStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// FormatError returns a styled multi-line error message.
func FormatError(title, detail, suggestion string) string {
	out := errorStyle.Render("Error: "+title) + "\n"
	if detail != "" {
		out += "  " + detail + "\n"
	}
	if suggestion != "" {
		out += "  " + hintStyle.Render("Hint: "+suggestion) + "\n"
	}
	return out
}

// Success prints a green success message.
func Success(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render(msg))
}

// Warn prints a yellow warning message.
func Warn(w io.Writer, msg string) {
	fmt.Fprintln(w, warnStyle.Render("Warning: "+msg))
}

// Bold renders text in bold.
func Bold(s string) string {
	return boldStyle.Render(s)
}

// Hint renders text in dim italic.
func Hint(s string) string {
	return hintStyle.Render(s)
}

// StatusLabel colours a status.
func StatusLabel(s model.Status) string {
	switch s {
	case model.StatusRunning:
		return successStyle.Render(string(s))
	case model.StatusStarting, model.StatusStopping:
		return warnStyle.Render(string(s))
	case model.StatusError:
		return errorStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// ServicesTable renders services with their live state.
func ServicesTable(views []model.ServiceView) string {
	t := newTable("NAME", "STATUS", "PID", "UPTIME", "PATH", "COMMAND")
	for _, v := range views {
		pid := ""
		if v.PID > 0 {
			pid = strconv.Itoa(v.PID)
		}
		if v.Adopted {
			pid += " (adopted)"
		}
		uptime := ""
		if v.StartTime != nil {
			uptime = time.Since(*v.StartTime).Truncate(time.Second).String()
		}
		t.Row(v.Name, StatusLabel(v.Status), pid, uptime, v.Path, v.Command)
	}
	return t.Render()
}

// GroupsTable renders groups with member counts.
func GroupsTable(views []model.GroupView) string {
	t := newTable("NAME", "RUNNING", "MEMBERS", "AUTOSTART")
	for _, g := range views {
		names := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			names = append(names, m.Name)
		}
		t.Row(g.Name, fmt.Sprintf("%d/%d", g.Running, len(g.Members)), strings.Join(names, ", "), strconv.FormatBool(g.AutoStart))
	}
	return t.Render()
}

// PrerequisitesTable renders the doctor report.
func PrerequisitesTable(items []model.Prerequisite) string {
	t := newTable("TOOL", "STATUS", "VERSION", "NOTE")
	for _, p := range items {
		status := successStyle.Render("ok")
		switch {
		case !p.Installed && p.Required:
			status = errorStyle.Render("missing")
		case !p.Installed:
			status = warnStyle.Render("missing")
		}
		t.Row(p.Name, status, p.Version, p.Message)
	}
	return t.Render()
}

// LogPrefix renders the service name in front of streamed output.
func LogPrefix(name string) string {
	return dimStyle.Render(name + " |")
}
