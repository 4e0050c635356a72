package tui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/gitea-relay/internal/admin"
	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/events"
)

const timeFormat = "2006-01-02 15:04:05"

func newTable(theme Theme, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.Border).
		Headers(headers...)
}

// MonitorsTable renders monitored repositories, one numbered row each.
func MonitorsTable(list []admin.Summary, theme Theme) string {
	t := newTable(theme, "#", "REPOSITORY", "PATH", "GROUP", "CREATED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			return theme.Cell
		})

	for i, m := range list {
		t.Row(strconv.Itoa(i+1), m.RepoURL, m.RepoPath, m.Group, m.CreatedAt.Local().Format(timeFormat))
	}
	return t.String()
}

// DeliveriesTable renders delivery outcomes with the status column colored.
func DeliveriesTable(records []delivery.Record, theme Theme) string {
	t := newTable(theme, "RECEIVED", "STATUS", "EVENT", "REPOSITORY", "GROUP", "DETAIL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			if col == 1 && row >= 0 && row < len(records) {
				return theme.Status(records[row].Status).Padding(0, 1)
			}
			return theme.Cell
		})

	for _, r := range records {
		t.Row(deliveryRow(r)...)
	}
	return t.String()
}

func deliveryRow(r delivery.Record) []string {
	return []string{
		r.ReceivedAt.Local().Format(timeFormat),
		string(r.Status),
		orDash(r.Event),
		orDash(r.RepoPath),
		orDash(r.Group),
		truncate(r.Detail, 48),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Ago formats a duration since t for status lines.
func Ago(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}

// EventLine renders one live event as a single colored line.
func EventLine(ev events.Event, theme Theme) string {
	at := ev.At.Local().Format("15:04:05")

	switch ev.Type {
	case events.TypeDelivery:
		var r delivery.Record
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			break
		}
		line := fmt.Sprintf("%s %s %s %s", at,
			theme.Status(r.Status).Render(fmt.Sprintf("%-15s", r.Status)),
			orDash(r.Event), orDash(r.RepoPath))
		if r.Group != "" {
			line += " → " + r.Group
		}
		if r.Detail != "" {
			line += theme.Dim.Render(" (" + truncate(r.Detail, 80) + ")")
		}
		return line

	case events.TypeMonitorAdded, events.TypeMonitorRemoved:
		var m admin.Summary
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			break
		}
		return fmt.Sprintf("%s %s %s → %s", at, theme.Header.Render(ev.Type), m.RepoPath, m.Group)
	}

	return fmt.Sprintf("%s %s %s", at, ev.Type, string(ev.Data))
}
