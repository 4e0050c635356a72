package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/gitea-relay/internal/admin"
	"github.com/mattjoyce/gitea-relay/internal/delivery"
)

const watchLimit = 200

// Source is what the dashboard polls. *admin.Client implements it.
type Source interface {
	Health(ctx context.Context) (admin.HealthResponse, error)
	Deliveries(ctx context.Context, limit int) (admin.DeliveriesResponse, error)
}

type snapshotMsg struct {
	health  admin.HealthResponse
	records []delivery.Record
	at      time.Time
	err     error
}

type refreshMsg struct{}

// WatchModel is the bubbletea model for the live delivery dashboard.
type WatchModel struct {
	source   Source
	interval time.Duration
	theme    Theme

	width  int
	height int

	table     table.Model
	health    admin.HealthResponse
	records   []delivery.Record
	updated   time.Time
	lastError string
}

func NewWatch(source Source, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Received", Width: 19},
			{Title: "Status", Width: 15},
			{Title: "Event", Width: 12},
			{Title: "Repository", Width: 28},
			{Title: "Group", Width: 12},
			{Title: "Detail", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return WatchModel{
		source:   source,
		interval: interval,
		theme:    NewDefaultTheme(),
		table:    t,
	}
}

func (m WatchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		msg := snapshotMsg{at: time.Now()}
		msg.health, msg.err = m.source.Health(ctx)
		if msg.err != nil {
			return msg
		}
		resp, err := m.source.Deliveries(ctx, watchLimit)
		msg.records, msg.err = resp.Deliveries, err
		return msg
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tea.EnterAltScreen)
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 20))
		m.table.SetHeight(max(m.height-10, 5))

	case snapshotMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		} else {
			m.lastError = ""
			m.health = msg.health
			m.records = msg.records
			m.updated = msg.at
			rows := make([]table.Row, 0, len(msg.records))
			for _, r := range msg.records {
				rows = append(rows, table.Row(deliveryRow(r)))
			}
			m.table.SetRows(rows)
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })

	case refreshMsg:
		return m, m.fetch()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m WatchModel) View() string {
	header := m.theme.Title.Render("gitea-relay deliveries")
	status := m.theme.Dim.Render(fmt.Sprintf(
		"monitors %d • uptime %s • updated %s",
		m.health.Monitors,
		(time.Duration(m.health.UptimeSeconds) * time.Second).String(),
		Ago(m.updated, time.Now()),
	))

	counts := map[delivery.Status]int{}
	for _, r := range m.records {
		counts[r.Status]++
	}
	summary := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.StatusOK.Render(fmt.Sprintf("delivered %d", counts[delivery.StatusDelivered]))+"  ",
		m.theme.StatusFailed.Render(fmt.Sprintf("failed %d", counts[delivery.StatusDispatchFailed]))+"  ",
		m.theme.StatusWarn.Render(fmt.Sprintf("rejected %d", counts[delivery.StatusRejected]))+"  ",
		m.theme.StatusIgnored.Render(fmt.Sprintf("ignored %d", counts[delivery.StatusIgnored])),
	)

	parts := []string{header, status, summary, m.table.View()}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// RunWatch runs the dashboard until the user quits.
func RunWatch(source Source, interval time.Duration) error {
	_, err := tea.NewProgram(NewWatch(source, interval)).Run()
	return err
}
