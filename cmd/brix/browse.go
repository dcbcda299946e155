package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"brix/internal/market"
	"brix/internal/notify"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)
)

func newBrowseCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Interactively browse the property catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			svc, notes, err := app.restore(ctx)
			if err != nil {
				return err
			}
			m := newBrowseModel(ctx, svc, notes)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

type refreshDoneMsg struct{}
type statusTickMsg struct{}

type browseModel struct {
	ctx        context.Context
	svc        *market.Service
	notes      *notify.Queue
	table      table.Model
	refreshing bool
}

func newBrowseModel(ctx context.Context, svc *market.Service, notes *notify.Queue) browseModel {
	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "Title", Width: 26},
		{Title: "Location", Width: 16},
		{Title: "Token $", Width: 9},
		{Title: "Avail", Width: 8},
		{Title: "Sold", Width: 8},
		{Title: "Status", Width: 18},
		{Title: "Yours", Width: 7},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(14),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	m := browseModel{ctx: ctx, svc: svc, notes: notes, table: t}
	m.reloadRows()
	return m
}

func (m browseModel) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), statusTick())
}

func (m browseModel) refreshCmd() tea.Cmd {
	svc := m.svc
	ctx := m.ctx
	return func() tea.Msg {
		opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		// Failures land in the notification queue and show on the status line.
		svc.Sync(opCtx)
		return refreshDoneMsg{}
	}
}

func statusTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

func (m *browseModel) reloadRows() {
	holdings := m.svc.Holdings()
	rows := make([]table.Row, 0)
	for _, p := range m.svc.Properties() {
		rows = append(rows, table.Row{
			strconv.FormatInt(p.ID, 10),
			truncate(p.Title, 26),
			truncate(p.Location, 16),
			fmt.Sprintf("%.2f", p.TokenPrice),
			strconv.FormatInt(p.AvailableTokens, 10),
			strconv.FormatInt(p.SoldTokens, 10),
			string(p.Status),
			strconv.FormatInt(holdings[p.ID], 10),
		})
	}
	m.table.SetRows(rows)
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if !m.refreshing {
				m.refreshing = true
				return m, m.refreshCmd()
			}
			return m, nil
		}
	case refreshDoneMsg:
		m.refreshing = false
		m.reloadRows()
		return m, nil
	case statusTickMsg:
		return m, statusTick()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m browseModel) View() string {
	header := titleStyle.Render("brix — tokenized property catalog")
	body := tableStyle.Render(m.table.View())

	status := helpStyle.Render("r: refresh  •  ↑/↓: move  •  q: quit")
	if m.refreshing {
		status = helpStyle.Render("refreshing…")
	}
	if n := m.notes.Current(); n != nil {
		if n.Severity == notify.SeveritySuccess {
			status = okStyle.Render(n.Message)
		} else {
			status = errStyle.Render(n.Message)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, status)
}
