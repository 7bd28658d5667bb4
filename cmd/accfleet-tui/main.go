package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/accfleet/accfleet/pkg/client"
)

// Config
const (
	pollRate       = time.Second
	maxEvents      = 20
	viewportHeight = 14
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	eventTimeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(20)
	eventAccountStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red
	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // Green
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // Blue
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange
)

type tickMsg time.Time

type dataMsg struct {
	fleet  client.FleetStatus
	events []client.Event
	err    error
}

type model struct {
	api      *client.Client
	spinner  spinner.Model
	viewport viewport.Model
	fleet    client.FleetStatus
	events   []client.Event
	err      error
	ready    bool
}

func initialModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:     api,
		spinner: s,
		events:  []client.Event{},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.api), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.fleet = msg.fleet
			m.events = msg.events
			m.updateViewportContent()
		}

		if !m.ready {
			m.ready = true
		}

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.viewport.Style = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				PaddingRight(2)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder

	for _, e := range m.events {
		ts := e.TsIngest.Format("15:04:05")

		var typeStr string
		switch {
		case strings.Contains(e.EventType, "failed") || strings.Contains(e.EventType, "exhausted"):
			typeStr = badStyle.Render(e.EventType)
		case strings.Contains(e.EventType, "cooldown"):
			typeStr = warnStyle.Render(e.EventType)
		case strings.Contains(e.EventType, "completed") || strings.Contains(e.EventType, "created"):
			typeStr = goodStyle.Render(e.EventType)
		default:
			typeStr = infoStyle.Render(e.EventType)
		}

		line := fmt.Sprintf("%s %s %s\n",
			eventTimeStyle.Render(ts),
			typeStr,
			eventAccountStyle.Render(e.Account),
		)
		sb.WriteString(line)
	}

	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}

	// Top pane: fleet overview
	var fleetList strings.Builder
	role := "follower"
	if m.fleet.Leader {
		role = "leader"
	}
	fleetList.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).
		Render(fmt.Sprintf("Fleet @ %s (%s)", m.fleet.NodeID, role)) + "\n\n")

	if len(m.fleet.Accounts) == 0 {
		fleetList.WriteString(subtleStyle.Render("No accounts configured."))
	} else {
		for _, acct := range m.fleet.Accounts {
			session := badStyle.Render("○")
			if acct.SessionActive {
				session = goodStyle.Render("●")
			}
			line := fmt.Sprintf("%s %-20s", session, acct.Account)
			if acct.TaskState != "" {
				line += " " + infoStyle.Render(acct.TaskState)
			}
			for _, cd := range acct.Cooldowns {
				remaining := time.Duration(cd.RemainingMs) * time.Millisecond
				line += " " + warnStyle.Render(fmt.Sprintf("%s %s", cd.Class, remaining.Round(time.Second)))
			}
			fleetList.WriteString(line + "\n")
		}
	}

	topPane := paneStyle.Render(fleetList.String())

	// Bottom pane: event stream
	header := headerStyle.Render(fmt.Sprintf("%s Event Stream", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d Accounts • %d Events", len(m.fleet.Accounts), len(m.events)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, bottomPane, footer)
}

// Commands

func fetchData(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		fleet, err := api.Fleet(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		events, err := api.GetEvents(ctx, client.EventsOptions{Limit: maxEvents})
		if err != nil {
			return dataMsg{err: err}
		}

		return dataMsg{fleet: fleet, events: events}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	api := client.NewClient(os.Getenv("ACCFLEET_ENDPOINT"))
	p := tea.NewProgram(initialModel(api), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
