package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"droneops-control/internal/fleet"
)

const (
	pollInterval = 2 * time.Second
	logLimit     = 25
)

type missionsMsg []fleet.Mission
type logsMsg []fleet.FlightLogEntry
type errMsg struct{ err error }
type tickMsg time.Time

var statusStyles = map[fleet.MissionStatus]lipgloss.Style{
	fleet.MissionPlanned:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	fleet.MissionInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	fleet.MissionPaused:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	fleet.MissionCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	fleet.MissionAborted:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	fleet.MissionFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Model is the bubbletea model for the mission board.
type Model struct {
	client   *Client
	orgID    string
	table    table.Model
	vp       viewport.Model
	missions []fleet.Mission
	selected string
	err      error
	height   int
	now      func() time.Time
}

// NewModel builds the board for one organization.
func NewModel(client *Client, orgID string) Model {
	cols := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Name", Width: 24},
		{Title: "Status", Width: 12},
		{Title: "Drone", Width: 8},
		{Title: "Prio", Width: 4},
		{Title: "Progress", Width: 8},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(10))
	return Model{
		client: client,
		orgID:  orgID,
		table:  t,
		vp:     viewport.New(0, 8),
		now:    time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchMissions(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchMissions() tea.Cmd {
	client, orgID := m.client, m.orgID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		missions, err := client.Missions(ctx, orgID)
		if err != nil {
			return errMsg{err}
		}
		return missionsMsg(missions)
	}
}

func (m Model) fetchLogs(missionID string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logs, err := client.Logs(ctx, missionID, logLimit)
		if err != nil {
			return errMsg{err}
		}
		return logsMsg(logs)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.height = msg.Height
		h := msg.Height - m.table.Height() - 6
		if h < 3 {
			h = 3
		}
		m.vp.Height = h
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchMissions()
		default:
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			if id := m.selectedID(); id != "" && id != m.selected {
				m.selected = id
				return m, tea.Batch(cmd, m.fetchLogs(id))
			}
			return m, cmd
		}
	case tickMsg:
		cmds := []tea.Cmd{m.fetchMissions(), tick()}
		if m.selected != "" {
			cmds = append(cmds, m.fetchLogs(m.selected))
		}
		return m, tea.Batch(cmds...)
	case missionsMsg:
		m.missions = msg
		m.err = nil
		m.table.SetRows(m.rows())
		if m.selected == "" {
			if id := m.selectedID(); id != "" {
				m.selected = id
				return m, m.fetchLogs(id)
			}
		}
	case logsMsg:
		m.vp.SetContent(renderLogs(msg))
		m.vp.GotoBottom()
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

func (m Model) selectedID() string {
	row := m.table.SelectedRow()
	if row == nil {
		return ""
	}
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.missions) {
		return ""
	}
	return m.missions[cursor].ID
}

func (m Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.missions))
	now := m.now()
	for _, ms := range m.missions {
		status := string(ms.Status)
		if st, ok := statusStyles[ms.Status]; ok {
			status = st.Render(status)
		}
		rows = append(rows, table.Row{
			shortID(ms.ID),
			ms.Name,
			status,
			shortID(ms.DroneID),
			fmt.Sprintf("%d", ms.Priority),
			fmt.Sprintf("%d%%", ms.Progress(now)),
		})
	}
	return rows
}

func renderLogs(logs []fleet.FlightLogEntry) string {
	if len(logs) == 0 {
		return "no telemetry yet"
	}
	lines := make([]string, 0, len(logs))
	// newest rows come first from the API; show oldest at the top
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		lines = append(lines, fmt.Sprintf("[%s] drone=%s lat=%.5f lon=%.5f alt=%.1f spd=%.1f batt=%.1f",
			l.Timestamp.Format(time.RFC3339), shortID(l.DroneID),
			l.Latitude, l.Longitude, l.Altitude, l.Speed, l.BatteryLevel))
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m Model) View() string {
	divider := strings.Repeat("─", max(m.vp.Width, 10))
	sections := []string{
		titleStyle.Render("Missions"),
		m.table.View(),
		divider,
		titleStyle.Render("Telemetry"),
		m.vp.View(),
		divider,
		footerStyle.Render("q quit · r refresh · ↑↓ select mission"),
	}
	if m.err != nil {
		sections = append(sections, errStyle.Render("error: "+m.err.Error()))
	}
	return strings.Join(sections, "\n")
}

// Run starts the board in the alternate screen.
func Run(client *Client, orgID string) error {
	p := tea.NewProgram(NewModel(client, orgID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
