// Package tui implements the terminal song browser and playback screen.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ivanfourie/wad-music-test/pkg/midi"
	"github.com/ivanfourie/wad-music-test/pkg/player"
)

// LoadFunc decodes a song lump by name into a playable timeline.
type LoadFunc func(name string) (*midi.Timeline, error)

// Model is the main TUI model: a list of song lumps on the left of the
// screen and the transport state of the one currently playing.
type Model struct {
	Songs  []string
	Load   LoadFunc
	Driver *player.Driver

	// View state
	Width  int
	Height int
	Cursor int
	Top    int // first visible list row

	// Current song
	Current string
	Length  time.Duration

	StatusMsg string
}

// NewModel creates a TUI model over the given song list.
func NewModel(songs []string, load LoadFunc, driver *player.Driver) Model {
	return Model{
		Songs:  songs,
		Load:   load,
		Driver: driver,
		Width:  80,
		Height: 24,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		tickCmd(),
	)
}

// tickMsg is sent periodically to refresh the elapsed-time display
type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.Driver.Stop()
		return m, tea.Quit

	// Playback controls
	case "enter":
		m.play(m.Cursor)

	case " ":
		m.Driver.Toggle()

	case "s":
		m.Driver.Stop()

	// Navigation
	case "up", "k":
		if m.Cursor > 0 {
			m.Cursor--
			m.ensureVisible()
		}

	case "down", "j":
		if m.Cursor < len(m.Songs)-1 {
			m.Cursor++
			m.ensureVisible()
		}

	case "pgup":
		m.Cursor -= 16
		if m.Cursor < 0 {
			m.Cursor = 0
		}
		m.ensureVisible()

	case "pgdown":
		m.Cursor += 16
		if m.Cursor >= len(m.Songs) {
			m.Cursor = len(m.Songs) - 1
		}
		m.ensureVisible()

	case "home":
		m.Cursor = 0
		m.ensureVisible()

	case "end":
		m.Cursor = len(m.Songs) - 1
		m.ensureVisible()
	}

	return m, nil
}

func (m *Model) play(i int) {
	if i < 0 || i >= len(m.Songs) {
		return
	}
	name := m.Songs[i]

	tl, err := m.Load(name)
	if err != nil {
		m.StatusMsg = err.Error()
		return
	}

	m.Driver.Load(tl)
	m.Current = name
	m.Length = time.Duration(tl.LengthMicros) * time.Microsecond
	m.StatusMsg = ""
}

func (m *Model) ensureVisible() {
	visible := m.listRows()
	if m.Cursor < m.Top {
		m.Top = m.Cursor
	}
	if m.Cursor >= m.Top+visible {
		m.Top = m.Cursor - visible + 1
	}
}

func (m Model) listRows() int {
	rows := m.Height - 6
	if rows < 4 {
		rows = 4
	}
	return rows
}

// View implements tea.Model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.listView())
	b.WriteString("\n")
	b.WriteString(m.transportView())
	b.WriteString("\n")
	b.WriteString(m.footerView())

	return b.String()
}

func (m Model) headerView() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("14")).
		Render("WADPLAY")

	return fmt.Sprintf("%s │ %d songs", title, len(m.Songs))
}

func (m Model) listView() string {
	if len(m.Songs) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("8")).
			Render("  no music lumps found")
	}

	var lines []string
	visible := m.listRows()

	for i := m.Top; i < m.Top+visible && i < len(m.Songs); i++ {
		name := m.Songs[i]

		cursor := "  "
		if i == m.Cursor {
			cursor = "> "
		}

		style := lipgloss.NewStyle()
		switch {
		case name == m.Current && i == m.Cursor:
			style = style.Foreground(lipgloss.Color("10")).Bold(true)
		case name == m.Current:
			style = style.Foreground(lipgloss.Color("10"))
		case i == m.Cursor:
			style = style.Foreground(lipgloss.Color("11")).Bold(true)
		default:
			style = style.Foreground(lipgloss.Color("7"))
		}

		marker := "  "
		if name == m.Current && m.Driver.State() == player.Playing {
			marker = "♪ "
		}

		lines = append(lines, cursor+style.Render(fmt.Sprintf("%-8s", name))+marker)
	}

	return strings.Join(lines, "\n")
}

func (m Model) transportView() string {
	state := m.Driver.State()

	stateStr := state.String()
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	switch state {
	case player.Playing:
		style = style.Foreground(lipgloss.Color("10")).Bold(true)
	case player.Paused:
		style = style.Foreground(lipgloss.Color("11")).Bold(true)
	}

	line := style.Render(strings.ToUpper(stateStr))
	if m.Current != "" {
		line += fmt.Sprintf(" │ %s │ %s / %s",
			m.Current, fmtDuration(m.Driver.Elapsed()), fmtDuration(m.Length))
	}

	if m.StatusMsg != "" {
		line += " │ " + lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).Render(m.StatusMsg)
	}

	return line
}

func (m Model) footerView() string {
	keys := " [↑↓]Select [Enter]Play [Space]Pause [S]Stop [Q]Quit"
	return lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(keys)
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
