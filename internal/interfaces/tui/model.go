// Package tui implements enginetui: a Bubble Tea dashboard that drives
// the same HTTP/SSE surface enginectl uses, for operators who want a
// live view instead of a scrollback of tail output.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/interfaces/cli"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D7FF"))
	pausedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD75F"))
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF87"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
)

type turnMsg *entity.Turn
type healthMsg map[string]any
type streamErrMsg error

// Model is the enginetui Bubble Tea state.
type Model struct {
	client   *cli.Client
	renderer *cli.Renderer
	viewport viewport.Model
	spinner  spinner.Model

	lines   []string
	paused  bool
	lastSeq int64
	addr    string

	turnCh chan *entity.Turn
	errCh  chan error

	ready bool
}

// New constructs a Model that talks to the engine at addr.
func New(addr string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		client:   cli.NewClient(addr),
		renderer: cli.NewRenderer(100),
		spinner:  sp,
		addr:     addr,
		turnCh:   make(chan *entity.Turn, 32),
		errCh:    make(chan error, 1),
	}
}

// Init starts the SSE subscription goroutine and the spinner tick.
func (m Model) Init() tea.Cmd {
	go m.streamEvents()
	return tea.Batch(m.spinner.Tick, waitForTurn(m.turnCh), waitForErr(m.errCh))
}

func (m Model) streamEvents() {
	err := m.client.TailEvents(20, func(t *entity.Turn) bool {
		m.turnCh <- t
		return true
	})
	if err != nil {
		m.errCh <- err
	}
}

func waitForTurn(ch chan *entity.Turn) tea.Cmd {
	return func() tea.Msg { return turnMsg(<-ch) }
}

func waitForErr(ch chan error) tea.Cmd {
	return func() tea.Msg { return streamErrMsg(<-ch) }
}

// Update handles key presses, window resizes, and incoming turn and
// stream-error messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			go m.client.Pause()
			m.paused = true
			return m, nil
		case "u":
			go m.client.Unpause()
			m.paused = false
			return m, nil
		}

	case turnMsg:
		t := (*entity.Turn)(msg)
		m.lastSeq = t.Seq
		m.lines = append(m.lines, m.renderer.RenderTurn(t))
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
		return m, waitForTurn(m.turnCh)

	case streamErrMsg:
		m.lines = append(m.lines, fmt.Sprintf("stream error: %v", msg))
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the header, the scrollable turn log, and a key hint footer.
func (m Model) View() string {
	if !m.ready {
		return "initializing..."
	}

	status := runningStyle.Render("running")
	if m.paused {
		status = pausedStyle.Render("paused")
	}
	header := headerStyle.Render(fmt.Sprintf("enginetui  %s  seq=%d  %s", m.addr, m.lastSeq, status))

	footer := footerStyle.Render(fmt.Sprintf("%s p pause  u unpause  q quit", m.spinner.View()))

	return fmt.Sprintf("%s\n%s\n%s", header, m.viewport.View(), footer)
}
