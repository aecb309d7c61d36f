// Conferencing TUI client.
//
// One full-screen view: a scrollable transcript viewport above a command
// input whose prompt tracks the active tab ("Tab 1 'room1'> ").  Commands
// start with '/'; anything else is sent to the active tab's room.
//
// Concurrency
// -----------
//   The session core owns the TCP socket and its reader goroutine.  Inbound
//   broadcasts surface on the session's Events channel and are consumed one
//   at a time via waitForEvent (a tea.Cmd), immediately re-armed after each
//   event is processed.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"confchat/internal/client"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	red    = lipgloss.Color("196")
	blue   = lipgloss.Color("75")
	yellow = lipgloss.Color("220")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	promptStyle = lipgloss.NewStyle().Bold(true)
	sessStyle   = lipgloss.NewStyle().Foreground(blue).Bold(true)
	sysStyle    = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	errStyle    = lipgloss.NewStyle().Foreground(red)
	echoStyle   = lipgloss.NewStyle().Foreground(gray)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type broadcastMsg client.Event  // a room broadcast arrived
type listenerClosedMsg struct{} // the session's listener exited

// waitForEvent blocks until the next broadcast arrives on ch.
func waitForEvent(ch <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return listenerClosedMsg{}
		}
		return broadcastMsg(ev)
	}
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	sess *client.Session

	ready    bool
	viewport viewport.Model
	input    textinput.Model
	lines    []string

	loggedOut bool // /logout issued; suppress the disconnect notice

	width, height int
}

func newModel() model {
	in := textinput.New()
	in.Placeholder = "/login <clientID> <password> <serverIP> <serverPort>"
	in.CharLimit = 1024
	in.Prompt = ""
	in.Focus()

	m := model{sess: client.NewSession(), input: in}
	m.input.Prompt = promptStyle.Render(m.sess.Prompt())
	return m
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.input.Width = msg.Width - 4
		return m, nil

	case broadcastMsg:
		ev := client.Event(msg)
		label := sessStyle.Render("Session " + ev.Room)
		if ev.Tab < 0 {
			label += sysStyle.Render(" (no tab)")
		}
		m.appendLine(fmt.Sprintf("%s: %s: %s", label, ev.Sender, ev.Text))
		return m, waitForEvent(m.sess.Events())

	case listenerClosedMsg:
		if !m.loggedOut {
			m.appendLine(errStyle.Render("Disconnected from server."))
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyPgUp:
			m.viewport.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.viewport.HalfViewDown()
			return m, nil
		case tea.KeyEnter:
			return m.handleLine()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleLine runs the typed line through the command parser and renders its
// output.
func (m model) handleLine() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.Reset()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}

	wasConnected := m.sess.Connected()
	m.appendLine(echoStyle.Render(m.sess.Prompt() + line))

	out, quit := client.Execute(m.sess, line)
	for _, l := range out {
		m.appendLine(strings.TrimRight(l, "\n"))
	}
	if quit {
		return m, tea.Quit
	}

	if strings.HasPrefix(line, "/logout") && !m.sess.Connected() {
		m.loggedOut = true
	}

	m.input.Prompt = promptStyle.Render(m.sess.Prompt())

	// A fresh login brings a fresh events channel; start draining it.
	if !wasConnected && m.sess.Connected() {
		m.loggedOut = false
		return m, waitForEvent(m.sess.Events())
	}
	return m, nil
}

// vpHeight returns the lines available for the transcript viewport.
func (m model) vpHeight() int {
	// header (1) + footer border (1) + footer input (1)
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// appendLine adds a rendered line and scrolls to the bottom.
func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if m.ready {
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
	}
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (m model) View() string {
	if !m.ready {
		return "\n  Starting…"
	}

	who := "not logged in"
	if id := m.sess.ClientID(); id != "" {
		who = id
	}
	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" Conferences  ·  %s  ·  PgUp/Dn: Scroll  Ctrl+C: Quit", who))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	p := tea.NewProgram(
		newModel(),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
