package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/vega-mount/internal/status"
	"github.com/unklstewy/vega-mount/pkg/clock"
)

// maxLog is how many link lines the console keeps.
const maxLog = 200

// wireMessage mirrors status.Message with the payload left undecoded.
type wireMessage struct {
	Type      status.MessageType `json:"type"`
	Status    status.Severity    `json:"status"`
	Payload   json.RawMessage    `json:"payload"`
	Timestamp float64            `json:"timestamp"`
}

type logEntry struct {
	at       time.Time
	outgoing bool
	kind     status.MessageType
	severity status.Severity
	text     string
}

type lineMsg string

type linkClosedMsg struct{ err error }

type sentMsg struct {
	line string
	err  error
}

type model struct {
	link  io.Writer
	lines <-chan string
	now   func() time.Time

	input   string
	sent    []string
	recall  int
	entries []logEntry

	az, el   float64
	posValid bool
	posAt    time.Time

	closed error
	height int
	width  int
}

func newModel(link io.Writer, lines <-chan string, now func() time.Time) model {
	if now == nil {
		now = time.Now
	}
	return model{link: link, lines: lines, now: now, recall: -1}
}

func (m model) Init() tea.Cmd {
	sync := fmt.Sprintf("sync_time %.3f", clock.UnixSeconds(m.now()))
	return tea.Batch(m.send(sync), waitForLine(m.lines))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+s":
			return m, m.send("stop")
		case "enter":
			line := strings.TrimSpace(m.input)
			m.input = ""
			m.recall = -1
			if line == "" {
				return m, nil
			}
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			m.sent = append(m.sent, line)
			return m, m.send(line)
		case "esc":
			m.input = ""
			m.recall = -1
		case "backspace":
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case "up":
			if len(m.sent) > 0 {
				if m.recall < 0 {
					m.recall = len(m.sent)
				}
				if m.recall > 0 {
					m.recall--
				}
				m.input = m.sent[m.recall]
			}
		case "down":
			if m.recall >= 0 && m.recall < len(m.sent)-1 {
				m.recall++
				m.input = m.sent[m.recall]
			} else {
				m.recall = -1
				m.input = ""
			}
		default:
			switch msg.Type {
			case tea.KeySpace:
				m.input += " "
			case tea.KeyRunes:
				m.input += string(msg.Runes)
			}
		}

	case sentMsg:
		e := logEntry{at: m.now(), outgoing: true, text: msg.line}
		if msg.err != nil {
			e.severity = status.Error
			e.text = fmt.Sprintf("%s (%v)", msg.line, msg.err)
		}
		m.appendLog(e)

	case lineMsg:
		m.receive(string(msg))
		return m, waitForLine(m.lines)

	case linkClosedMsg:
		m.closed = msg.err
		if m.closed == nil {
			m.closed = io.EOF
		}
	}
	return m, nil
}

// receive decodes one line from the controller.
func (m *model) receive(line string) {
	var wm wireMessage
	if err := json.Unmarshal([]byte(line), &wm); err != nil {
		m.appendLog(logEntry{at: m.now(), kind: status.TypeGeneric, text: line})
		return
	}

	e := logEntry{at: m.now(), kind: wm.Type, severity: wm.Status}
	if wm.Type == status.TypePosition && wm.Status != status.Error {
		var pos status.Position
		if err := json.Unmarshal(wm.Payload, &pos); err == nil {
			m.az, m.el = pos.Azimuth, pos.Elevation
			m.posValid = true
			m.posAt = e.at
			// Broadcasts are shown in the header only.
			return
		}
	}

	var text string
	if err := json.Unmarshal(wm.Payload, &text); err != nil {
		text = string(wm.Payload)
	}
	e.text = text
	m.appendLog(e)
}

func (m *model) appendLog(e logEntry) {
	m.entries = append(m.entries, e)
	if len(m.entries) > maxLog {
		m.entries = m.entries[len(m.entries)-maxLog:]
	}
}

func (m model) send(line string) tea.Cmd {
	link := m.link
	return func() tea.Msg {
		_, err := io.WriteString(link, line+"\n")
		return sentMsg{line: line, err: err}
	}
}

func waitForLine(lines <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-lines
		if !ok {
			return linkClosedMsg{}
		}
		return lineMsg(line)
	}
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)
	positionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	outgoingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("VEGA antenna console"))
	b.WriteString("\n")

	if m.posValid {
		pos := fmt.Sprintf("Az %7.2f°  El %6.2f°", m.az, m.el)
		b.WriteString(positionStyle.Render(pos))
		b.WriteString(staleStyle.Render(fmt.Sprintf("  (%s ago)", m.now().Sub(m.posAt).Truncate(time.Second))))
	} else {
		b.WriteString(staleStyle.Render("position unknown"))
	}
	b.WriteString("\n\n")

	for _, e := range m.visibleEntries() {
		b.WriteString(renderEntry(e))
		b.WriteString("\n")
	}

	if m.closed != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("link closed: %v", m.closed)))
		b.WriteString("\n")
	}

	b.WriteString("\n> ")
	b.WriteString(m.input)
	b.WriteString("█\n")
	b.WriteString(hintStyle.Render("enter: send  ↑/↓: history  ctrl+s: stop  ctrl+c: quit"))
	return b.String()
}

func (m model) visibleEntries() []logEntry {
	rows := m.height - 8
	if rows <= 0 {
		rows = 20
	}
	if len(m.entries) <= rows {
		return m.entries
	}
	return m.entries[len(m.entries)-rows:]
}

func renderEntry(e logEntry) string {
	ts := e.at.Format("15:04:05")
	if e.outgoing {
		style := outgoingStyle
		if e.severity == status.Error {
			style = errorStyle
		}
		return style.Render(fmt.Sprintf("%s >> %s", ts, e.text))
	}

	style := okStyle
	switch e.severity {
	case status.Warning:
		style = warnStyle
	case status.Error:
		style = errorStyle
	}
	kind := string(e.kind)
	if kind == "" {
		kind = "RAW"
	}
	return style.Render(fmt.Sprintf("%s << %-15s %s", ts, kind, e.text))
}
