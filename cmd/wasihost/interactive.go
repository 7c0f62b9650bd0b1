package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/bind"
)

const previewLimit = 2048

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateEdit modelState = iota
	stateRunning
	stateShowResult
)

const (
	fieldURL = iota
	fieldMethod
	fieldHeaders
	fieldBody
)

type interactiveModel struct {
	err     error
	program *tea.Program
	res     *result
	cfg     bind.Config
	cancel  context.CancelFunc
	stage   string
	body    string
	started time.Time
	inputs  []textinput.Model
	spin    spinner.Model
	base    request
	focus   int
	state   modelState
}

// lockedBuffer collects a body written from the stream's writer goroutine.
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := previewLimit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *lockedBuffer) preview(total uint64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if total > uint64(b.buf.Len()) {
		return b.buf.String() + "\n..."
	}
	return b.buf.String()
}

type stageMsg string

type fetchDoneMsg struct {
	err  error
	res  *result
	body string
}

func newInteractiveModel(cfg bind.Config, base request) *interactiveModel {
	labels := []struct{ prompt, value, placeholder string }{
		{"url: ", base.url, "http://localhost:8080/"},
		{"method: ", base.method, "GET"},
		{"headers: ", "", "name:value,name2:value2"},
		{"body: ", base.body, ""},
	}
	inputs := make([]textinput.Model, len(labels))
	for i, l := range labels {
		ti := textinput.New()
		ti.Prompt = l.prompt
		ti.Placeholder = l.placeholder
		ti.SetValue(l.value)
		ti.Width = 60
		if i == fieldURL {
			ti.Focus()
		}
		inputs[i] = ti
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = valueStyle

	return &interactiveModel{
		cfg:    cfg,
		base:   base,
		inputs: inputs,
		spin:   s,
		state:  stateEdit,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit

		case "esc":
			switch m.state {
			case stateRunning:
				m.cancel()
			case stateShowResult:
				m.state = stateEdit
			case stateEdit:
				return m, tea.Quit
			}
			return m, nil

		case "tab", "shift+tab":
			if m.state == stateEdit {
				step := 1
				if msg.String() == "shift+tab" {
					step = len(m.inputs) - 1
				}
				m.inputs[m.focus].Blur()
				m.focus = (m.focus + step) % len(m.inputs)
				m.inputs[m.focus].Focus()
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateEdit:
				return m, m.start()
			case stateShowResult:
				m.state = stateEdit
				return m, nil
			}
		}

	case stageMsg:
		m.stage = string(msg)
		return m, nil

	case fetchDoneMsg:
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.err = msg.err
		m.res = msg.res
		m.body = msg.body
		m.state = stateShowResult
		return m, nil

	case spinner.TickMsg:
		if m.state != stateRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	if m.state == stateEdit {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd
	}
	return m, nil
}

// start launches a fetch built from the form.
func (m *interactiveModel) start() tea.Cmd {
	req := m.base
	req.url = strings.TrimSpace(m.inputs[fieldURL].Value())
	req.method = strings.TrimSpace(m.inputs[fieldMethod].Value())
	req.body = m.inputs[fieldBody].Value()
	if req.method == "" {
		req.method = "GET"
	}
	hdrs, err := parseHeaders(strings.TrimSpace(m.inputs[fieldHeaders].Value()))
	if err != nil {
		m.err, m.res, m.body = err, nil, ""
		m.state = stateShowResult
		return nil
	}
	req.headers = append(append(req.headers[:0:0], m.base.headers...), hdrs...)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = stateRunning
	m.stage = "starting"
	m.started = time.Now()

	program := m.program
	cfg := m.cfg
	fetch := func() tea.Msg {
		w := newWASI()
		defer func() { _ = w.Close() }()

		var out lockedBuffer
		res, err := newClient(w, cfg).fetch(ctx, req, &out, func(stage string) {
			if program != nil {
				program.Send(stageMsg(stage))
			}
		})
		var total uint64
		if res != nil {
			total = res.bytes
		}
		return fetchDoneMsg{res: res, err: err, body: out.preview(total)}
	}
	return tea.Batch(m.spin.Tick, fetch)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASI HTTP"))
	b.WriteString("\n\n")

	switch m.state {
	case stateEdit:
		for _, in := range m.inputs {
			b.WriteString(in.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter send • esc quit"))

	case stateRunning:
		b.WriteString(m.spin.View())
		b.WriteString(" ")
		b.WriteString(m.stage)
		b.WriteString(helpStyle.Render(fmt.Sprintf(" (%s)", time.Since(m.started).Round(time.Millisecond))))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc cancel"))

	case stateShowResult:
		if m.res != nil {
			b.WriteString(resultStyle.Render(fmt.Sprintf("%d", m.res.status)))
			b.WriteString(helpStyle.Render(fmt.Sprintf("  %d bytes", m.res.bytes)))
			b.WriteString("\n")
			for _, e := range m.res.headers {
				b.WriteString(nameStyle.Render(e.Name) + ": " + valueStyle.Render(string(e.Value)) + "\n")
			}
			b.WriteString("\n")
			b.WriteString(m.body)
			b.WriteString("\n")
			for _, e := range m.res.trailers {
				b.WriteString(nameStyle.Render(e.Name) + ": " + valueStyle.Render(string(e.Value)) + helpStyle.Render(" (trailer)") + "\n")
			}
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter edit • ctrl+c quit"))
	}

	return b.String()
}

func runInteractive(cfg bind.Config, base request) error {
	// The TUI owns the terminal.
	preview2.SetLogger(zap.NewNop())

	m := newInteractiveModel(cfg, base)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	_, err := p.Run()
	return err
}
