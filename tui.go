package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"chikitsa/audio"
	"chikitsa/clipboard"
	"chikitsa/controller"
	"chikitsa/log"
	"chikitsa/timeline"
)

const (
	greeting       = "Hi, How can I help you?"
	userLabel      = "You"
	assistantLabel = "Chikitsa"

	// Below this peak RMS a recording is treated as silent.
	noVoiceLevel = 0.02

	inputHeight  = 3
	chromeHeight = 5 // header, notice, status, help, spacing
)

// TUI message types
type stateMsg controller.State
type copiedMsg struct{ err error }
type statusClearMsg struct{ id int }

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type tuiModel struct {
	ctrl          *controller.Controller
	st            controller.State
	input         textarea.Model
	viewport      viewport.Model
	spinner       spinner.Model
	md            *glamour.TermRenderer
	rendered      map[string]string // message ID -> glamour output at current width
	width, height int
	deviceLine    string
	status        string // transient footer text, e.g. clipboard result
	statusID      int
	peakLevel     float64 // peak input level during the current recording
}

func newModel(ctrl *controller.Controller, device string) tuiModel {
	ta := textarea.New()
	ta.Placeholder = "Ask a question..."
	ta.ShowLineNumbers = false
	ta.Prompt = "┃ "
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	if device == "" {
		device = "system default"
	}
	deviceLine := "mic: " + device
	if audio.IsBluetooth(device) {
		deviceLine += " (BT!)"
	}

	return tuiModel{
		ctrl:       ctrl,
		input:      ta,
		viewport:   viewport.New(80, 20),
		spinner:    sp,
		rendered:   make(map[string]string),
		deviceLine: deviceLine,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-inputHeight-chromeHeight, 3)
		m.input.SetWidth(msg.Width)
		m.md = newMarkdownRenderer(msg.Width - 4)
		m.rendered = make(map[string]string)
		m.refresh()

	case stateMsg:
		prev := m.st
		m.st = controller.State(msg)
		if _, ok := m.st.Mode.(controller.RecordingVoice); ok {
			if _, was := prev.Mode.(controller.RecordingVoice); !was {
				m.peakLevel = 0
			}
			m.peakLevel = max(m.peakLevel, m.st.Level)
		}
		if voiceFinished(prev.Mode, m.st.Mode) {
			m.input.SetValue(m.st.Draft)
			m.input.CursorEnd()
		}
		if m.st.AcceptsInput() {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.hasPending() {
			m.refresh()
		}
		return m, cmd

	case copiedMsg:
		m.statusID++
		if msg.err != nil {
			log.Warnf("copy failed: %v", msg.err)
			m.status = warnStyle.Render("copy failed: " + msg.err.Error())
		} else {
			m.status = okStyle.Render("[✓ copied]")
		}
		id := m.statusID
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return statusClearMsg{id: id} })

	case statusClearMsg:
		if msg.id == m.statusID {
			m.status = ""
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	// A blocking notice swallows the key that acknowledges it.
	if m.st.Notice.Blocking {
		m.ctrl.DismissNotice()
		return m, nil
	}

	switch key {
	case "ctrl+y":
		return m, copyAnswer(m.st.LastAnswer())
	case "ctrl+l":
		m.ctrl.ResetConversation()
		return m, nil
	case "ctrl+r":
		if _, ok := m.st.Mode.(controller.RecordingVoice); ok {
			m.ctrl.StopVoiceCapture()
		} else {
			m.ctrl.BeginVoiceCapture()
		}
		return m, nil
	case "ctrl+x":
		m.ctrl.CancelVoiceCapture()
		return m, nil
	case "esc":
		switch m.st.Mode.(type) {
		case controller.Revealing:
			m.ctrl.CancelReveal()
		case controller.RecordingVoice, controller.TranscribingAudio:
			m.ctrl.CancelVoiceCapture()
		default:
			if m.st.Notice.Text != "" {
				m.ctrl.DismissNotice()
			}
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		if !m.st.AcceptsInput() {
			return m, nil
		}
		m.ctrl.SubmitQuestion(m.input.Value())
		// A question that was taken clears the controller's draft.
		if m.ctrl.Snapshot().Draft == "" {
			m.input.Reset()
		}
		return m, nil
	}

	if !m.st.AcceptsInput() {
		return m, nil
	}
	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.ctrl.UpdateDraft(after)
	}
	return m, cmd
}

// voiceFinished reports a transition out of recording or transcription,
// after which the controller owns the draft text.
func voiceFinished(prev, next controller.Mode) bool {
	switch prev.(type) {
	case controller.RecordingVoice, controller.TranscribingAudio:
	default:
		return false
	}
	switch next.(type) {
	case controller.RecordingVoice, controller.TranscribingAudio:
		return false
	}
	return true
}

func copyAnswer(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{err: clipboard.Copy(text)}
	}
}

func newMarkdownRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width, 20)),
	)
	if err != nil {
		log.Warnf("markdown renderer: %v", err)
		return nil
	}
	return r
}

func (m *tuiModel) hasPending() bool {
	_, ok := m.st.Mode.(controller.Sending)
	return ok
}

// refresh re-renders the conversation into the viewport and keeps the
// newest line visible.
func (m *tuiModel) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *tuiModel) renderMessages() string {
	width := max(m.viewport.Width-2, 10)
	var b strings.Builder

	if len(m.st.Messages) == 0 {
		b.WriteString(assistantStyle.Render(assistantLabel) + "\n")
		b.WriteString(strings.Join(wrapText(greeting, width), "\n") + "\n")
		return b.String()
	}

	revealing := -1
	if r, ok := m.st.Mode.(controller.Revealing); ok {
		revealing = r.Index
	}

	for i, msg := range m.st.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if msg.Sender == timeline.User {
			b.WriteString(userStyle.Render(userLabel) + "\n")
			b.WriteString(strings.Join(wrapText(msg.Text, width), "\n") + "\n")
			continue
		}

		b.WriteString(assistantStyle.Render(assistantLabel) + "\n")
		switch {
		case msg.Status == timeline.Pending:
			b.WriteString(m.spinner.View() + dimStyle.Render(" Thinking...") + "\n")
		case msg.Status == timeline.Error:
			b.WriteString(errorStyle.Render(msg.Text) + "\n")
		case i == revealing:
			b.WriteString(strings.Join(wrapText(msg.Text, width), "\n") + "▌\n")
		case msg.Text != "":
			b.WriteString(m.markdown(msg) + "\n")
		}
	}
	return b.String()
}

func (m *tuiModel) markdown(msg timeline.Message) string {
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	if m.md == nil {
		return msg.Text
	}
	out, err := m.md.Render(msg.Text)
	if err != nil {
		return msg.Text
	}
	out = strings.Trim(out, "\n")
	m.rendered[msg.ID] = out
	return out
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string
	lines = append(lines, titleStyle.Render("Chikitsa")+dimStyle.Render("  "+m.deviceLine))
	lines = append(lines, m.viewport.View())

	switch {
	case m.st.Notice.Blocking:
		lines = append(lines, warnStyle.Render("⚠ "+m.st.Notice.Text)+dimStyle.Render(" (press any key)"))
	case m.st.Notice.Text != "":
		lines = append(lines, warnStyle.Render(m.st.Notice.Text))
	default:
		lines = append(lines, m.status)
	}

	lines = append(lines, m.statusLine())
	lines = append(lines, m.input.View())
	lines = append(lines, m.helpLine())
	return strings.Join(lines, "\n")
}

func (m tuiModel) statusLine() string {
	switch m.st.Mode.(type) {
	case controller.RecordingVoice:
		line := recStyle.Render(fmt.Sprintf("● REC %.1fs", m.st.Elapsed.Seconds())) + " " + levelBar(m.st.Level)
		if m.st.Elapsed > time.Second && m.peakLevel < noVoiceLevel {
			line += warnStyle.Render("  ⚠ no voice detected")
		}
		return line
	case controller.TranscribingAudio:
		return m.spinner.View() + dimStyle.Render(" Transcribing...")
	case controller.Sending:
		return m.spinner.View() + dimStyle.Render(" Waiting for answer...")
	case controller.Revealing:
		return dimStyle.Render("Answering... (esc to show all)")
	case controller.Errored:
		return errorStyle.Render(timeline.FailureText)
	default:
		if !m.st.VoiceAvailable {
			return dimStyle.Render("○ Ready (voice off)")
		}
		return dimStyle.Render("○ Ready")
	}
}

func (m tuiModel) helpLine() string {
	parts := []string{
		helpKeyStyle.Render("enter") + helpStyle.Render(" send"),
	}
	if m.st.VoiceAvailable {
		parts = append(parts, helpKeyStyle.Render("ctrl+r")+helpStyle.Render(" record/stop"))
		parts = append(parts, helpKeyStyle.Render("ctrl+x")+helpStyle.Render(" cancel rec"))
	}
	parts = append(parts,
		helpKeyStyle.Render("ctrl+y")+helpStyle.Render(" copy"),
		helpKeyStyle.Render("ctrl+l")+helpStyle.Render(" reset"),
		helpKeyStyle.Render("ctrl+c")+helpStyle.Render(" quit"),
	)
	return strings.Join(parts, helpStyle.Render(" · ")) + helpStyle.Render("  chikitsa "+version)
}

// levelBar draws the input level as ten cells. Speech RMS rarely exceeds
// 0.3, so that maps to a full bar.
func levelBar(level float64) string {
	const cells = 10
	n := min(int(level/0.3*cells+0.5), cells)
	n = max(n, 0)
	return recStyle.Render(strings.Repeat("▮", n)) + dimStyle.Render(strings.Repeat("▯", cells-n))
}

// wrapText breaks text into lines of at most width runes, splitting at the
// last space where possible and keeping existing line breaks.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		r := []rune(para)
		for len(r) > width {
			splitAt := width
			for i := width; i > 0; i-- {
				if r[i] == ' ' {
					splitAt = i
					break
				}
			}
			lines = append(lines, string(r[:splitAt]))
			r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
		}
		lines = append(lines, string(r))
	}
	return lines
}
