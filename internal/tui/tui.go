package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/storyframe/internal/engine"
	"github.com/tatianab/storyframe/internal/models"
)

type sessionState int

const (
	stateInputHint sessionState = iota
	stateLoading
	statePlaying
	stateError
)

type model struct {
	ctx       context.Context
	state     sessionState
	engine    *engine.Engine
	sessionID string
	world     models.GameState
	textInput textinput.Model
	viewport  viewport.Model
	err       error
	gameLog   string
	width     int
	height    int

	turn      *engine.Turn
	image     *engine.ImageResult
	choices   []string
	fallback  bool
	decisions chan string
	cancel    context.CancelFunc
	deadline  time.Time
	now       time.Time
	resume    tea.Cmd
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	readyBadge   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")).Bold(true)
	pendingBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF00"))
	failedBadge  = lipgloss.NewStyle().Foreground(lipgloss.Color("#D75F5F"))
)

func newModel(ctx context.Context, eng *engine.Engine, snap engine.Snapshot) model {
	ti := textinput.New()
	ti.Placeholder = "Enter a hint or leave empty for a surprise..."
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 60

	m := model{
		ctx:       ctx,
		state:     stateInputHint,
		engine:    eng,
		sessionID: snap.Session,
		textInput: ti,
		now:       time.Now(),
	}
	if snap.State.Begun() {
		m.state = statePlaying
		m.world = snap.State
		for _, entry := range snap.History {
			m.gameLog += m.renderEntry(entry)
		}
		if n := len(snap.History); n > 0 {
			last := snap.History[n-1]
			m.choices = last.Choices
			m.fallback = last.ChoicesFallback
			if last.Image != nil {
				m.image = &engine.ImageResult{Frame: last.Image, Prompt: last.ImagePrompt}
			}
		}
		m.textInput.Placeholder = "What do you do? (a number picks a choice)"
		m, m.resume = m.awaitDecision()
	}
	return m
}

type turnStartedMsg struct {
	turn *engine.Turn
	err  error
}

type imageMsg struct {
	turn *engine.Turn
	res  engine.ImageResult
}

type choicesMsg struct {
	turn *engine.Turn
	res  engine.ChoiceResult
}

type persistedMsg struct {
	turn *engine.Turn
	out  engine.Outcome
	err  error
}

type resetMsg struct {
	err error
}

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(), m.resume)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.stopDecision()
			return m, tea.Quit

		case tea.KeyEnter:
			if m.state == stateInputHint {
				hint := strings.TrimSpace(m.textInput.Value())
				m.textInput.Reset()
				m.state = stateLoading
				return m, m.begin(hint)
			}
			if m.state == statePlaying {
				return m.submit(strings.TrimSpace(m.textInput.Value()))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.viewport.Width == 0 {
			m.viewport = viewport.New(m.logWidth(), msg.Height-8)
		}
		m.viewport.Width = m.logWidth()
		m.viewport.Height = msg.Height - 8
		m.viewport.SetContent(m.gameLog)
		m.viewport.GotoBottom()

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case turnStartedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, context.Canceled) {
				return m, nil
			}
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.stopDecision()
		t := msg.turn
		m.turn = t
		m.world = t.State
		m.image = nil
		m.choices = nil
		m.state = statePlaying
		m.textInput.Placeholder = "What do you do? (a number picks a choice)"
		if t.TimedOut {
			m.appendLog(helpStyle.Render("You hesitate...") + "\n\n")
		}
		m.appendLog(gameStyle.Width(m.logWidth()).Render(t.Narrative.Text) + "\n\n")
		return m, tea.Batch(waitImage(m.ctx, t), waitChoices(m.ctx, t), waitPersisted(m.ctx, t))

	case imageMsg:
		if msg.turn == m.turn {
			res := msg.res
			m.image = &res
		}
		return m, nil

	case choicesMsg:
		if msg.turn == m.turn {
			m.choices = msg.res.Choices
			m.fallback = msg.res.Fallback
		}
		return m, nil

	case persistedMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.turn = nil
		m.world = msg.out.State
		m, cmd = m.awaitDecision()
		return m, cmd

	case resetMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.state = stateInputHint
		m.gameLog = ""
		m.world = models.GameState{}
		m.image = nil
		m.choices = nil
		m.textInput.Placeholder = "Enter a hint or leave empty for a surprise..."
		m.viewport.SetContent("")
		return m, nil
	}

	if m.state == stateInputHint || m.state == statePlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) submit(input string) (tea.Model, tea.Cmd) {
	m.textInput.Reset()
	switch input {
	case "":
		return m, nil
	case "/quit":
		m.stopDecision()
		return m, tea.Quit
	case "/reset":
		m.stopDecision()
		m.state = stateLoading
		return m, m.reset()
	}
	if m.decisions == nil {
		// The previous turn is still finishing.
		return m, nil
	}
	action := input
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(m.choices) {
		action = m.choices[n-1]
	}
	m.appendLog(userStyle.Width(m.logWidth()).Render("> "+action) + "\n\n")
	m.decisions <- action
	m.decisions = nil
	m.deadline = time.Time{}
	return m, nil
}

// awaitDecision starts the decision deadline. The engine hesitates on the
// player's behalf when it passes.
func (m model) awaitDecision() (model, tea.Cmd) {
	ctx, cancel := context.WithCancel(m.ctx)
	decisions := make(chan string, 1)
	m.decisions = decisions
	m.cancel = cancel
	m.deadline = time.Now().Add(m.engine.Options().DecisionTimeout)
	eng, id := m.engine, m.sessionID
	return m, func() tea.Msg {
		t, err := eng.Decide(ctx, id, decisions)
		return turnStartedMsg{turn: t, err: err}
	}
}

func (m *model) stopDecision() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.decisions = nil
	m.deadline = time.Time{}
}

func (m *model) appendLog(s string) {
	m.gameLog += s
	m.viewport.SetContent(m.gameLog)
	m.viewport.GotoBottom()
}

func (m model) logWidth() int {
	return int(float64(m.width) * 0.70)
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateInputHint:
		s = fmt.Sprintf(
			"Welcome to Storyframe!\n\n%s\n\n%s",
			"Give me a hint about the world you want to play in:",
			m.textInput.View(),
		)

	case stateLoading:
		s = "\n  Weaving your world... please wait.\n"

	case statePlaying:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), m.renderState())
		help := helpStyle.Render("Commands: /reset, /quit, a choice number, or type what you want to do.")
		s = lipgloss.JoinVertical(lipgloss.Left,
			mainView,
			m.renderChoices(),
			m.textInput.View(),
			"\n"+help,
		)

	case stateError:
		s = fmt.Sprintf("\n  Error: %v\n\nPress Esc to quit.", m.err)
	}

	return "\n" + s + "\n"
}

func (m model) renderState() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("TURN %d", m.world.TurnCount)) + "\n")
	b.WriteString(m.world.CurrentSituation + "\n\n")

	b.WriteString(titleStyle.Render("FRAME") + "\n")
	b.WriteString(m.imageBadge() + "\n")
	if m.image != nil && m.image.Frame != nil {
		path := string(m.image.Frame.Full)
		if m.image.Frame.Preview != "" {
			path = string(m.image.Frame.Preview)
		}
		b.WriteString(path + "\n")
	}
	b.WriteString(m.choicesBadge() + "\n\n")

	if len(m.world.RecentEvents) > 0 {
		b.WriteString(titleStyle.Render("RECENT") + "\n")
		events := m.world.RecentEvents
		if len(events) > 4 {
			events = events[len(events)-4:]
		}
		for _, e := range events {
			b.WriteString("- " + e + "\n")
		}
		b.WriteString("\n")
	}

	if n := len(m.world.SeenElements); n > 0 {
		b.WriteString(titleStyle.Render("SEEN") + "\n")
		b.WriteString(strings.Join(m.world.SeenElements[max(0, n-8):], ", ") + "\n\n")
	}

	if !m.deadline.IsZero() {
		left := m.deadline.Sub(m.now).Round(time.Second)
		if left < 0 {
			left = 0
		}
		b.WriteString(pendingBadge.Render(fmt.Sprintf("decide within %s", left)) + "\n")
	}

	return stateStyle.Width(int(float64(m.width) * 0.27)).Height(m.viewport.Height).Render(b.String())
}

func (m model) imageBadge() string {
	switch {
	case m.image == nil:
		return pendingBadge.Render("image: painting...")
	case m.image.Err != nil:
		return failedBadge.Render("image: unavailable")
	default:
		return readyBadge.Render("image: ready")
	}
}

func (m model) choicesBadge() string {
	switch {
	case m.choices == nil:
		return pendingBadge.Render("choices: thinking...")
	case m.fallback:
		return failedBadge.Render("choices: fallback")
	default:
		return readyBadge.Render("choices: ready")
	}
}

func (m model) renderChoices() string {
	if len(m.choices) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range m.choices {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, c)
	}
	return b.String()
}

func (m model) renderEntry(entry models.HistoryEntry) string {
	var s string
	if entry.Turn > 0 {
		s += userStyle.Width(m.logWidth()).Render("> "+entry.Choice) + "\n\n"
	}
	return s + gameStyle.Width(m.logWidth()).Render(entry.Narrative) + "\n\n"
}

func (m model) begin(hint string) tea.Cmd {
	ctx, eng, id := m.ctx, m.engine, m.sessionID
	return func() tea.Msg {
		t, err := eng.Begin(ctx, id, hint)
		return turnStartedMsg{turn: t, err: err}
	}
}

func (m model) reset() tea.Cmd {
	ctx, eng, id := m.ctx, m.engine, m.sessionID
	return func() tea.Msg {
		return resetMsg{err: eng.Reset(ctx, id)}
	}
}

func waitImage(ctx context.Context, t *engine.Turn) tea.Cmd {
	return func() tea.Msg {
		res, err := t.Image(ctx)
		if err != nil {
			res.Err = err
		}
		return imageMsg{turn: t, res: res}
	}
}

func waitChoices(ctx context.Context, t *engine.Turn) tea.Cmd {
	return func() tea.Msg {
		res, err := t.Choices(ctx)
		if err != nil {
			res.Err = err
		}
		return choicesMsg{turn: t, res: res}
	}
}

func waitPersisted(ctx context.Context, t *engine.Turn) tea.Cmd {
	return func() tea.Msg {
		out, err := t.Wait(ctx)
		return persistedMsg{turn: t, out: out, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Run plays a session in the terminal until the player quits.
func Run(ctx context.Context, eng *engine.Engine, sessionID string) error {
	snap, err := eng.Snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	p := tea.NewProgram(newModel(ctx, eng, snap), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}
