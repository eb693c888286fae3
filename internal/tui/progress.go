// Package tui renders live progress for a curriculum build with bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rewardcraft/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#555555")).Padding(0, 1)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
)

type stageStatus int

const (
	stagePending stageStatus = iota
	stageWorking
	stageAccepted
	stageFailed
)

type stageRow struct {
	task     string
	status   stageStatus
	attempts int
}

// EventMsg carries one pipeline event into the program.
type EventMsg pipeline.Event

// DoneMsg ends the program with the build outcome.
type DoneMsg struct {
	Result pipeline.Result
	Err    error
}

// Model is the bubbletea model for one build.
type Model struct {
	env       string
	spinner   spinner.Model
	phase     string
	planTries int
	stages    []stageRow
	violation string
	done      bool
	result    pipeline.Result
	err       error
	cancel    context.CancelFunc
}

func NewModel(env string, cancel context.CancelFunc) Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))
	return Model{env: env, spinner: s, phase: "planning curriculum", cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			m.phase = "cancelling"
		}
		return m, nil
	case EventMsg:
		m.apply(pipeline.Event(msg))
		return m, nil
	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventPlanAttempt:
		m.planTries = ev.Attempt
	case pipeline.EventPlanAccepted:
		m.stages = make([]stageRow, 0, ev.Total)
		for _, name := range strings.Split(ev.Message, ", ") {
			m.stages = append(m.stages, stageRow{task: name})
		}
		m.phase = "synthesising reward functions"
		m.violation = ""
	case pipeline.EventRewardAttempt:
		if row := m.row(ev.Index); row != nil {
			row.status = stageWorking
			row.attempts = ev.Attempt
		}
	case pipeline.EventViolation:
		m.violation = ev.Message
	case pipeline.EventRewardAccepted:
		if row := m.row(ev.Index); row != nil {
			row.status = stageAccepted
		}
		m.violation = ""
	case pipeline.EventAssembled:
		m.phase = "curriculum assembled"
	case pipeline.EventFailed:
		m.phase = "build failed"
		for i := range m.stages {
			if m.stages[i].status == stageWorking {
				m.stages[i].status = stageFailed
			}
		}
		m.violation = ev.Message
	}
}

func (m *Model) row(i int) *stageRow {
	if i < 0 || i >= len(m.stages) {
		return nil
	}
	return &m.stages[i]
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("rewardcraft · " + m.env))
	b.WriteString("\n\n")
	if m.done {
		if m.err != nil {
			b.WriteString(failStyle.Render("✗ " + m.phase))
		} else {
			b.WriteString(doneStyle.Render("✓ " + m.phase))
		}
	} else {
		b.WriteString(m.spinner.View() + " " + m.phase)
	}
	if m.planTries > 1 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" (plan attempt %d)", m.planTries)))
	}
	b.WriteString("\n")

	if len(m.stages) > 0 {
		lines := make([]string, 0, len(m.stages))
		for i, row := range m.stages {
			lines = append(lines, fmt.Sprintf("%s %d. %s%s", m.marker(row.status), i+1, row.task, attemptsNote(row.attempts)))
		}
		b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}
	if m.violation != "" {
		b.WriteString(failStyle.Render("last violation: ") + m.violation + "\n")
	}
	if m.done && m.err == nil {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("build %s · curriculum %s", m.result.Build.ID, m.result.Curriculum.ID)))
		b.WriteString("\n")
	} else if !m.done {
		b.WriteString(mutedStyle.Render("q to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) marker(s stageStatus) string {
	switch s {
	case stageWorking:
		if m.done {
			return "·"
		}
		return m.spinner.View()
	case stageAccepted:
		return doneStyle.Render("✓")
	case stageFailed:
		return failStyle.Render("✗")
	default:
		return mutedStyle.Render("·")
	}
}

func attemptsNote(n int) string {
	if n <= 1 {
		return ""
	}
	return mutedStyle.Render(fmt.Sprintf(" (attempt %d)", n))
}

// Run drives build inside a bubbletea program, forwarding its events, and
// returns the build outcome once the program exits.
func Run(ctx context.Context, env string, build func(ctx context.Context, observe pipeline.Observer) (pipeline.Result, error), opts ...tea.ProgramOption) (pipeline.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(env, cancel), opts...)
	go func() {
		res, err := build(ctx, func(ev pipeline.Event) { p.Send(EventMsg(ev)) })
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("tui: %w", err)
	}
	m, ok := final.(Model)
	if !ok || !m.done {
		return pipeline.Result{}, context.Canceled
	}
	return m.result, m.err
}
