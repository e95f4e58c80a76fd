package cmd

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/tpled/internal/tplclient"
)

type pollFunc func(ctx context.Context) (*tplclient.LoginPollResponse, error)

type pollDoneMsg struct {
	resp *tplclient.LoginPollResponse
	err  error
}

// spinnerModel shows a spinner while a poll runs in the background.
type spinnerModel struct {
	spinner spinner.Model
	label   string
	ctx     context.Context
	cancel  context.CancelFunc
	run     pollFunc

	resp *tplclient.LoginPollResponse
	err  error
	done bool
}

func newSpinnerModel(label string, run pollFunc) spinnerModel {
	ctx, cancel := context.WithCancel(context.Background())
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	return spinnerModel{spinner: s, label: label, ctx: ctx, cancel: cancel, run: run}
}

func (m spinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		resp, err := m.run(m.ctx)
		return pollDoneMsg{resp: resp, err: err}
	})
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.cancel()
			m.err = errLoginCancelled
			m.done = true
			return m, tea.Quit
		}
	case pollDoneMsg:
		m.cancel()
		m.resp, m.err, m.done = msg.resp, msg.err, true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label + "\n"
}

// runWithSpinner runs fn behind a spinner and returns its result.
func runWithSpinner(label string, fn pollFunc) (*tplclient.LoginPollResponse, error) {
	final, err := tea.NewProgram(newSpinnerModel(label, fn)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(spinnerModel)
	return m.resp, m.err
}
