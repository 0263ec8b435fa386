package main

import (
	"context"
	"time"

	"formdeploy/internal/message"
	"formdeploy/internal/server"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type deploymentMsg struct {
	data *message.DeploymentContext
	err  error
}

type pollMsg struct{}

// statusModel follows the current deployment until the agent reports.
type statusModel struct {
	client   *server.Client
	interval time.Duration
	spinner  spinner.Model
	data     *message.DeploymentContext
	err      error
	done     bool
}

func newStatusModel(client *server.Client, interval time.Duration) statusModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = busyStyle
	return statusModel{client: client, interval: interval, spinner: sp}
}

func (m statusModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		resp, err := m.client.Deployment(ctx)
		return deploymentMsg{data: resp.Data, err: err}
	}
}

func (m statusModel) poll() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		}
	case deploymentMsg:
		m.data, m.err = msg.data, msg.err
		if m.err != nil || (m.data != nil && m.data.UploadResult != nil) {
			m.done = true
			return m, tea.Quit
		}
		return m, m.poll()
	case pollMsg:
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m statusModel) View() string {
	if m.err != nil {
		return errStyle.Render(m.err.Error()) + "\n"
	}
	out := renderStatus(m.data)
	if !m.done {
		out = m.spinner.View() + " waiting for result (q to quit)\n" + out
	}
	return out + "\n"
}

// watchStatus runs the live status view.
func watchStatus(client *server.Client) error {
	final, err := tea.NewProgram(newStatusModel(client, time.Second)).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(statusModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
