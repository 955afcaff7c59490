package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/notepid/portal_inbox/internal/app"
)

type loginModel struct {
	app *app.App

	width  int
	height int

	Done bool
	Quit bool

	form    *huh.Form
	spinner spinner.Model
	busy    bool
	notice  string
	err     error

	email    string
	password string
}

type loginResultMsg struct {
	err error
}

func newLoginModel(a *app.App, notice string) *loginModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	m := &loginModel{app: a, spinner: s, notice: notice}
	m.form = buildLoginForm(&m.email, &m.password)
	return m
}

func buildLoginForm(email, password *string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Email").Value(email).Validate(nonEmpty("email")),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(password).Validate(nonEmpty("password")),
		),
	)
}

func (m *loginModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m *loginModel) SetSize(w, h int) {
	m.width, m.height = w, h
	if m.form != nil && w > 0 {
		m.form = m.form.WithWidth(min(w, 60))
	}
}

func (m *loginModel) Update(msg tea.Msg) tea.Cmd {
	if m.busy {
		switch msg := msg.(type) {
		case loginResultMsg:
			m.busy = false
			if msg.err != nil {
				m.err = msg.err
				m.password = ""
				m.form = buildLoginForm(&m.email, &m.password)
				m.SetSize(m.width, m.height)
				return m.form.Init()
			}
			m.Done = true
			return nil
		case spinner.TickMsg:
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return cmd
		}
		return nil
	}

	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f

	switch m.form.State {
	case huh.StateAborted:
		m.Quit = true
		return nil
	case huh.StateCompleted:
		m.busy = true
		m.err = nil
		return tea.Batch(m.spinner.Tick, m.submit(strings.TrimSpace(m.email), m.password))
	}
	return cmd
}

func (m *loginModel) submit(email, password string) tea.Cmd {
	a := m.app
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return loginResultMsg{err: a.Login(ctx, email, password)}
	}
}

func (m *loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Portal Inbox"))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(m.app.Config.API.BaseURL))
	b.WriteString("\n\n")

	if m.notice != "" {
		b.WriteString(mutedStyle.Render(m.notice))
		b.WriteString("\n\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("Login failed: "))
		b.WriteString(m.err.Error())
		b.WriteString("\n\n")
	}

	if m.busy {
		b.WriteString(m.spinner.View())
		b.WriteString(" Signing in as ")
		b.WriteString(m.email)
		b.WriteString("...")
		return b.String()
	}
	b.WriteString(m.form.View())
	b.WriteString("\n\n(ctrl+c to quit)")
	return b.String()
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}
