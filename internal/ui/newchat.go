package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/notepid/portal_inbox/internal/app"
	"github.com/notepid/portal_inbox/internal/message"
)

type newChatStage int

const (
	stageQuery newChatStage = iota
	stageSearching
	stagePick
)

// newChatModel searches for a user and picks one to start a conversation.
type newChatModel struct {
	app *app.App

	width int

	Done   bool
	Picked *message.Participant

	stage   newChatStage
	form    *huh.Form
	spinner spinner.Model
	err     error

	query   string
	results []message.Participant
	pick    int64
}

type searchResultMsg struct {
	users []message.Participant
	err   error
}

var errNoMatches = errors.New("no users match")

func newNewChatModel(a *app.App, width int) *newChatModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	m := &newChatModel{app: a, spinner: s, width: width}
	m.form = m.queryForm()
	return m
}

func (m *newChatModel) queryForm() *huh.Form {
	f := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Find a user").Placeholder("name or email").Value(&m.query).Validate(nonEmpty("search")),
		),
	)
	if m.width > 0 {
		f = f.WithWidth(min(m.width, 60))
	}
	return f
}

func (m *newChatModel) pickForm() *huh.Form {
	opts := make([]huh.Option[int64], 0, len(m.results))
	for _, u := range m.results {
		label := u.DisplayName()
		if u.Role != "" {
			label += " (" + u.Role + ")"
		}
		opts = append(opts, huh.NewOption(label, u.ID))
	}
	f := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int64]().Title("Start a conversation with").Options(opts...).Value(&m.pick),
		),
	)
	if m.width > 0 {
		f = f.WithWidth(min(m.width, 60))
	}
	return f
}

func (m *newChatModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m *newChatModel) Update(msg tea.Msg) tea.Cmd {
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "esc" {
		m.Done = true
		return nil
	}

	if m.stage == stageSearching {
		switch msg := msg.(type) {
		case searchResultMsg:
			if msg.err == nil && len(msg.users) == 0 {
				msg.err = errNoMatches
			}
			if msg.err != nil {
				m.err = msg.err
				m.stage = stageQuery
				m.form = m.queryForm()
				return m.form.Init()
			}
			m.results = msg.users
			m.pick = msg.users[0].ID
			m.stage = stagePick
			m.form = m.pickForm()
			return m.form.Init()
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
		m.Done = true
		return nil
	case huh.StateCompleted:
		if m.stage == stagePick {
			for i := range m.results {
				if m.results[i].ID == m.pick {
					p := m.results[i]
					m.Picked = &p
				}
			}
			m.Done = true
			return nil
		}
		m.stage = stageSearching
		m.err = nil
		return tea.Batch(m.spinner.Tick, m.search(strings.TrimSpace(m.query)))
	}
	return cmd
}

func (m *newChatModel) search(query string) tea.Cmd {
	portal := m.app.Portal
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		users, err := portal.SearchUsers(ctx, query)
		return searchResultMsg{users: users, err: err}
	}
}

func (m *newChatModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("New conversation"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("Search failed: "))
		b.WriteString(m.err.Error())
		b.WriteString("\n\n")
	}
	if m.stage == stageSearching {
		b.WriteString(m.spinner.View())
		b.WriteString(" Searching for ")
		b.WriteString(m.query)
		b.WriteString("...")
		return b.String()
	}
	b.WriteString(m.form.View())
	b.WriteString("\n\n(esc to cancel)")
	return b.String()
}
