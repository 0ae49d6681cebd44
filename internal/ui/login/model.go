package login

import (
	"fmt"
	"net/mail"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/theme"
)

// SubmitMsg is dispatched when the user submits credentials.
type SubmitMsg struct {
	Email    string
	Password string
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	email    string
	password string
}

// Model is the sign-in form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	err    string
	busy   bool
	width  int
	height int
}

// New creates a new sign-in form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Start resets the form. The email is kept so a failed attempt only
// needs the password again.
func (m *Model) Start(email string) tea.Cmd {
	if email != "" {
		m.fb.email = email
	}
	m.fb.password = ""
	m.busy = false
	m.form = m.buildForm()
	return m.form.Init()
}

// SetError shows err above the form and restarts it.
func (m *Model) SetError(err error) tea.Cmd {
	m.err = ""
	if err != nil {
		m.err = err.Error()
	}
	return m.Start(m.fb.email)
}

// Busy marks a submitted form as waiting for the server.
func (m *Model) Busy() { m.busy = true }

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil || m.busy {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.busy = true
		submit := SubmitMsg{Email: strings.TrimSpace(m.fb.email), Password: m.fb.password}
		return m, func() tea.Msg { return submit }
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Sign in to EventDesk")}
	if m.err != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.err))
	}
	if m.busy {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorGray).Render("Signing in..."))
	} else {
		parts = append(parts, m.form.View())
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Placeholder("you@example.org").
				Value(&m.fb.email).
				Validate(ValidateEmail),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&m.fb.password).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 80)
}

// ValidateEmail accepts a bare address.
func ValidateEmail(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("Email is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fmt.Errorf("enter a valid email address")
	}
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
