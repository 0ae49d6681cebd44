package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/theme"
)

// DoneMsg signals the settings view should close.
type DoneMsg struct{}

// SavedMsg carries the outcome of writing the settings to disk.
type SavedMsg struct {
	Config *model.AppConfig
	Err    error
}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	baseURL      string
	baseInterval string
	maxInterval  string
	multiplier   string
	maxRetries   string
	visibility   bool
	mailbox      bool
}

// Model edits the API and polling sections of the configuration file.
type Model struct {
	path    string
	current *model.AppConfig
	form    *huh.Form
	fb      *formBindings
	saving  bool
	spinner spinner.Model
	status  string
	width   int
	height  int
}

// New creates a settings view that writes to path.
func New(path string, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		path:    path,
		fb:      &formBindings{},
		spinner: sp,
		width:   width,
		height:  height,
	}
}

// Start fills the form from cfg.
func (m *Model) Start(cfg *model.AppConfig) tea.Cmd {
	clone := *cfg
	m.current = &clone
	m.saving = false
	m.status = ""

	p := cfg.Polling
	m.fb.baseURL = cfg.API.BaseURL
	m.fb.baseInterval = p.BaseInterval.String()
	m.fb.maxInterval = p.MaxInterval.String()
	m.fb.multiplier = strconv.FormatFloat(p.BackoffMultiplier, 'g', -1, 64)
	m.fb.maxRetries = strconv.Itoa(p.MaxRetries)
	m.fb.visibility = p.VisibilityOptimization
	m.fb.mailbox = cfg.Mailbox.Enabled

	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the settings view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SavedMsg:
		m.saving = false
		if msg.Err != nil {
			m.status = fmt.Sprintf("Error saving settings: %v", msg.Err)
			return m, m.Start(m.current)
		}
		return m, nil

	case spinner.TickMsg:
		if m.saving {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.form == nil || m.saving {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		cfg, err := m.apply()
		if err != nil {
			m.status = err.Error()
			return m, m.Start(m.current)
		}
		m.saving = true
		return m, tea.Batch(m.spinner.Tick, save(m.path, cfg))
	case huh.StateAborted:
		return m, func() tea.Msg { return DoneMsg{} }
	}

	return m, cmd
}

// apply builds the new configuration from the form values.
func (m Model) apply() (*model.AppConfig, error) {
	cfg := *m.current

	base, err := parsePositiveDuration(m.fb.baseInterval)
	if err != nil {
		return nil, fmt.Errorf("base interval: %w", err)
	}
	maxInterval, err := parsePositiveDuration(m.fb.maxInterval)
	if err != nil {
		return nil, fmt.Errorf("max interval: %w", err)
	}
	if maxInterval < base {
		return nil, fmt.Errorf("max interval must be at least the base interval")
	}
	mult, err := strconv.ParseFloat(strings.TrimSpace(m.fb.multiplier), 64)
	if err != nil || mult < 1 {
		return nil, fmt.Errorf("backoff multiplier must be a number >= 1")
	}
	retries, err := strconv.Atoi(strings.TrimSpace(m.fb.maxRetries))
	if err != nil || retries < 1 {
		return nil, fmt.Errorf("max retries must be a positive integer")
	}

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(m.fb.baseURL), "/")
	cfg.Polling.BaseInterval = base
	cfg.Polling.MaxInterval = maxInterval
	cfg.Polling.BackoffMultiplier = mult
	cfg.Polling.MaxRetries = retries
	cfg.Polling.VisibilityOptimization = m.fb.visibility
	cfg.Mailbox.Enabled = m.fb.mailbox
	return &cfg, nil
}

func save(path string, cfg *model.AppConfig) tea.Cmd {
	return func() tea.Msg {
		return SavedMsg{Config: cfg, Err: model.SaveConfig(path, cfg)}
	}
}

// View renders the settings view.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Settings")}
	if m.status != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.status))
	}
	switch {
	case m.saving:
		parts = append(parts, m.spinner.View()+" Saving...")
	case m.form != nil:
		parts = append(parts, m.form.View())
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorGray).Render(m.path))

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Platform URL").
				Value(&m.fb.baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Poll interval").
				Description("e.g. 30s").
				Value(&m.fb.baseInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Max backoff interval").
				Value(&m.fb.maxInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Backoff multiplier").
				Value(&m.fb.multiplier),
			huh.NewInput().
				Title("Max consecutive failures").
				Value(&m.fb.maxRetries),
			huh.NewConfirm().
				Title("Poll less often when the window is in the background?").
				Value(&m.fb.visibility),
			huh.NewConfirm().
				Title("Include the mailbox source?").
				Value(&m.fb.mailbox),
		),
	).WithWidth(min(max(m.width-4, 40), 100))
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

func validateDuration(s string) error {
	_, err := parsePositiveDuration(s)
	return err
}

func validateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("enter an http(s) URL")
	}
	return nil
}
