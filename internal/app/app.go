package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/eventdesk/internal/inbox"
	"github.com/nhle/eventdesk/internal/keys"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/push"
	"github.com/nhle/eventdesk/internal/session"
	"github.com/nhle/eventdesk/internal/source"
	appsync "github.com/nhle/eventdesk/internal/sync"
	"github.com/nhle/eventdesk/internal/ui"
	"github.com/nhle/eventdesk/internal/ui/command"
	configview "github.com/nhle/eventdesk/internal/ui/config"
	"github.com/nhle/eventdesk/internal/ui/detail"
	helpview "github.com/nhle/eventdesk/internal/ui/help"
	"github.com/nhle/eventdesk/internal/ui/login"
	"github.com/nhle/eventdesk/internal/ui/notiflist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLoading ViewState = iota
	ViewLogin
	ViewList
	ViewDetail
	ViewSettings
	ViewHelp
	ViewCommand
)

type (
	restoredMsg       struct{ err error }
	inboxChangedMsg   struct{}
	sessionChangedMsg struct{ state model.SessionState }
	tickMsg           time.Time
	loginResultMsg    struct {
		user model.User
		err  error
	}
	pushPromptMsg struct{ needsPrompt bool }
	flashMsg      struct {
		text string
		err  error
	}
)

// Model is the root Bubble Tea model that manages view routing, layout
// and the bridge to the background services.
type Model struct {
	svc *Services
	ctx context.Context

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	list         notiflist.Model
	detail       detail.Model
	loginView    login.Model
	settingsView configview.Model
	helpView     helpview.Model
	commandView  command.Model

	inboxCh   chan struct{}
	sessionCh chan model.SessionState

	ready    bool
	flash    string
	flashErr bool
	now      func() time.Time
}

// New creates the root model. Services are started by Init.
func New(ctx context.Context, svc *Services) Model {
	k := keys.DefaultKeyMap()

	inboxCh := make(chan struct{}, 1)
	svc.Inbox.Subscribe(func(inbox.Change) {
		select {
		case inboxCh <- struct{}{}:
		default:
		}
	})

	sessionCh := make(chan model.SessionState, 1)
	svc.Session.Subscribe(func(st model.SessionState) {
		offerLatest(sessionCh, st)
	})

	return Model{
		svc:          svc,
		ctx:          ctx,
		currentView:  ViewLoading,
		keys:         k,
		list:         notiflist.New(svc.Inbox, k, 80, 22),
		detail:       detail.New(k, 80, 22),
		loginView:    login.New(80, 22),
		settingsView: configview.New(svc.ConfigPath, 80, 22),
		helpView:     helpview.New(k, 80, 22),
		commandView:  command.New(80, 22),
		inboxCh:      inboxCh,
		sessionCh:    sessionCh,
		now:          time.Now,
	}
}

// offerLatest sends v, replacing an unread older value.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Init starts the services and the listeners that feed the UI.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("EventDesk"),
		m.start(),
		m.waitForInbox(),
		m.waitForSession(),
		m.svc.Scheduler.WaitForNextStatus(),
		tick(),
	)
}

func (m Model) start() tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		return restoredMsg{err: svc.Start(ctx)}
	}
}

func (m Model) waitForInbox() tea.Cmd {
	ch, ctx := m.inboxCh, m.ctx
	return func() tea.Msg {
		select {
		case <-ch:
			return inboxChangedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) waitForSession() tea.Cmd {
	ch, ctx := m.sessionCh, m.ctx
	return func() tea.Msg {
		select {
		case st := <-ch:
			return sessionChangedMsg{state: st}
		case <-ctx.Done():
			return nil
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.list.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.loginView.SetSize(w, h)
		m.settingsView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case restoredMsg:
		if !m.svc.Session.IsAuthenticated() {
			if errors.Is(msg.err, session.ErrExpired) {
				m.setFlash("Your session has expired. Please sign in again.", true)
			}
			m.currentView = ViewLogin
			return m, m.loginView.Start("")
		}
		m.currentView = ViewList
		return m, m.list.Reload()

	case sessionChangedMsg:
		cmds := []tea.Cmd{m.waitForSession()}
		switch {
		case !msg.state.Authenticated && m.currentView != ViewLogin && m.currentView != ViewLoading:
			m.currentView = ViewLogin
			cmds = append(cmds, m.loginView.Start(""))
		case msg.state.Authenticated && m.currentView == ViewLogin:
			m.currentView = ViewList
			cmds = append(cmds, m.list.Reload())
		}
		return m, tea.Batch(cmds...)

	case inboxChangedMsg:
		cmd := m.list.Reload()
		if m.currentView == ViewDetail {
			if n, ok := m.svc.Inbox.Get(m.detail.ID()); ok {
				m.detail.Refresh(&n)
			} else {
				m.detail.SetNotification(nil)
			}
		}
		return m, tea.Batch(cmd, m.waitForInbox())

	case appsync.StatusMsg:
		m.handleStatus(msg)
		return m, m.svc.Scheduler.WaitForNextStatus()

	case tickMsg:
		return m, tick()

	case tea.FocusMsg:
		m.svc.Scheduler.SetVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.svc.Scheduler.SetVisible(false)
		return m, nil

	case flashMsg:
		if msg.err != nil {
			m.setFlash(fmt.Sprintf("%s: %v", msg.text, msg.err), true)
		} else {
			m.setFlash(msg.text, false)
		}
		return m, nil

	case login.SubmitMsg:
		return m, m.loginCmd(msg)

	case login.CancelMsg:
		return m, tea.Quit

	case loginResultMsg:
		if msg.err != nil {
			return m, m.loginView.SetError(loginError(msg.err))
		}
		m.setFlash("Signed in as "+msg.user.DisplayName(), false)
		m.currentView = ViewList
		return m, m.list.Reload()

	case notiflist.SelectedMsg:
		n, ok := m.svc.Inbox.Get(msg.ID)
		if !ok {
			return m, nil
		}
		n.Read = true
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetNotification(&n)
		return m, m.actionCmd(notiflist.ActionMsg{Action: notiflist.ActionMarkRead, ID: msg.ID})

	case notiflist.ActionMsg:
		if m.currentView == ViewDetail && msg.Action == notiflist.ActionDelete {
			m.currentView = ViewList
		}
		return m, m.actionCmd(msg)

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case configview.DoneMsg:
		m.currentView = ViewList
		return m, nil

	case configview.SavedMsg:
		if msg.Err == nil {
			m.svc.Config = msg.Config
			m.svc.ApplyConfig(msg.Config)
			m.setFlash("Settings saved", false)
			m.currentView = ViewList
			return m, nil
		}

	case pushPromptMsg:
		if msg.needsPrompt {
			return m, tea.Exec(execFunc(m.enablePush), pushResult)
		}
		return m, func() tea.Msg { return pushResult(m.enablePush()) }

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}
		if next, cmd, handled := m.routeGlobalKey(msg); handled {
			return next, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleGlobalKey processes keys that work in every view.
func (m Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return tea.Quit, true
	}
	return nil, false
}

// routeGlobalKey handles view switching keys. Views with text input
// receive every key.
func (m Model) routeGlobalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch m.currentView {
	case ViewLogin, ViewSettings, ViewLoading:
		return m, nil, false
	case ViewCommand:
		if msg.String() == "esc" {
			m.currentView = m.previousView
			return m, nil, true
		}
		return m, nil, false
	case ViewList:
		if m.list.Searching() {
			return m, nil, false
		}
	}

	switch msg.String() {
	case "q":
		if m.currentView == ViewList {
			return m, tea.Quit, true
		}

	case "esc":
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil, true
		}

	case "?":
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil, true

	case ":":
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m, m.commandView.Focus(), true

	case "r":
		if m.currentView == ViewList {
			return m, m.refresh(), true
		}
	}
	return m, nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

func (m *Model) handleStatus(msg appsync.StatusMsg) {
	switch {
	case msg.AuthFailed():
		m.svc.Session.Expire()
		m.setFlash("Your session has expired. Please sign in again.", true)
	case msg.Kind == appsync.EventGaveUp:
		m.setFlash(fmt.Sprintf("Stopped checking after %d failures. Type :reconnect to retry.", msg.Status.Failures), true)
	case msg.Kind == appsync.EventPolled && msg.NewCount > 0:
		m.setFlash(fmt.Sprintf("%d new notification(s)", msg.NewCount), false)
	case msg.Kind == appsync.EventPolled && m.flashErr:
		m.flash = ""
		m.flashErr = false
	}
}

func (m *Model) setFlash(text string, isErr bool) {
	m.flash = text
	m.flashErr = isErr
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	st := m.svc.Scheduler.Snapshot()
	label, state := connectionLabel(st, m.now())
	h := ui.Header{
		Title:      "EventDesk",
		Connection: label,
		State:      state,
	}
	if m.svc.Session.IsAuthenticated() {
		h.Unread = m.svc.Inbox.UnreadCount()
		h.User = m.svc.Session.User().DisplayName()
	}

	header := m.layout.RenderHeader(h)
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.flash)
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLoading:
		return "Restoring session..."
	case ViewLogin:
		return m.loginView.View()
	case ViewList:
		return m.list.View()
	case ViewDetail:
		return m.detail.View()
	case ViewSettings:
		return m.settingsView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		return "enter submit | tab next | esc quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewDetail:
		return "esc back | d delete | j/k scroll"
	case ViewSettings:
		return "enter next | esc cancel"
	case ViewList:
		if m.list.Searching() {
			return "enter keep | esc clear"
		}
		return "q quit | ? help | / search | t type | p priority | u unread | m read | d delete | r refresh"
	default:
		return ""
	}
}

func (m Model) loginCmd(msg login.SubmitMsg) tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		user, err := svc.Session.Login(ctx, msg.Email, msg.Password)
		return loginResultMsg{user: user, err: err}
	}
}

func loginError(err error) error {
	if source.IsAuthError(err) {
		return errors.New("Invalid email or password")
	}
	return err
}

func (m Model) actionCmd(a notiflist.ActionMsg) tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		var err error
		switch a.Action {
		case notiflist.ActionMarkRead:
			err = svc.MarkRead(ctx, a.ID)
		case notiflist.ActionMarkAllRead:
			err = svc.MarkAllRead(ctx)
		case notiflist.ActionDelete:
			err = svc.Delete(ctx, a.ID)
		case notiflist.ActionClearAll:
			err = svc.ClearAll(ctx)
		}
		if err != nil {
			return flashMsg{text: "Changed locally, server not updated", err: err}
		}
		return nil
	}
}

// refresh polls now, or restarts polling when it has stopped.
func (m Model) refresh() tea.Cmd {
	s := m.svc.Scheduler
	if s.PollNow() {
		return nil
	}
	if !m.svc.Session.IsAuthenticated() {
		return func() tea.Msg { return flashMsg{text: "Sign in to check for notifications"} }
	}
	s.ResetPolling()
	if !s.IsPolling() {
		s.StartPolling()
	}
	return nil
}

// executeCommand handles a command from the command palette.
func (m *Model) executeCommand(c command.CommandMsg) tea.Cmd {
	svc, ctx := m.svc, m.ctx

	switch c.Name {
	case "refresh", "sync":
		return m.refresh()

	case "reconnect":
		if !svc.Session.IsAuthenticated() {
			return nil
		}
		svc.Scheduler.ResetPolling()
		if !svc.Scheduler.IsPolling() {
			svc.Scheduler.StartPolling()
		}
		svc.RestartReceiver()
		m.setFlash("Reconnecting...", false)
		return nil

	case "logout":
		return func() tea.Msg {
			if err := svc.Session.Logout(ctx); err != nil {
				return flashMsg{text: "Signed out locally", err: err}
			}
			return flashMsg{text: "Signed out"}
		}

	case "push":
		return m.pushCommand(c.Arg(0))

	case "clear":
		m.svc.Inbox.SetFilters(model.NotificationFilter{})
		return m.list.Reload()

	case "settings", "config":
		m.previousView = ViewList
		m.currentView = ViewSettings
		return m.settingsView.Start(svc.Config)

	case "quit", "q":
		return tea.Quit

	default:
		m.setFlash(fmt.Sprintf("Unknown command %q", c.String()), true)
		return nil
	}
}

func (m Model) pushCommand(sub string) tea.Cmd {
	svc, ctx := m.svc, m.ctx

	switch sub {
	case "enable":
		return func() tea.Msg {
			st, err := svc.Push.Status(ctx)
			if err != nil {
				return flashMsg{text: "Push status unavailable", err: err}
			}
			return pushPromptMsg{
				needsPrompt: st == push.StatusCapabilityNeeded || st == push.StatusPermissionNeeded,
			}
		}

	case "disable":
		return func() tea.Msg {
			svc.StopReceiver()
			if err := svc.Push.Disable(ctx); err != nil {
				return flashMsg{text: "Disabling push failed", err: err}
			}
			return flashMsg{text: "Push notifications disabled"}
		}

	case "status", "":
		return func() tea.Msg {
			st, err := svc.Push.Status(ctx)
			if err != nil {
				return flashMsg{text: "Push status unavailable", err: err}
			}
			return flashMsg{text: "Push: " + string(st)}
		}

	case "test":
		return func() tea.Msg {
			if _, err := svc.Push.SendTest(ctx); err != nil {
				return flashMsg{text: "Test notification not sent", err: err}
			}
			return flashMsg{text: "Test notification sent"}
		}

	default:
		return func() tea.Msg {
			return flashMsg{text: "usage: push enable|disable|status|test"}
		}
	}
}

// enablePush runs the enable flow and connects the receiver.
func (m Model) enablePush() error {
	if _, err := m.svc.Push.Enable(m.ctx); err != nil {
		return err
	}
	m.svc.RestartReceiver()
	return nil
}

func pushResult(err error) tea.Msg {
	if err == nil {
		return flashMsg{text: "Push notifications enabled"}
	}
	if step, ok := push.FailedStep(err); ok {
		return flashMsg{text: "Push not enabled (" + string(step) + ")", err: errors.Unwrap(err)}
	}
	return flashMsg{text: "Push not enabled", err: err}
}

// execFunc runs a function with the terminal released, so interactive
// prompts can use it.
type execFunc func() error

func (f execFunc) Run() error {
	return f()
}

func (execFunc) SetStdin(io.Reader) {}

func (execFunc) SetStdout(io.Writer) {}

func (execFunc) SetStderr(io.Writer) {}
