package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/clock"
	"github.com/nhle/eventdesk/internal/credential"
	"github.com/nhle/eventdesk/internal/inbox"
	"github.com/nhle/eventdesk/internal/logging"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/netwatch"
	"github.com/nhle/eventdesk/internal/push"
	"github.com/nhle/eventdesk/internal/session"
	"github.com/nhle/eventdesk/internal/source"
	"github.com/nhle/eventdesk/internal/source/api"
	"github.com/nhle/eventdesk/internal/source/email"
	"github.com/nhle/eventdesk/internal/store"
	appsync "github.com/nhle/eventdesk/internal/sync"
)

// restoreLimit bounds how many persisted notifications are loaded at
// startup.
const restoreLimit = 500

// Options overrides the collaborators Build would otherwise create.
type Options struct {
	Vault    credential.Vault
	Prompter push.Prompter
	Clock    clock.Clock
	Dialer   netwatch.Dialer
}

// Services is the runtime shared by the terminal UI and the one-shot
// commands.
type Services struct {
	Config     *model.AppConfig
	ConfigPath string
	Log        zerolog.Logger

	Store     *store.SQLiteStore
	Vault     credential.Vault
	API       *api.Adapter
	Mailbox   *email.Adapter
	Session   *session.Manager
	Inbox     *inbox.Store
	Scheduler *appsync.Scheduler
	Netwatch  *netwatch.Monitor
	Desktop   *push.Desktop
	Push      *push.Manager

	mu             gosync.Mutex
	ctx            context.Context
	receiverCancel context.CancelFunc
	receiverWG     gosync.WaitGroup
	unsubscribe    func()
}

// Build wires every component from cfg. Nothing runs until Start.
func Build(cfg *model.AppConfig, configPath string, log zerolog.Logger, opts Options) (*Services, error) {
	s := &Services{
		Config:     cfg,
		ConfigPath: configPath,
		Log:        log,
	}

	dbPath := ":memory:"
	if cfg.Storage.Persist && cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath = cfg.Storage.Path
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	s.Store = st

	s.Vault = opts.Vault
	if s.Vault == nil {
		s.Vault = credential.NewKeyring(filepath.Dir(configPath))
	}

	s.API = api.NewAdapter(cfg.API, func() string { return s.Session.Token() })
	s.Session = session.New(s.API, s.Vault,
		session.WithLogger(logging.Component(log, "session")))

	inboxOpts := []inbox.Option{inbox.WithLogger(logging.Component(log, "inbox"))}
	if cfg.Storage.Persist {
		inboxOpts = append(inboxOpts, inbox.WithPersister(st))
	}
	s.Inbox = inbox.New(inboxOpts...)

	fetchers := []source.Fetcher{s.API}
	if cfg.Mailbox.Enabled {
		password, err := s.Vault.Get(credential.KeyMailboxPassword)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("mailbox enabled but no password stored; skipping mailbox source")
		default:
			s.Mailbox = email.NewAdapter(cfg.Mailbox, password)
			fetchers = append(fetchers, s.Mailbox)
		}
	}

	var clk []appsync.Option
	var netClk []netwatch.Option
	if opts.Clock != nil {
		clk = append(clk, appsync.WithClock(opts.Clock))
		netClk = append(netClk, netwatch.WithClock(opts.Clock))
	}
	s.Scheduler = appsync.New(
		appsync.ConfigFrom(cfg.Polling),
		source.NewMulti(fetchers...),
		s.Session,
		s.Inbox,
		append(clk, appsync.WithLogger(logging.Component(log, "scheduler")))...,
	)

	addr, err := netwatch.HostPort(cfg.API.BaseURL)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("api base url: %w", err)
	}
	netOpts := append(netClk, netwatch.WithLogger(logging.Component(log, "netwatch")))
	if opts.Dialer != nil {
		netOpts = append(netOpts, netwatch.WithDialer(opts.Dialer))
	}
	s.Netwatch = netwatch.New(addr, cfg.Netwatch, s.Scheduler.SetOnline, netOpts...)

	prompter := opts.Prompter
	if prompter == nil {
		prompter = push.HuhPrompter{}
	}
	s.Desktop = push.NewDesktop(cfg.Push.RelayURL, s.Vault, st, prompter)
	s.Push = push.NewManager(s.Desktop, s.API, s.Inbox,
		push.WithLogger(logging.Component(log, "push")))

	s.unsubscribe = s.Session.Subscribe(s.onSession)
	return s, nil
}

// onSession starts delivery when a session begins and tears it down when
// it ends. Notifications belong to the account, so they are cleared on
// sign-out.
func (s *Services) onSession(st model.SessionState) {
	if st.Authenticated {
		s.Scheduler.StartPolling()
		s.RestartReceiver()
		return
	}
	s.Scheduler.StopPolling()
	s.StopReceiver()
	s.Inbox.ClearAll()
}

// Start loads persisted notifications, launches the background loops and
// resumes a stored session. The returned error is session.ErrNoSession
// or session.ErrExpired when the user must sign in.
func (s *Services) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.Config.Storage.Persist {
		ns, err := s.Store.LoadNotifications(ctx, restoreLimit)
		if err != nil {
			s.Log.Warn().Err(err).Msg("loading saved notifications")
		}
		s.Inbox.Restore(ns)
	}

	go s.Scheduler.Run(ctx)
	go s.Netwatch.Run(ctx)

	if s.ConfigPath != "" {
		err := model.WatchConfig(s.ConfigPath, s.ApplyConfig, func(err error) {
			s.Log.Warn().Err(err).Msg("ignoring invalid config change")
		})
		if err != nil {
			s.Log.Debug().Err(err).Msg("config hot reload disabled")
		}
	}

	err := s.Session.Restore(ctx)
	if err != nil && !errors.Is(err, session.ErrNoSession) && !errors.Is(err, session.ErrExpired) {
		s.Log.Warn().Err(err).Msg("restoring session")
	}
	return err
}

// ApplyConfig applies the parts of cfg that can change at runtime.
func (s *Services) ApplyConfig(cfg *model.AppConfig) {
	s.Scheduler.Apply(appsync.ConfigFrom(cfg.Polling))
	s.Log.Info().
		Dur("base_interval", cfg.Polling.BaseInterval).
		Dur("max_interval", cfg.Polling.MaxInterval).
		Msg("polling settings reloaded")
}

// RestartReceiver (re)connects to the push relay when this device has a
// subscription. The subscription is re-registered first because the
// server may have forgotten it.
func (s *Services) RestartReceiver() {
	s.StopReceiver()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || !s.Session.IsAuthenticated() {
		return
	}

	sub, err := s.Desktop.Subscription(parent)
	if err != nil || sub == nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.receiverCancel = cancel
	s.mu.Unlock()

	rcv := push.NewReceiver(sub.Endpoint, s.Inbox,
		push.WithReceiverLogger(logging.Component(s.Log, "receiver")))
	s.receiverWG.Add(1)
	go func() {
		defer s.receiverWG.Done()
		if err := s.API.RegisterSubscription(ctx, *sub); err != nil {
			s.Log.Warn().Err(err).Msg("re-registering push subscription")
		}
		rcv.Run(ctx)
	}()
}

// StopReceiver disconnects from the push relay.
func (s *Services) StopReceiver() {
	s.mu.Lock()
	cancel := s.receiverCancel
	s.receiverCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.receiverWG.Wait()
	}
}

// Close stops the scheduler and receiver and releases the store.
func (s *Services) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.Scheduler.StopPolling()
	s.StopReceiver()
	return s.Store.Close()
}
