package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/app"
	"github.com/nhle/eventdesk/internal/credential"
	"github.com/nhle/eventdesk/internal/logging"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/push"
	"github.com/nhle/eventdesk/internal/session"
	"github.com/nhle/eventdesk/internal/source/email"
	"github.com/nhle/eventdesk/internal/ui/login"
)

// command is one CLI verb.
type command struct {
	name string
	run  func(ctx context.Context, flags globalFlags) error
}

// parseCommand maps positional arguments onto a command.
func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "tui", run: runTUI}, nil
	}

	name := strings.ToLower(args[0])
	sub := ""
	if len(args) > 1 {
		sub = strings.ToLower(args[1])
	}
	extra := args[1:]

	switch name {
	case "tui":
		return command{name: name, run: runTUI}, noExtra(name, extra)
	case "login":
		return command{name: name, run: runLogin}, noExtra(name, extra)
	case "logout":
		return command{name: name, run: runLogout}, noExtra(name, extra)
	case "status":
		return command{name: name, run: runStatus}, noExtra(name, extra)
	case "push":
		switch sub {
		case "enable", "disable", "status", "test", "reset":
			return command{name: "push " + sub, run: pushCommand(sub)}, noExtra(name+" "+sub, args[2:])
		}
		return command{}, fmt.Errorf("push needs one of enable, disable, status, test, reset")
	case "mailbox":
		if sub == "login" {
			return command{name: "mailbox login", run: runMailboxLogin}, noExtra("mailbox login", args[2:])
		}
		return command{}, fmt.Errorf("mailbox needs: login")
	default:
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func noExtra(name string, extra []string) error {
	if len(extra) > 0 {
		return fmt.Errorf("%s: unexpected argument %q", name, extra[0])
	}
	return nil
}

// setup loads the configuration and builds the services. Interactive runs
// log to a file; one-shot commands log to the console.
func setup(flags globalFlags, sink logging.Sink, opts app.Options) (*app.Services, func(), error) {
	path := flags.configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	} else if sink == logging.SinkConsole {
		cfg.Log.Level = zerolog.LevelWarnValue
	}

	log, closer, err := logging.New(cfg.Log, sink)
	if err != nil {
		return nil, nil, err
	}

	svc, err := app.Build(cfg, path, log, opts)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("closing services")
		}
		_ = closer.Close()
	}
	return svc, cleanup, nil
}

func runTUI(ctx context.Context, flags globalFlags) error {
	svc, cleanup, err := setup(flags, logging.SinkFile, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(app.New(ctx, svc),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// restore resumes the stored session for one-shot commands.
func restore(ctx context.Context, svc *app.Services) error {
	err := svc.Session.Restore(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return errors.New("not signed in; run: eventdesk login")
	case errors.Is(err, session.ErrExpired):
		return errors.New("session expired; run: eventdesk login")
	}
	return err
}

func runLogin(ctx context.Context, flags globalFlags) error {
	svc, cleanup, err := setup(flags, logging.SinkConsole, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	var emailAddr, password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&emailAddr).
				Validate(login.ValidateEmail),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	user, err := svc.Session.Login(ctx, strings.TrimSpace(emailAddr), password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (%s)\n", user.DisplayName(), user.Email)
	return nil
}

func runLogout(ctx context.Context, flags globalFlags) error {
	svc, cleanup, err := setup(flags, logging.SinkConsole, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Session.Restore(ctx); err != nil {
		if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrExpired) {
			fmt.Println("Not signed in")
			return nil
		}
	}
	if err := svc.Session.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	fmt.Println("Signed out")
	return nil
}

func runStatus(ctx context.Context, flags globalFlags) error {
	svc, cleanup, err := setup(flags, logging.SinkConsole, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := svc.Config
	fmt.Printf("Platform:  %s\n", cfg.API.BaseURL)
	fmt.Printf("Polling:   every %s, backoff x%g up to %s, %d retries\n",
		cfg.Polling.BaseInterval, cfg.Polling.BackoffMultiplier,
		cfg.Polling.MaxInterval, cfg.Polling.MaxRetries)

	if err := restore(ctx, svc); err != nil {
		fmt.Printf("Session:   %v\n", err)
	} else {
		st := svc.Session.State()
		fmt.Printf("Session:   %s (%s), expires %s\n",
			st.User.DisplayName(), st.User.Email, st.ExpiresAt.Local().Format("2006-01-02 15:04"))
		if n, err := svc.API.UnreadCount(ctx); err != nil {
			fmt.Printf("Unread:    unavailable (%v)\n", err)
		} else {
			fmt.Printf("Unread:    %d\n", n)
		}
	}

	pst, err := svc.Push.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Push:      %s\n", pst)
	return nil
}

func pushCommand(sub string) func(context.Context, globalFlags) error {
	return func(ctx context.Context, flags globalFlags) error {
		var prompter push.Prompter = push.HuhPrompter{}
		if flags.yes {
			prompter = push.AnswerPrompter(true)
		}
		svc, cleanup, err := setup(flags, logging.SinkConsole, app.Options{Prompter: prompter})
		if err != nil {
			return err
		}
		defer cleanup()

		switch sub {
		case "status":
			st, err := svc.Push.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Println(st)
			return nil

		case "reset":
			if err := svc.Desktop.ResetPermission(ctx); err != nil {
				return err
			}
			fmt.Println("Push permission reset")
			return nil

		case "test":
			n, err := svc.Push.SendTest(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Added test notification %s\n", n.ID)
			return nil
		}

		if err := restore(ctx, svc); err != nil {
			return err
		}

		switch sub {
		case "enable":
			created, err := svc.Push.Enable(ctx)
			if err != nil {
				if errors.Is(err, push.ErrPermissionDenied) {
					return errors.New("push blocked for this device; run: eventdesk push reset")
				}
				return err
			}
			fmt.Printf("Push enabled for device %s\n", created.DeviceID)
		case "disable":
			if err := svc.Push.Disable(ctx); err != nil {
				return err
			}
			fmt.Println("Push disabled")
		}
		return nil
	}
}

func runMailboxLogin(ctx context.Context, flags globalFlags) error {
	svc, cleanup, err := setup(flags, logging.SinkConsole, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	mb := svc.Config.Mailbox
	if mb.Host == "" || mb.Username == "" {
		return errors.New("set mailbox.host and mailbox.username in the config file first")
	}

	var password string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("Password for %s on %s", mb.Username, mb.Host)).
			EchoMode(huh.EchoModePassword).
			Value(&password),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	mailbox, err := email.NewAdapter(mb, password).ValidateConnection(ctx)
	if err != nil {
		return fmt.Errorf("mailbox connection failed: %w", err)
	}
	if err := svc.Vault.Set(credential.KeyMailboxPassword, password); err != nil {
		return err
	}
	fmt.Printf("Connected to %s; password stored\n", mailbox)
	if !mb.Enabled {
		fmt.Println("Set mailbox.enabled: true to include it when polling")
	}
	return nil
}
