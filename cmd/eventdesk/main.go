// eventdesk is a terminal client for the cultural-center event platform.
// It keeps a local inbox of the signed-in user's notifications, polls the
// platform with backoff, and optionally receives pushed notifications
// through the platform's relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	yes        bool
	logLevel   string
}

func run(argv []string) error {
	var flags globalFlags

	flagSet := pflag.NewFlagSet("eventdesk", pflag.ContinueOnError)
	flagSet.StringVarP(&flags.configPath, "config", "c", "", "path to config file (default: ~/.config/eventdesk/config.yaml)")
	flagSet.BoolVarP(&flags.yes, "yes", "y", false, "answer yes to confirmation prompts")
	flagSet.StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetInterspersed(true)

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cmd, err := parseCommand(flagSet.Args())
	if err != nil {
		printHelp(flagSet)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmd.run(ctx, flags)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `EventDesk keeps you up to date with your cultural center's events.

Usage:
  eventdesk [flags] [command]

Commands:
  tui                 open the interactive inbox (default)
  login               sign in and store the session in the system keyring
  logout              sign out and forget the stored session
  status              show the session, unread count and push state
  push enable         set up push notifications for this device
  push disable        stop push notifications for this device
  push status         show the push set-up state
  push test           add a local test notification
  push reset          forget a previous allow/block answer
  mailbox login       store and verify the IMAP mailbox password

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
