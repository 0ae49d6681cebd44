// eventdesk-mockapi serves a local stand-in for the event platform: JWT
// login, the notification REST endpoints and the websocket push relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nhle/eventdesk/internal/logging"
	"github.com/nhle/eventdesk/internal/mockapi"
	"github.com/nhle/eventdesk/internal/source/api"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr     string
		secret   string
		logLevel string
		demo     time.Duration
	)

	flagSet := pflag.NewFlagSet("eventdesk-mockapi", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8000", "listen address")
	flagSet.StringVar(&secret, "secret", "dev-secret-key", "JWT signing secret")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")
	flagSet.DurationVar(&demo, "demo-every", 0, "publish a demo notification at this interval (0 disables)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
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

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(logging.ParseLevel(logLevel, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := mockapi.New(mockapi.Options{Secret: secret, Logger: log})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if demo > 0 {
		go publishDemo(ctx, srv, demo, log)
	}

	for _, a := range mockapi.DefaultAccounts() {
		log.Info().Str("email", a.Email).Str("password", a.Password).Str("role", a.Role).Msg("account")
	}
	log.Info().Str("addr", addr).Msg("mock platform listening")
	return srv.Run(ctx, addr)
}

var demoNotifications = []api.CreateNotificationRequest{
	{Title: "Concert tonight", Message: "The chamber orchestra plays Hall A at 20:00.", Type: "event", Priority: "medium"},
	{Title: "Venue change", Message: "Poetry night moves to the rooftop terrace.", Type: "warning", Priority: "high"},
	{Title: "Ticket confirmed", Message: "Your seat for the film festival is booked.", Type: "success", Priority: "low"},
	{Title: "Event cancelled", Message: "Saturday's craft market is cancelled due to weather.", Type: "error", Priority: "urgent"},
	{Title: "New exhibition", Message: "Contemporary photography opens next week.", Type: "announcement", Priority: "medium"},
}

func publishDemo(ctx context.Context, srv *mockapi.Server, every time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		req := demoNotifications[i%len(demoNotifications)]
		for _, a := range mockapi.DefaultAccounts() {
			dto, err := srv.PublishTo(a.Email, req)
			if err != nil {
				log.Warn().Err(err).Str("email", a.Email).Msg("demo publish failed")
				continue
			}
			log.Info().Str("id", dto.ID).Str("email", a.Email).Str("title", dto.Title).Msg("demo notification published")
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `eventdesk-mockapi serves a local copy of the event platform API.

Usage:
  eventdesk-mockapi [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
