package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/authhttp"
	httphandler "github.com/ericfisherdev/trendlens/internal/adapter/driving/http"
	"github.com/ericfisherdev/trendlens/internal/config"
)

var errSessionExpired = errors.New(`session expired: run "trendlens login"`)

// CLI is the command tree.
type CLI struct {
	Serve        serveCmd          `cmd:"" help:"Run the local gateway."`
	Login        loginCmd          `cmd:"" help:"Log in and store the session."`
	Logout       logoutCmd         `cmd:"" help:"End the session."`
	Whoami       whoamiCmd         `cmd:"" help:"Show the current session."`
	Ranking      rankingCmd        `cmd:"" help:"Show the keyword ranking."`
	Search       searchCmd         `cmd:"" help:"Show styling insights for a keyword."`
	Mypage       mypageCmd         `cmd:"" help:"Show the account profile."`
	Subscription subscriptionCmd   `cmd:"" help:"Show the subscription status."`
	Analyze      analyzeCmd        `cmd:"" help:"Analyze body shape from a photo."`
	Pay          confirmPaymentCmd `cmd:"" help:"Confirm a checkout after the payment redirect."`
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errSessionExpired) {
			fmt.Fprintln(os.Stderr, err)
		} else {
			slog.Error("fatal error", "error", err)
		}
		os.Exit(1)
	}
}

func run() error {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("trendlens"),
		kong.Description("Trend backend client with a renewable login session."),
		kong.UsageOnError(),
	)

	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Terminal session expiry: the gateway turns it into a login redirect
	// per request; one-shot commands end with a hint to log in again.
	var onExpired authhttp.ExpiryHandler
	serving := kctx.Command() == "serve"
	if serving {
		onExpired = httphandler.ExpiryHandler(logger)
	}

	a, err := newApp(ctx, cfg, logger, onExpired)
	if err != nil {
		return err
	}
	defer a.Close()

	err = kctx.Run(a)
	if !serving && a.expired.Load() {
		return errSessionExpired
	}
	return err
}
