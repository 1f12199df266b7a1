package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/trendapi"
	httphandler "github.com/ericfisherdev/trendlens/internal/adapter/driving/http"
	"github.com/ericfisherdev/trendlens/internal/domain/model"
)

type serveCmd struct {
	Addr string `help:"Listen address. Overrides TRENDLENS_LISTEN_ADDR."`
}

func (c *serveCmd) Run(a *app) error {
	addr := a.cfg.ListenAddr
	if c.Addr != "" {
		addr = c.Addr
	}

	h := httphandler.NewHandler(a.auth, a.trends, a.logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           httphandler.NewServeMux(h, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.logger.Info("trendlens started",
		"listen_addr", addr,
		"api_base_url", a.cfg.APIBaseURL,
		"logged_in", a.store.LoggedIn(),
	)

	// Wait for shutdown signal or a listener failure.
	select {
	case <-a.ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

type loginCmd struct {
	Username string `arg:"" help:"Account username."`
	Password string `env:"TRENDLENS_PASSWORD" help:"Account password. Read from stdin when empty."`
}

func (c *loginCmd) Run(a *app) error {
	password := c.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	session, err := a.auth.Login(a.ctx, c.Username, password)
	if err != nil {
		if trendapi.IsUnauthorized(err) {
			return errors.New("invalid username or password")
		}
		return err
	}
	return a.print(httphandler.NewSessionResponse(session))
}

type logoutCmd struct{}

func (c *logoutCmd) Run(a *app) error {
	if err := a.auth.Logout(a.ctx); err != nil {
		// The local session is gone either way.
		a.logger.Warn("backend logout failed", "error", err)
	}
	fmt.Fprintln(a.stdout, "logged out")
	return nil
}

type whoamiCmd struct{}

func (c *whoamiCmd) Run(a *app) error {
	session := a.auth.Current()
	return a.print(httphandler.NewSessionResponse(session))
}

type rankingCmd struct {
	Mine bool `help:"Rank the account's liked keywords instead of the public ranking."`
}

func (c *rankingCmd) Run(a *app) error {
	if !c.Mine {
		items, err := a.trends.GuestRanking(a.ctx)
		if err != nil {
			return err
		}
		return a.print(items)
	}

	account, err := a.accountID()
	if err != nil {
		return err
	}
	items, err := a.trends.MyRanking(a.ctx, account)
	if err != nil {
		return err
	}
	return a.print(items)
}

type searchCmd struct {
	Keyword string `arg:"" help:"Keyword to look up."`
}

func (c *searchCmd) Run(a *app) error {
	results, err := a.trends.SearchInsight(a.ctx, strings.TrimSpace(c.Keyword))
	if err != nil {
		return err
	}
	return a.print(results)
}

type mypageCmd struct{}

func (c *mypageCmd) Run(a *app) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	page, err := a.trends.MyPage(a.ctx)
	if err != nil {
		return err
	}

	resp := httphandler.MyPageResponse{MyPage: *page}
	if page.ProfilePic != "" {
		if imageURL, err := a.trends.ProfileImageURL(a.ctx, page.ProfilePic); err == nil {
			resp.ProfileImageURL = imageURL
		} else {
			a.logger.Warn("profile image lookup failed", "error", err)
		}
	}
	return a.print(resp)
}

type subscriptionCmd struct{}

func (c *subscriptionCmd) Run(a *app) error {
	account, err := a.accountID()
	if err != nil {
		return err
	}
	status, err := a.trends.SubscriptionStatus(a.ctx, account)
	if err != nil {
		return err
	}
	return a.print(status)
}

type analyzeCmd struct {
	Image  string  `arg:"" type:"existingfile" help:"Full-body photo."`
	Height float64 `required:"" help:"Height in centimetres."`
	Weight float64 `required:"" help:"Weight in kilograms."`
	Gender string  `default:"U" enum:"M,F,U" help:"Gender (M, F or U)."`
}

func (c *analyzeCmd) Run(a *app) error {
	account, err := a.accountID()
	if err != nil {
		return err
	}
	image, err := os.ReadFile(c.Image)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	result, err := a.trends.AnalyzeBody(a.ctx, model.BodyAnalysisRequest{
		Image:       image,
		Filename:    filepath.Base(c.Image),
		ContentType: http.DetectContentType(image),
		HeightCm:    c.Height,
		WeightKg:    c.Weight,
		Gender:      c.Gender,
		SeqAccount:  account,
	})
	if err != nil {
		return err
	}
	return a.print(result)
}

type confirmPaymentCmd struct {
	PaymentKey string `arg:"" help:"Payment key from the provider's success redirect."`
	OrderID    string `arg:"" help:"Order id."`
	Amount     int64  `arg:"" help:"Charged amount."`
}

func (c *confirmPaymentCmd) Run(a *app) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	confirmation, err := a.trends.ConfirmPayment(a.ctx, model.PaymentConfirmRequest{
		PaymentKey: c.PaymentKey,
		OrderID:    c.OrderID,
		Amount:     c.Amount,
	})
	if err != nil {
		return err
	}
	return a.print(confirmation)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
