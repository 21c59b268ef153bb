package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/api"
	"github.com/xraph/agentchat/internal/config"
	"github.com/xraph/agentchat/observability"
	"github.com/xraph/agentchat/payment"
	paymem "github.com/xraph/agentchat/payment/memory"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/store/memory"
	"github.com/xraph/agentchat/store/mongo"
	"github.com/xraph/agentchat/store/postgres"
	"github.com/xraph/agentchat/store/sqlite"
)

func runServe(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	if done, err := parseFlags(fs, args, stdout); done {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fwd, err := openForwarder(cfg, logger)
	if err != nil {
		return err
	}
	l, err := openLedger(ctx, cfg, logger, fwd,
		agentchat.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Stop(); err != nil {
			logger.Error("failed to stop ledger", "error", err)
		}
	}()
	if err := l.Start(ctx); err != nil {
		return err
	}

	auth := api.NewAuthenticator([]byte(cfg.JWTSecret), api.WithIssuer(cfg.JWTIssuer))
	apiOpts := []api.Option{api.WithLogger(logger)}
	if bank, ok := fwd.(*paymem.Bank); ok {
		apiOpts = append(apiOpts, api.WithBalances(bank))
	}
	srv := api.New(l, auth, apiOpts...)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	if cfg.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	srv.RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpSrv.Addr, "store", cfg.Store)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func runDeploy(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("deploy", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	agentFlag := fs.String("agent", "", "agent address receiving purchase payments (required)")
	deployerFlag := fs.String("deployer", "", "initial owner address (default: the agent)")
	if done, err := parseFlags(fs, args, stdout); done {
		return err
	}

	agent, err := account.Parse(*agentFlag)
	if err != nil {
		return fmt.Errorf("--agent: %w", err)
	}
	deployer := agent
	if *deployerFlag != "" {
		if deployer, err = account.Parse(*deployerFlag); err != nil {
			return fmt.Errorf("--deployer: %w", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)

	fwd, err := openForwarder(cfg, logger)
	if err != nil {
		return err
	}
	l, err := openLedger(ctx, cfg, logger, fwd)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Stop(); err != nil {
			logger.Error("failed to stop ledger", "error", err)
		}
	}()
	if err := l.Start(ctx); err != nil {
		return err
	}

	c, err := l.Deploy(ctx, deployer, agent)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, c.ID.String())
	return nil
}

func runToken(_ context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	sub := fs.String("sub", "", "caller address the token authenticates (required)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if done, err := parseFlags(fs, args, stdout); done {
		return err
	}

	subject, err := account.Parse(*sub)
	if err != nil {
		return fmt.Errorf("--sub: %w", err)
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	tok, err := api.NewAuthenticator([]byte(cfg.JWTSecret), api.WithIssuer(cfg.JWTIssuer)).Mint(subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

// openLedger builds an engine on the configured store that pays through
// fwd.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger, fwd payment.Forwarder, opts ...agentchat.Option) (*agentchat.AccessLedger, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	base := []agentchat.Option{
		agentchat.WithLogger(logger),
		agentchat.WithForwarder(fwd),
		agentchat.WithPluginTimeout(cfg.PluginTimeout),
	}
	return agentchat.New(s, append(base, opts...)...), nil
}

// openForwarder returns the configured payment forwarder. Discard accepts
// every payment without moving funds.
func openForwarder(cfg *config.Config, logger *slog.Logger) (payment.Forwarder, error) {
	if cfg.Forwarder == config.ForwarderMemory {
		return openBank(cfg, logger)
	}
	return payment.Discard, nil
}

// openBank builds the in-process forwarder with the configured opening
// balances. Unfunded buyers cannot pay.
func openBank(cfg *config.Config, logger *slog.Logger) (*paymem.Bank, error) {
	funding, err := cfg.Funding()
	if err != nil {
		return nil, err
	}
	bank := paymem.NewBank()
	for addr, amount := range funding {
		if err := bank.Deposit(addr, amount); err != nil {
			return nil, fmt.Errorf("fund %s: %w", addr.Hex(), err)
		}
		logger.Info("funded account", "address", addr.Hex(), "balance", amount.String())
	}
	if len(funding) == 0 {
		logger.Warn("memory forwarder has no funded accounts; purchases will fail until AGENTCHAT_BALANCES is set")
	}
	return bank, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	case config.StoreMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// requestLogger logs each request through slog at debug level, errors at
// warn.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		})
	}
}
