package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/irisetthq/irisett/internal/check"
	"github.com/irisetthq/irisett/internal/config"
	"github.com/irisetthq/irisett/internal/logging"
	"github.com/irisetthq/irisett/internal/metrics"
	"github.com/irisetthq/irisett/internal/notify"
	"github.com/irisetthq/irisett/internal/results"
	"github.com/irisetthq/irisett/internal/runtime"
	"github.com/irisetthq/irisett/internal/server"
	"github.com/irisetthq/irisett/internal/store"
)

const serverShutdownTimeout = 5 * time.Second

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "check-config":
		err = checkConfig(ctx, os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Irisett active monitoring server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  irisett run [--config /etc/irisett/irisett.yaml] [-d]")
	fmt.Println("  irisett check-config [--config /etc/irisett/irisett.yaml]")
}

func checkConfig(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := config.Load(ctx, *configPath); err != nil {
		return err
	}
	fmt.Printf("configuration %s is valid\n", *configPath)
	return nil
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "Path to configuration file")
	debug := fs.Bool("d", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *debug {
		cfg.Debug = true
	}

	logger, err := logging.New(logging.Options{Debug: cfg.Debug, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("irisett starting", zap.String("config", *configPath), zap.String("database", cfg.Database.Type))
	if cfg.Database.Ephemeral() {
		logger.Warn("using the in-memory database; monitors, contacts and history are lost on restart")
	}

	st, err := store.Open(ctx, store.Options{Type: cfg.Database.Type, DSN: cfg.Database.DSN, Filename: cfg.Database.Filename})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	channels, err := buildChannels(cfg.Notifications)
	if err != nil {
		return err
	}
	logger.Info("notification channels configured", zap.Strings("channels", channels.Types()))

	metricsStore := metrics.NewStore()
	rt, err := runtime.New(runtime.Dependencies{
		Store:    st,
		Checks:   check.NewDefaultRegistry(),
		Channels: channels,
		Logger:   logger,
		Metrics:  metricsStore,
	}, runtimeOptions(cfg)...)
	if err != nil {
		return err
	}
	if err := rt.Initialize(ctx); err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := server.New(server.Config{
		Addr:        cfg.WebAPI.Addr,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
		Username:    cfg.WebAPI.Username,
		Password:    cfg.WebAPI.Password,
	}, server.Dependencies{Logger: logger.Named("api"), Engine: rt})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.NewHTTPHandler(metricsStore))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	// The runtime follows groupCtx so a listener failure also stops it.
	grp, groupCtx := errgroup.WithContext(runCtx)
	wait := rt.Start(groupCtx)
	grp.Go(func() error {
		return serve(groupCtx, api.Server, logger.With(zap.String("listener", "api")))
	})
	grp.Go(func() error {
		return serve(groupCtx, metricsSrv, logger.With(zap.String("listener", "metrics")))
	})
	grp.Go(func() error {
		<-groupCtx.Done()
		wait()
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}
	logger.Info("irisett stopped")
	return nil
}

func runtimeOptions(cfg config.Config) []runtime.Option {
	am := cfg.ActiveMonitors
	n := cfg.Notifications
	return []runtime.Option{
		runtime.WithMaxConcurrentJobs(am.MaxConcurrentJobs),
		runtime.WithMaxQueuedJobs(am.MaxQueuedJobs),
		runtime.WithDefaultInterval(am.DefaultMonitorInterval),
		runtime.WithDefaultDownThreshold(am.DefaultDownThreshold),
		runtime.WithRetention(results.Retention{
			MaxAge:   am.ResultRetention.MaxAge,
			MaxCount: am.ResultRetention.MaxCount,
		}, am.PruneSchedule),
		runtime.WithTickResolution(cfg.Scheduler.TickResolution),
		runtime.WithShutdownGrace(cfg.ShutdownGrace),
		runtime.WithNotifyOptions(
			notify.WithRetry(n.MaxAttempts, n.InitialBackoff, n.MaxBackoff),
			notify.WithRateLimit(n.RatePerSecond),
		),
	}
}

// buildChannels registers webhook and slack always, email and telegram only
// when configured.
func buildChannels(cfg config.NotificationConfig) (*notify.Channels, error) {
	channels := notify.NewChannels(
		notify.NewWebhookChannel(cfg.Webhook.Timeout, cfg.Webhook.Headers),
		notify.NewSlackChannel(cfg.Webhook.Timeout),
	)
	if cfg.SMTP.Host != "" {
		channels.Register(notify.NewEmailChannel(notify.SMTPSettings{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Sender:   cfg.SMTP.Sender,
		}))
	}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramChannel(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		channels.Register(tg)
	}
	return channels, nil
}

func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
