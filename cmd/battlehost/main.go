package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"battlehost-go/internal/battle"
	"battlehost-go/internal/config"
	"battlehost-go/internal/events"
	"battlehost-go/internal/logging"
	"battlehost-go/internal/server"
)

var configPath string

var flagValues = struct {
	bind         string
	port         int
	allowCIDRs   []string
	engine       string
	engineArgs   []string
	engineStderr bool
	idleTimeout  time.Duration
	reapInterval time.Duration
	killGrace    time.Duration
	publicDir    string
	eventsDir    string
	logLevel     string
	logFormat    string
}{}

var rootCmd = &cobra.Command{
	Use:           "battlehost",
	Short:         "Serve battles over HTTP, one engine process per battle",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVar(&flagValues.engine, "engine", "", "path to the battle engine binary")
	f.StringArrayVar(&flagValues.engineArgs, "engine-arg", nil, "extra engine argument (repeatable)")
	f.BoolVar(&flagValues.engineStderr, "engine-stderr", false, "forward engine stderr to the debug log")
	f.DurationVar(&flagValues.killGrace, "kill-grace", 0, "time an engine gets to exit before it is killed")
	f.StringVar(&flagValues.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&flagValues.logFormat, "log-format", "", "text or json")

	f = rootCmd.Flags()
	f.StringVar(&flagValues.bind, "bind", "", "address to listen on")
	f.IntVar(&flagValues.port, "port", 0, "port to listen on")
	f.StringArrayVar(&flagValues.allowCIDRs, "allow-cidr", nil, "client CIDR allowed besides localhost (repeatable)")
	f.DurationVar(&flagValues.idleTimeout, "idle-timeout", 0, "age after which a battle is reaped")
	f.DurationVar(&flagValues.reapInterval, "reap-interval", 0, "how often the reaper runs")
	f.StringVar(&flagValues.publicDir, "public", "", "directory of the browser client")
	f.StringVar(&flagValues.eventsDir, "events-dir", "", "directory for the battle event journal")

	rootCmd.AddCommand(checkCmd)
}

// loadConfig resolves defaults, the config file, the environment and then
// any flag the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("bind") {
		cfg.Bind = flagValues.bind
	}
	if flags.Changed("port") {
		cfg.Port = flagValues.port
	}
	if flags.Changed("allow-cidr") {
		cfg.AllowCIDRs = flagValues.allowCIDRs
	}
	if flags.Changed("engine") {
		cfg.EnginePath = flagValues.engine
	}
	if flags.Changed("engine-arg") {
		cfg.EngineArgs = flagValues.engineArgs
	}
	if flags.Changed("engine-stderr") {
		cfg.EngineStderr = flagValues.engineStderr
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = flagValues.idleTimeout
	}
	if flags.Changed("reap-interval") {
		cfg.ReapInterval = flagValues.reapInterval
	}
	if flags.Changed("kill-grace") {
		cfg.KillGrace = flagValues.killGrace
	}
	if flags.Changed("public") {
		cfg.PublicDir = flagValues.publicDir
	}
	if flags.Changed("events-dir") {
		cfg.EventsDir = flagValues.eventsDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagValues.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = flagValues.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})
}

func serve(cfg config.Config) error {
	logger := newLogger(cfg)

	store, err := events.Open(cfg.EventsDir)
	if err != nil {
		return err
	}
	feed := server.NewFeed(store, logger)
	battles := battle.NewManager(battle.Options{
		EnginePath:   cfg.EnginePath,
		EngineArgs:   cfg.EngineArgs,
		EngineStderr: cfg.EngineStderr,
		IdleTimeout:  cfg.IdleTimeout,
		ReapInterval: cfg.ReapInterval,
		KillGrace:    cfg.KillGrace,
		Logger:       logger,
		Listener:     feed,
	})
	srv := server.New(cfg, battles, feed, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never finish on their own; closing the feed ends them so
	// Shutdown can complete.
	httpServer.RegisterOnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = feed.Close(ctx)
	})

	attrs := []any{"addr", "http://" + httpServer.Addr, "engine", cfg.EnginePath, "public", cfg.PublicDir}
	if len(cfg.AllowCIDRs) > 0 {
		attrs = append(attrs, "allow", strings.Join(cfg.AllowCIDRs, ","))
	}
	logger.Info("battlehost listening", attrs...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdown(httpServer, battles, 5*time.Second, logger)
	if err := store.Cleanup(); err != nil {
		logger.Warn("remove event journal", "dir", cfg.EventsDir, "error", err)
	}
	return serveErr
}

// shutdown drains battles alongside the HTTP shutdown: a handler blocked on
// a silent engine only returns once its engine is terminated. It returns
// after every engine has been stopped, however long httpTimeout is.
func shutdown(httpServer *http.Server, battles *battle.Manager, httpTimeout time.Duration, logger *slog.Logger) {
	drained := make(chan error, 1)
	go func() {
		drained <- battles.Shutdown(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := <-drained; err != nil {
		logger.Warn("battle drain", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "battlehost:", err)
		os.Exit(1)
	}
}
