package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/kernel"
	"github.com/me/os3/internal/logging"
	"github.com/me/os3/internal/server"
	"github.com/me/os3/internal/store"
	"github.com/me/os3/internal/tracing"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.os3/os3.db)")
	flag.DurationVar(&cfg.RunTimeout, "run-timeout", cfg.RunTimeout, "Abort API-started runs after this long")
	flag.BoolVar(&cfg.AllowScriptFiles, "allow-script-files", false, "Let clients load scripts from the server's filesystem")
	traceFile := flag.String("trace-file", "", `Write OpenTelemetry spans for API-started runs ("-" for stdout)`)
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}

	st, err := store.Open(context.Background(), dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("database ready", "path", dbPath)

	tracer, err := tracing.New("os3-server", kernel.Version, *traceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init tracing: %v\n", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	srv := server.New(cfg, st, logger, server.WithTracer(tracer))

	// Graceful shutdown. Request contexts derive from ctx so in-flight runs
	// halt when a signal arrives.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:        cfg.Addr,
		Handler:     srv.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
