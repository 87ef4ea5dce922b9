package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/venvmux/venvmux/internal/backend"
	"github.com/venvmux/venvmux/internal/framing"
	"github.com/venvmux/venvmux/internal/logging"
	"github.com/venvmux/venvmux/internal/metrics"
	"github.com/venvmux/venvmux/internal/proxy"
	"github.com/venvmux/venvmux/internal/venvresolve"
)

func runVenvmux(cfg *config) error {
	if cfg.maxBackend < 1 {
		cfg.maxBackend = 1
	}

	runID := uuid.New().String()
	logger, closeLog, err := logging.New(cfg.logFile, runID)
	if err != nil {
		return errors.Wrap(err, "initializing logger")
	}
	defer closeLog()

	kind, err := backend.ParseKind(cfg.backendKn)
	if err != nil {
		return errors.Wrap(err, "parsing --backend-kind")
	}

	reg := metrics.New()
	if cfg.metricsA != "" {
		if err := reg.ListenAndServe(cfg.metricsA); err != nil {
			return errors.Wrap(err, "starting metrics listener")
		}
		logger.Info("metrics listener started", "addr", cfg.metricsA)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		cancel()
	}()

	resolver := venvresolve.New()
	cwd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "getting working directory")
	}
	repoRoot, _ := resolver.RepoRoot(cwd)

	clientReader := framing.New(framing.RWC{Reader: os.Stdin, Closer: os.Stdin})
	clientWriter := framing.New(framing.RWC{Writer: os.Stdout})

	pcfg := proxy.Config{
		MaxBackends:   cfg.maxBackend,
		BackendTTL:    time.Duration(cfg.ttlSeconds) * time.Second,
		BackendKind:   kind,
		WarmupTimeout: time.Duration(cfg.warmupSeconds) * time.Second,
	}
	p := proxy.New(pcfg, clientReader, clientWriter, resolver, repoRoot, logger, reg)

	fallbackVenv, ferr := resolver.FindFallback(cwd)
	if ferr != nil {
		logger.Warn("fallback venv lookup failed", "err", ferr)
	} else if fallbackVenv != "" {
		h, err := backend.Spawn(ctx, kind, fallbackVenv)
		if err != nil {
			logger.Warn("failed to pre-spawn fallback backend", "venv", fallbackVenv, "err", err)
		} else {
			p.SetPendingInitialBackend(h, fallbackVenv)
			logger.Info("fallback backend pre-spawned", "venv", fallbackVenv)
		}
	} else {
		logger.Info("no fallback venv found at startup; backends will be created on demand")
	}

	logger.Info("venvmux starting", "run_id", runID, "backend_kind", kind.Name, "max_backends", cfg.maxBackend)

	runErr := p.Run(ctx)
	if shutdownErr := reg.Shutdown(context.Background()); shutdownErr != nil {
		logger.Warn("metrics server shutdown error", "err", shutdownErr)
	}

	if runErr == nil || runErr == context.Canceled {
		return nil
	}
	logger.Error("proxy terminated with error", "err", runErr)
	return runErr
}
