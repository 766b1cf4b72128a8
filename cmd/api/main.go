package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sanamind.org/internal/audit"
	"sanamind.org/internal/auth"
	"sanamind.org/internal/blobstore"
	"sanamind.org/internal/capability"
	"sanamind.org/internal/cipher"
	"sanamind.org/internal/config"
	"sanamind.org/internal/dossier"
	"sanamind.org/internal/httpapi"
	"sanamind.org/internal/obs"
	"sanamind.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sanamind-api:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var showVersion bool
	flags := pflag.NewFlagSet("sanamind-api", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", os.Getenv("SANAMIND_CONFIG"), "path to YAML config file")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("sanamind-api %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", config.ErrInvalid)
	}

	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Environment: cfg.Environment, Service: cfg.Service})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	restore := obs.SetLogger(logger)
	defer restore()

	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	keys, err := cipher.ParseKeys(cfg.Cipher.Keys, cfg.Cipher.Order)
	if err != nil {
		return fmt.Errorf("load cipher keys: %w", err)
	}

	artifacts, closeArtifacts, err := blobstore.Open(ctx, cfg.Artifacts.Blobstore())
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer func() { _ = closeArtifacts() }()

	auditor, err := audit.NewAuditor(store, []byte(cfg.Audit.HashKey),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	// Drain pending access-log writes before the database closes.
	defer auditor.Wait()

	tokens, err := capability.NewService([]byte(cfg.Capability.Secret), cfg.Capability.BaseURL,
		capability.WithDefaultTTL(cfg.Capability.DefaultTTL),
		capability.WithIssuer(cfg.Capability.Issuer),
	)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessions([]byte(cfg.Session.Secret), auth.WithTTL(cfg.Session.TTL))
	if err != nil {
		return err
	}

	svc, err := dossier.NewService(store, keys, auditor,
		dossier.WithTokens(tokens),
		dossier.WithArtifacts(artifacts),
		dossier.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Options{
		Version:           version,
		Ready:             httpapi.ReadyProbe{DB: store.DB()},
		Dossiers:          svc,
		Sessions:          sessions,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		DownloadBurst:     cfg.HTTP.DownloadBurst,
		DownloadRate:      cfg.HTTP.DownloadRate,
		MaxArtifactBytes:  cfg.HTTP.MaxArtifactBytes,
		TrustForwardedFor: cfg.HTTP.TrustForwardedFor,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting sanamind-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("artifacts_backend", cfg.Artifacts.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}
