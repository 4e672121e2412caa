package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/metriport/ihe-gateway/internal/config"
	"github.com/metriport/ihe-gateway/internal/keystore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ihe-gateway",
		Short: "IHE cross-community gateway (XCPD, XCA)",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	return cmd
}

func checkCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and signing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration ok: home community %s\n", cfg.Gateway.HomeCommunityID)

			kp, err := loadKeyPair(cfg.Signing)
			if err != nil {
				return err
			}
			if kp == nil {
				fmt.Fprintln(out, "signing disabled")
				return nil
			}
			info := kp.Info()
			fmt.Fprintf(out, "signing key: %s %d bits\n", info.Algorithm, info.KeySize)
			fmt.Fprintf(out, "certificate: %s (valid %s to %s)\n",
				info.CertificateSubject,
				info.NotBefore.Format(time.DateOnly),
				info.NotAfter.Format(time.DateOnly))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// The forwarder outlives the signal so it can flush at shutdown
	app.forwarder.Start(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	logger.Info("gateway started",
		"version", version,
		"port", cfg.Server.Port,
		"home_community_id", cfg.Gateway.HomeCommunityID,
		"correlation_backend", cfg.Correlation.Backend,
		"signing", cfg.Signing.Mode,
	)

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server failed", "error", serveErr)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	// Exchanges in flight still land their results before the hand-off stops
	if err := app.dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("outbound exchanges still running at shutdown", "error", err)
	}
	app.forwarder.Stop()
	if n := app.forwarder.Poll(shutdownCtx); n > 0 {
		logger.Info("forwarded results at shutdown", "count", n)
	}
	if err := app.store.Close(shutdownCtx); err != nil {
		logger.Error("closing correlation store", "error", err)
	}

	logger.Info("gateway stopped")
	return serveErr
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// loadKeyPair returns nil when signing is disabled
func loadKeyPair(cfg config.SigningConfig) (*keystore.KeyPair, error) {
	var (
		kp  *keystore.KeyPair
		err error
	)
	switch cfg.Mode {
	case config.SigningPEM:
		kp, err = keystore.LoadPEMFiles(cfg.CertFile, cfg.KeyFile)
	case config.SigningPKCS12:
		kp, err = keystore.LoadPKCS12File(cfg.PKCS12File, cfg.Password)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	if err := kp.Validate(time.Now()); err != nil {
		if errors.Is(err, keystore.ErrCertificateExpiry) {
			return nil, fmt.Errorf("signing certificate valid %s to %s: %w",
				kp.Certificate.NotBefore.Format(time.RFC3339),
				kp.Certificate.NotAfter.Format(time.RFC3339), err)
		}
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return kp, nil
}
