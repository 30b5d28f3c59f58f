// Package main is the entry point for the email-to-fax gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/shineum/fax-gateway/internal/assemble"
	"github.com/shineum/fax-gateway/internal/config"
	"github.com/shineum/fax-gateway/internal/correlate"
	"github.com/shineum/fax-gateway/internal/email"
	"github.com/shineum/fax-gateway/internal/gateway"
	"github.com/shineum/fax-gateway/internal/parser"
	"github.com/shineum/fax-gateway/internal/provider"
	"github.com/shineum/fax-gateway/internal/provider/ses"
	"github.com/shineum/fax-gateway/internal/provider/stdout"
	"github.com/shineum/fax-gateway/internal/provider/twilio"
	"github.com/shineum/fax-gateway/internal/relay"
	"github.com/shineum/fax-gateway/internal/storage/gcs"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if !cfg.FaxConfigured() {
		slog.Error("fax provider not configured; FAX_ACCOUNT_SID, FAX_AUTH_TOKEN and FAX_FROM_NUMBER are required")
		os.Exit(1)
	}
	if !cfg.StorageConfigured() {
		slog.Error("blob storage not configured; GCS_BUCKET is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	station, err := buildStation(cfg)
	if err != nil {
		slog.Error("invalid station configuration", "error", err)
		os.Exit(1)
	}

	blobs, err := gcs.New(ctx, gcs.Config{
		Bucket:           cfg.Storage.Bucket,
		CredentialsJSON:  cfg.Storage.CredentialsJSON,
		SignerEmail:      cfg.Storage.SignerEmail,
		SignerPrivateKey: cfg.Storage.SignerPrivateKey,
		URLTTL:           time.Duration(cfg.Storage.URLTTLMinutes) * time.Minute,
	})
	if err != nil {
		slog.Error("failed to create blob store client", "error", err)
		os.Exit(1)
	}
	defer blobs.Close()

	rel := relay.New(blobs, nil, slog.Default())
	engine := assemble.New(station, rel, slog.Default())
	store := correlate.New(time.Duration(cfg.Correlation.TTLHours) * time.Hour)

	emails := selectEmailSender(ctx, cfg)
	faxes := twilio.New(twilio.Config{
		AccountSID: cfg.Fax.AccountSID,
		AuthToken:  cfg.Fax.AuthToken,
	}, slog.Default())

	handler := gateway.NewHandler(engine, store, rel, emails, faxes, slog.Default())

	server := &http.Server{
		Addr:         cfg.HTTP.Listen,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	slog.Info("starting fax-gateway",
		"listen", cfg.HTTP.Listen,
		"email_provider", emails.Name(),
		"fax_provider", faxes.Name(),
		"bucket", cfg.Storage.Bucket,
	)

	// Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		cancel()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("fax-gateway stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// buildStation assembles the station description from configuration.
func buildStation(cfg *config.Config) (assemble.Station, error) {
	toPattern, err := regexp.Compile(cfg.Fax.ToPattern)
	if err != nil {
		return assemble.Station{}, err
	}

	agent, err := parser.ParseAddress(cfg.Station.AgentAddr)
	if err != nil {
		return assemble.Station{}, err
	}

	var inbox []email.Address
	if cfg.Station.InboxAddr != "" {
		inbox, err = parser.ParseAddressList(cfg.Station.InboxAddr)
		if err != nil {
			return assemble.Station{}, err
		}
	}

	return assemble.Station{
		CountryCode:    cfg.Fax.CountryCode,
		FromNumber:     cfg.Fax.FromNumber,
		ToPattern:      toPattern,
		DefaultQuality: cfg.Fax.DefaultQuality,
		CallbackPath:   gateway.PathOutgoingSent,
		Agent:          agent,
		Inbox:          inbox,
		Domain:         cfg.Station.Domain,
	}, nil
}

// selectEmailSender chooses the email delivery backend based on
// configuration. If EMAIL_PROVIDER is set, it takes precedence;
// otherwise SES is auto-detected when configured, falling back to stdout.
func selectEmailSender(ctx context.Context, cfg *config.Config) provider.EmailSender {
	switch cfg.Email.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES provider selected but SES_REGION is required")
			os.Exit(1)
		}
		return newSESSender(ctx, cfg)

	case "stdout":
		slog.Info("using stdout email provider")
		return stdout.New()

	case "":
		// Auto-detection fallback
		if cfg.SESConfigured() {
			return newSESSender(ctx, cfg)
		}
		slog.Info("no email provider configured, using stdout provider")
		return stdout.New()

	default:
		slog.Error("unknown email provider", "provider", cfg.Email.Provider)
		os.Exit(1)
		return nil
	}
}

func newSESSender(ctx context.Context, cfg *config.Config) provider.EmailSender {
	slog.Info("using AWS SES email provider", "region", cfg.Email.SES.Region)
	s, err := ses.New(ctx, ses.Config{
		Region:          cfg.Email.SES.Region,
		AccessKeyID:     cfg.Email.SES.AccessKeyID,
		SecretAccessKey: cfg.Email.SES.SecretAccessKey,
	})
	if err != nil {
		slog.Error("failed to create SES provider", "error", err)
		os.Exit(1)
	}
	return s
}
