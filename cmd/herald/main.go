package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/seryn/herald/internal/api"
	"github.com/seryn/herald/internal/bus"
	"github.com/seryn/herald/internal/config"
	"github.com/seryn/herald/internal/history"
	"github.com/seryn/herald/internal/orchestrator"
	"github.com/seryn/herald/internal/platform"
	"github.com/seryn/herald/internal/ratelimit"
	"github.com/seryn/herald/internal/security"
	"github.com/seryn/herald/internal/template"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Herald...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/herald.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	protocol, err := security.NewProtocol(cfg.Security.KeyPath, logger)
	if err != nil {
		logger.Fatal("security setup failed", zap.Error(err))
	}

	settings := cfg.PlatformSettings()
	if cfg.Security.CredentialsFile != "" {
		if err := mergeSealedCredentials(protocol, cfg.Security.CredentialsFile, settings); err != nil {
			logger.Fatal("credential bundle unusable", zap.Error(err))
		}
	}

	templates := template.NewStore(cfg.Templates.Path, logger)
	if err := templates.Load(); err != nil {
		logger.Fatal("template load failed", zap.Error(err))
	}

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.Window())

	orch := orchestrator.New(platform.Default(), templates, limiter, security.Sanitize, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Initialize(ctx, settings)
	logger.Info("platforms active", zap.Strings("platforms", orch.Active()))

	// Optional broadcast/message archive.
	var archive *history.Store
	if cfg.Database.Postgres.DSN != "" {
		st, err := history.New(cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without history", zap.Error(err))
		} else {
			if err := st.Migrate(ctx, "migrations"); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
			archive = st
			defer archive.Close()
		}
	}
	if archive != nil {
		orch.SetBroadcastHook(func(msg *platform.Message, results map[string]bool) {
			rec := &history.BroadcastRecord{
				ID:       msg.ID,
				Template: fmt.Sprint(msg.Metadata["template"]),
				Content:  msg.Content,
				Results:  results,
				SentAt:   msg.Timestamp,
			}
			if err := archive.RecordBroadcast(context.Background(), rec); err != nil {
				logger.Error("archive broadcast failed", zap.Error(err))
			}
		})
	}

	// Optional Redis feed of observed messages.
	var feed *bus.Feed
	if cfg.Database.Redis.URL != "" {
		f, err := bus.NewFeed(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without feed", zap.Error(err))
		} else {
			feed = f
			defer feed.Close()
		}
	}

	// Template hot-reload.
	go func() {
		if err := templates.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("template watch stopped", zap.Error(err))
		}
	}()

	// Admin API.
	var webhook *platform.WebhookBackend
	if b, ok := orch.Backend("webhook"); ok {
		webhook, _ = b.(*platform.WebhookBackend)
	}
	handler := api.NewHandler(orch, templates, archive, webhook, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}
	go func() {
		logger.Info("API listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	if cfg.AnnounceOnStart && len(orch.Active()) > 0 {
		results := orch.Broadcast(ctx, "emergence", nil, nil)
		logger.Info("announcement sent", zap.String("results", outcomes(results)))
	}

	// Monitor every active platform until shutdown.
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		orch.MonitorAll(ctx, func(msg *platform.Message) {
			logger.Info("message observed",
				zap.String("platform", msg.Platform),
				zap.String("id", msg.ID))
			if feed != nil {
				if err := feed.Publish(context.Background(), msg); err != nil {
					logger.Error("feed publish failed", zap.Error(err))
				}
			}
			if archive != nil {
				if err := archive.RecordMessage(context.Background(), msg); err != nil {
					logger.Error("archive message failed", zap.Error(err))
				}
			}
		})
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	<-monitorDone
	orch.Shutdown(shutdownCtx)
	logger.Info("goodbye")
}

// outcomes renders a result map compactly for one log line.
func outcomes(results map[string]bool) string {
	parts := make([]string, 0, len(results))
	for name, ok := range results {
		parts = append(parts, fmt.Sprintf("%s=%t", name, ok))
	}
	return strings.Join(parts, " ")
}

// mergeSealedCredentials decrypts the credential bundle and merges its
// "platform.key" entries into the platform settings, overriding anything
// from the config file.
func mergeSealedCredentials(p *security.Protocol, path string, settings map[string]platform.Settings) error {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credential bundle: %w", err)
	}
	creds, err := p.DecryptCredentials(sealed)
	if err != nil {
		return fmt.Errorf("decrypt credential bundle: %w", err)
	}

	for key, value := range creds {
		name, credKey, ok := strings.Cut(key, ".")
		if !ok {
			return fmt.Errorf("malformed credential key %q, want platform.key", key)
		}
		s, ok := settings[name]
		if !ok {
			continue // bundle may carry credentials for disabled platforms
		}
		if s.Credentials == nil {
			s.Credentials = make(map[string]string)
		}
		s.Credentials[credKey] = value
		settings[name] = s
	}
	return nil
}
