// Command chatsync is a terminal client for the persona chat service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/app"
	"github.com/nhle/chatsync/internal/credential"
	"github.com/nhle/chatsync/internal/model"
	"github.com/nhle/chatsync/internal/notify"
	"github.com/nhle/chatsync/internal/session"
	"github.com/nhle/chatsync/internal/store"
	alertsync "github.com/nhle/chatsync/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatsync:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", model.DefaultConfigPath(), "path to the config file")
	logPath := pflag.String("log-file", "", "log file (default: next to the state database)")
	pflag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if *logPath == "" {
		*logPath = filepath.Join(filepath.Dir(cfg.Store.Path), "chatsync.log")
	}
	logger, err := newLogger(cfg.Log.Level, *logPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		// First run: write the effective settings so they can be edited.
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			logger.Warn("writing default config failed", zap.String("path", *configPath), zap.Error(err))
		}
	}

	ctx := context.Background()

	// The keyring also holds the optional API token, so open it even when
	// session state lives in SQLite. It is not fatal if unavailable.
	ring, err := credential.Open()
	if err != nil {
		logger.Warn("system keyring unavailable", zap.Error(err))
		ring = nil
	}

	var kv store.KV
	switch cfg.Store.Backend {
	case model.StoreBackendKeyring:
		if ring == nil {
			return fmt.Errorf("store.backend is %q but the keyring could not be opened", cfg.Store.Backend)
		}
		kv = ring
	default:
		db, err := store.NewSQLiteKV(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		kv = db
	}

	client := api.NewClient(cfg.API.BaseURL,
		api.WithToken(credential.APIToken(ctx, ring)),
		api.WithTimeout(cfg.RequestTimeout()),
		api.WithMaxRetries(cfg.API.MaxRetries),
		api.WithLogger(logger.Named("api")),
	)
	if err := client.Health(ctx); err != nil {
		logger.Warn("chat service health check failed", zap.String("base_url", cfg.API.BaseURL), zap.Error(err))
	}

	notices := notify.New(cfg.NoticeLifetime(), notify.WithLogger(logger.Named("notify")))
	defer notices.Close()

	ctrl := session.New(client, store.NewSessionStore(kv, logger.Named("store")), notices, logger.Named("session"), session.Config{
		PollInterval: cfg.PollInterval(),
		DueLimit:     cfg.Alerts.DueLimit,
		HistoryLimit: cfg.Session.HistoryLimit,
		SummaryEvery: cfg.Session.SummaryEvery,
		Chime:        alertsync.TerminalBell(os.Stderr),
	})
	defer ctrl.Close()

	logger.Info("starting console", zap.String("base_url", cfg.API.BaseURL), zap.String("store", cfg.Store.Backend))
	if _, err := tea.NewProgram(app.New(ctrl, notices), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running console: %w", err)
	}
	return nil
}

// newLogger writes JSON logs to path; the terminal belongs to the console.
func newLogger(level, path string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log.level %q: %w", level, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{path}
	zc.ErrorOutputPaths = []string{path}
	return zc.Build()
}
