package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/bot"
	"github.com/elysium-gg/spawnkeeper/internal/config"
	"github.com/elysium-gg/spawnkeeper/internal/discord"
	"github.com/elysium-gg/spawnkeeper/internal/domain/attendance"
	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/elysium-gg/spawnkeeper/internal/domain/scheduler"
	"github.com/elysium-gg/spawnkeeper/internal/journal"
	"github.com/elysium-gg/spawnkeeper/internal/ledger"
	"github.com/elysium-gg/spawnkeeper/internal/timerq"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logWriter := io.Writer(os.Stdout)
	if logPath := os.Getenv("SPAWNKEEPER_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	catalog, err := event.Load(cfg.Events.Path)
	if err != nil {
		logger.Error("failed to load event catalogue", "path", cfg.Events.Path, "error", err)
		os.Exit(1)
	}

	if err := ensureDir(cfg.Journal.Path); err != nil {
		logger.Error("failed to prepare journal path", "error", err)
		os.Exit(1)
	}
	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Error("failed to open journal", "error", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	ledgerClient := ledger.New(ledger.Config{
		WebhookURL: cfg.Ledger.WebhookURL,
		MinSpacing: cfg.Ledger.MinSpacing,
		Timeout:    cfg.Ledger.Timeout,
	}, logger)

	client := discord.NewClient(cfg.Discord.Token, logger)

	att := attendance.NewService(client, ledgerClient, jrnl, catalog, attendance.Config{
		GuildID:            cfg.Discord.GuildID,
		ChannelID:          cfg.Discord.ChannelID,
		ConfirmChannelID:   cfg.Discord.ConfirmChannelID,
		AutoArchiveMinutes: cfg.Discord.AutoArchiveMinutes,
	}, logger)

	queue := timerq.New()
	defer queue.Close()

	announcer := bot.NewChannelAnnouncer(client, cfg.Discord.AnnounceChannelID, logger)
	sched := scheduler.NewService(catalog, queue, att, announcer, ledgerClient, jrnl, logger)

	botCfg := bot.Config{
		GuildID:            cfg.Discord.GuildID,
		ChannelID:          cfg.Discord.ChannelID,
		ConfirmChannelID:   cfg.Discord.ConfirmChannelID,
		AnnounceChannelID:  cfg.Discord.AnnounceChannelID,
		TimerFeedChannelID: cfg.Discord.TimerFeedChannelID,
		AdminRoleIDs:       cfg.Discord.AdminRoleIDs,
		PollInterval:       cfg.Discord.PollInterval,
	}
	router := bot.NewRouter(client, att, sched, catalog, botCfg, logger)
	poller := bot.NewPoller(client, router, att, botCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restart recovery happens before the poll loop: open threads first so
	// the scheduler's dedup window sees them, then the persisted timers.
	if restored, err := att.RecoverFromThreads(ctx); err != nil {
		logger.Error("thread recovery failed", "error", err)
	} else if restored > 0 {
		logger.Info("restored open spawns", "count", restored)
	}
	if err := sched.Recover(ctx); err != nil {
		logger.Error("timer recovery failed", "error", err)
	}

	go runSweeper(ctx, att, logger)
	healthServer := startHealthServer(cfg.Health.Addr, att, sched, ledgerClient, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("spawnkeeper running",
		"guild", cfg.Discord.GuildID,
		"channel", cfg.Discord.ChannelID,
		"poll_interval", cfg.Discord.PollInterval,
	)
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("poller stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if healthServer != nil {
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server shutdown error", "error", err)
		}
	}
}

// runSweeper force-closes spawn threads left open past the grace period.
func runSweeper(ctx context.Context, att *attendance.Service, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := att.Sweep(ctx); closed > 0 {
				logger.Info("swept stale spawn threads", "count", closed)
			}
		}
	}
}

func startHealthServer(addr string, att *attendance.Service, sched *scheduler.Service, ledgerClient *ledger.Client, logger *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"timers":              sched.Status(),
			"spawns":              att.Status(),
			"ledger_circuit_open": ledgerClient.CircuitOpen(),
		})
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("health endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()
	return server
}

func ensureDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

// logFileWriter appends to a single log file, truncating it back down to
// keepLogSizeBytes once it crosses maxLogSizeBytes.
type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
