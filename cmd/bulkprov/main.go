// Package main is the entrypoint for the bulkprov batch provisioning tool.
package main

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bulkprov/bulkprov/internal/backend"
	"github.com/bulkprov/bulkprov/internal/config"
	"github.com/bulkprov/bulkprov/internal/directory"
	"github.com/bulkprov/bulkprov/internal/input"
	"github.com/bulkprov/bulkprov/internal/license"
	"github.com/bulkprov/bulkprov/internal/mailbox"
	"github.com/bulkprov/bulkprov/internal/model"
	"github.com/bulkprov/bulkprov/internal/provision"
	"github.com/bulkprov/bulkprov/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	// Every run gets its own id and log file; the log is echoed to the
	// console so the operator sees live progress.
	runID := newRunID()
	logger, closeLog, err := initLogger(cfg, runID)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		return 1
	}
	defer closeLog()

	// Cancel in-flight waits on interrupt; there is no checkpoint, a
	// terminated run restarts from the beginning.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info("starting provisioning run",
		"input", cfg.InputPath,
		"usage_location", cfg.UsageLocation,
	)

	creds := func(scope string) backend.Credentials {
		return backend.Credentials{
			TokenURL:     cfg.TokenURL(),
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scope:        scope,
		}
	}

	// Either backend session failing to establish aborts the whole run
	// before any row is touched.
	dirSession, err := backend.Connect(ctx, "directory", cfg.DirectoryBaseURL, creds(cfg.DirectoryScope), cfg.BackendRequestsPerSecond, logger)
	if err != nil {
		logger.Error("failed to connect to directory service", "error", err)
		return 1
	}
	mbxSession, err := backend.Connect(ctx, "mailbox", cfg.MailboxBaseURL, creds(cfg.MailboxScope), cfg.BackendRequestsPerSecond, logger)
	if err != nil {
		logger.Error("failed to connect to mailbox service", "error", err)
		return 1
	}

	dirClient := directory.NewClient(dirSession)
	mbxClient := mailbox.NewClient(mbxSession)

	// License pools are initialized once from backend-reported counts and
	// live only for this run.
	skus, err := dirClient.ListSubscribedSKUs(ctx)
	if err != nil {
		logger.Error("failed to list license pools", "error", err)
		return 1
	}
	alloc := license.NewAllocator(license.FromSubscribedSKUs(skus))
	logger.Info("license pools loaded",
		"e1_available", alloc.Remaining(model.LicenseE1),
		"e3_available", alloc.Remaining(model.LicenseE3),
		"teams_available", alloc.RemainingTeams(),
	)

	rows, err := input.NewLoader(logger).LoadFile(cfg.InputPath)
	if err != nil {
		logger.Error("failed to load input", "error", err)
		return 1
	}
	logger.Info("input loaded", "rows", len(rows))

	clock := provision.SystemClock{}
	poller := provision.NewPoller(mbxClient, clock, logger,
		cfg.MailboxPollTimeout, cfg.MailboxPollInterval, cfg.ArchiveSettleDelay)
	orch := provision.New(dirClient, mbxClient, alloc, poller,
		provision.Settings{UsageLocation: cfg.UsageLocation}, logger)

	result, runErr := orch.Run(ctx, rows)
	if runErr != nil {
		logger.Error("run interrupted", "error", runErr)
	}

	if err := report.WriteMain(cfg.ReportPath, result.Outcomes); err != nil {
		logger.Error("failed to write report", "error", err)
		return 1
	}
	if err := report.WriteSkipped(cfg.SkippedReportPath, result.Skipped); err != nil {
		logger.Error("failed to write skipped report", "error", err)
		return 1
	}

	sum := result.Summary
	logger.Info("run complete",
		"processed", sum.Processed,
		"created", sum.Created,
		"already_existing", sum.AlreadyExisting,
		"assigned", sum.Assigned,
		"exhausted", sum.Exhausted,
		"unknown_type", sum.UnknownType,
		"failed", sum.Failed,
		"archive_enabled", sum.ArchiveEnabled,
		"e1_remaining", alloc.Remaining(model.LicenseE1),
		"e3_remaining", alloc.Remaining(model.LicenseE3),
		"teams_remaining", alloc.RemainingTeams(),
	)

	if runErr != nil {
		return 1
	}
	return 0
}

// newRunID mints a lexically sortable id for this invocation.
func newRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// initLogger builds a logger writing to both stdout and an append-only
// run log file named after the run id.
func initLogger(cfg *config.Config, runID string) (*slog.Logger, func(), error) {
	logPath := filepath.Join(cfg.LogDir, "bulkprov-"+runID+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	out := io.MultiWriter(os.Stdout, f)
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(h).With("run_id", runID)
	slog.SetDefault(logger)

	return logger, func() { f.Close() }, nil
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
