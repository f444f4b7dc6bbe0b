package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bulkprov/bulkprov/internal/backend"
	"github.com/bulkprov/bulkprov/internal/model"
)

const (
	// DefaultPollTimeout bounds how long one row waits for its mailbox.
	DefaultPollTimeout = 8 * time.Minute
	// DefaultPollInterval is the fixed delay between mailbox checks.
	DefaultPollInterval = 30 * time.Second
	// DefaultSettleDelay is the wait between base archive enablement and
	// the auto-expanding follow-up.
	DefaultSettleDelay = 2 * time.Minute
)

// Poller waits for an asynchronously-provisioned mailbox to appear and
// then enables archiving on it.
type Poller struct {
	mailboxes MailboxService
	clock     Clock
	logger    *slog.Logger

	timeout  time.Duration
	interval time.Duration
	settle   time.Duration
}

// NewPoller builds a poller. Non-positive durations fall back to defaults.
func NewPoller(mailboxes MailboxService, clock Clock, logger *slog.Logger, timeout, interval, settle time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Poller{
		mailboxes: mailboxes,
		clock:     clock,
		logger:    logger.With("component", "provision.poller"),
		timeout:   timeout,
		interval:  interval,
		settle:    settle,
	}
}

// WaitAndEnable blocks until the mailbox for upn becomes visible, then
// enables its archive. The deadline elapsing is an expected outcome
// (ArchiveNotFoundAfterTimeout), not an error. A failing archive-enable
// call is an error and fatal to the row; a failing auto-expanding
// follow-up is best-effort and leaves the state at ArchiveEnabled.
func (p *Poller) WaitAndEnable(ctx context.Context, upn string) (model.ArchiveState, error) {
	deadline := p.clock.Now().Add(p.timeout)

	for {
		_, err := p.mailboxes.FindMailbox(ctx, upn)
		if err == nil {
			break
		}
		if !errors.Is(err, backend.ErrNotFound) {
			return model.ArchiveNotApplicable, fmt.Errorf("find mailbox %s: %w", upn, err)
		}
		if !p.clock.Now().Before(deadline) {
			p.logger.Warn("mailbox not provisioned within deadline",
				"target_upn", upn,
				"timeout", p.timeout,
			)
			return model.ArchiveNotFoundAfterTimeout, nil
		}
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return model.ArchiveNotApplicable, err
		}
	}

	if err := p.mailboxes.EnableArchive(ctx, upn); err != nil {
		return model.ArchiveNotApplicable, err
	}
	p.logger.Info("archive enabled", "target_upn", upn)

	// Let the archive settle before the capacity follow-up.
	if err := p.clock.Sleep(ctx, p.settle); err != nil {
		return model.ArchiveNotApplicable, err
	}

	if err := p.mailboxes.EnableAutoExpandingArchive(ctx, upn); err != nil {
		p.logger.Warn("auto-expanding archive not enabled",
			"target_upn", upn,
			"error", err,
		)
		return model.ArchiveEnabled, nil
	}
	p.logger.Info("auto-expanding archive enabled", "target_upn", upn)
	return model.ArchiveEnabledAutoExpanding, nil
}
