// Package provision runs the per-row provisioning state machine:
// exists-check, create-or-skip, usage location, license assignment and
// conditional archive enablement.
package provision

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bulkprov/bulkprov/internal/backend"
	"github.com/bulkprov/bulkprov/internal/directory"
	"github.com/bulkprov/bulkprov/internal/license"
	"github.com/bulkprov/bulkprov/internal/model"
)

// Settings are the orchestrator's run parameters.
type Settings struct {
	UsageLocation string
}

// Summary counts outcomes across one run.
type Summary struct {
	Processed       int
	Created         int
	AlreadyExisting int
	Assigned        int
	Exhausted       int
	UnknownType     int
	Failed          int
	ArchiveEnabled  int
}

// Result is everything a run produces for the report writer.
type Result struct {
	Outcomes []model.OutcomeRecord
	Skipped  []model.SkippedRecord
	Summary  Summary
}

// Orchestrator processes rows strictly sequentially. One row's failure
// never aborts the batch; only context cancellation stops the loop early.
type Orchestrator struct {
	dir    DirectoryService
	alloc  *license.Allocator
	poller *Poller
	mbx    MailboxService
	logger *slog.Logger
	cfg    Settings
}

// New builds an orchestrator over the two backend surfaces.
func New(dir DirectoryService, mbx MailboxService, alloc *license.Allocator, poller *Poller, cfg Settings, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		dir:    dir,
		mbx:    mbx,
		alloc:  alloc,
		poller: poller,
		logger: logger.With("component", "provision.orchestrator"),
		cfg:    cfg,
	}
}

// Run processes every row in input order. Each row yields exactly one
// outcome record; rows denied a license additionally yield one skipped
// record. Returns ctx.Err() with the partial result when cancelled.
func (o *Orchestrator) Run(ctx context.Context, rows []model.UserRow) (Result, error) {
	result := Result{
		Outcomes: make([]model.OutcomeRecord, 0, len(rows)),
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		o.logger.Info("processing row",
			"row", i+1,
			"of", len(rows),
			"target_upn", row.TargetUPN,
		)

		outcome, skipped := o.processRow(ctx, row, &result.Summary)
		result.Outcomes = append(result.Outcomes, outcome)
		if skipped != nil {
			result.Skipped = append(result.Skipped, *skipped)
		}
		result.Summary.Processed++
	}

	return result, nil
}

// processRow walks one row through the state machine. Unexpected errors
// at any step produce a Failed record; anticipated business outcomes are
// carried as status values, never as errors.
func (o *Orchestrator) processRow(ctx context.Context, row model.UserRow, sum *Summary) (model.OutcomeRecord, *model.SkippedRecord) {
	rec := model.OutcomeRecord{
		TargetUPN:    row.TargetUPN,
		DisplayName:  row.DisplayName,
		LicenseType:  row.LicenseType,
		ArchiveState: model.ArchiveNotEnabled,
	}

	fail := func(step string, err error) (model.OutcomeRecord, *model.SkippedRecord) {
		o.logger.Error("row failed",
			"target_upn", row.TargetUPN,
			"step", step,
			"error", err,
		)
		rec.Status = model.StatusFailed
		rec.ArchiveState = model.ArchiveNotApplicable
		sum.Failed++
		return rec, nil
	}

	// Exists-check, then create-or-skip.
	_, err := o.dir.FindUser(ctx, row.TargetUPN)
	switch {
	case err == nil:
		o.logger.Info("identity already exists, skipping creation", "target_upn", row.TargetUPN)
		sum.AlreadyExisting++
	case errors.Is(err, backend.ErrNotFound):
		if _, err := o.dir.CreateUser(ctx, createRequest(row)); err != nil {
			return fail("create", err)
		}
		o.logger.Info("identity created", "target_upn", row.TargetUPN)
		sum.Created++
	default:
		return fail("exists-check", err)
	}

	// Usage location is a precondition for licensing, set on every row.
	if err := o.dir.SetUsageLocation(ctx, row.TargetUPN, o.cfg.UsageLocation); err != nil {
		return fail("usage-location", err)
	}

	var skipped *model.SkippedRecord
	switch {
	case row.LicenseType.IsKnown():
		granted, skus := o.alloc.TryAllocate(row.LicenseType)
		if !granted {
			rec.LicenseOutcome = model.LicenseSkippedExhausted
			rec.Status = model.ExhaustedStatus(row.LicenseType)
			skipped = &model.SkippedRecord{
				TargetUPN: row.TargetUPN,
				Reason:    model.ExhaustedReason(row.LicenseType),
			}
			o.logger.Warn("license pool exhausted",
				"target_upn", row.TargetUPN,
				"license", row.LicenseType,
			)
			sum.Exhausted++
			break
		}
		if err := o.dir.AssignLicenses(ctx, row.TargetUPN, skus, nil); err != nil {
			return fail("assign-licenses", err)
		}
		rec.LicenseOutcome = model.LicenseAssigned
		rec.Status = model.AssignedStatus(row.LicenseType)
		o.logger.Info("licenses assigned",
			"target_upn", row.TargetUPN,
			"license", row.LicenseType,
			"skus", skus,
		)
		sum.Assigned++
	default:
		// Unknown tags never consult the allocator and never hit the backend.
		rec.LicenseOutcome = model.LicenseUnknownType
		rec.Status = model.UnknownTypeStatus(string(row.LicenseType))
		o.logger.Warn("unknown license type",
			"target_upn", row.TargetUPN,
			"license", row.LicenseType,
		)
		sum.UnknownType++
	}

	state, failedStep, err := o.decideArchive(ctx, row, rec.LicenseOutcome)
	if err != nil {
		return fail(failedStep, err)
	}
	rec.ArchiveState = state
	if state == model.ArchiveEnabled || state == model.ArchiveEnabledAutoExpanding {
		sum.ArchiveEnabled++
	}

	return rec, skipped
}

// decideArchive gates the archive steps: the operator must have requested
// archiving AND the license must actually have been assigned. Both skip
// flavors report ArchiveNotEnabled; the log carries the distinction.
func (o *Orchestrator) decideArchive(ctx context.Context, row model.UserRow, outcome model.LicenseOutcome) (model.ArchiveState, string, error) {
	if !row.ArchiveRequested {
		return model.ArchiveNotEnabled, "", nil
	}
	if outcome != model.LicenseAssigned {
		o.logger.Info("archive skipped",
			"target_upn", row.TargetUPN,
			"reason", "license not assigned",
		)
		return model.ArchiveNotEnabled, "", nil
	}

	// An already-present mailbox means the account predates this run;
	// archive handling is out of this tool's hands. Static check, not
	// re-polled.
	_, err := o.mbx.FindMailbox(ctx, row.TargetUPN)
	switch {
	case err == nil:
		o.logger.Info("archive skipped",
			"target_upn", row.TargetUPN,
			"reason", "mailbox already present",
		)
		return model.ArchiveNotEnabled, "", nil
	case errors.Is(err, backend.ErrNotFound):
		// Freshly created account: wait for mailbox provisioning.
	default:
		return model.ArchiveNotApplicable, "mailbox-check", err
	}

	state, err := o.poller.WaitAndEnable(ctx, row.TargetUPN)
	if err != nil {
		return model.ArchiveNotApplicable, "enable-archive", err
	}
	return state, "", nil
}

// createRequest maps an input row onto the backend's creation payload.
func createRequest(row model.UserRow) directory.CreateUserRequest {
	return directory.CreateUserRequest{
		AccountEnabled:    true,
		DisplayName:       row.DisplayName,
		UserPrincipalName: row.TargetUPN,
		MailNickname:      row.MailNickname(),
		JobTitle:          row.JobTitle,
		Department:        row.Department,
		PasswordProfile: directory.PasswordProfile{
			Password:                      row.Password,
			ForceChangePasswordNextSignIn: true,
		},
	}
}
