package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkprov/bulkprov/internal/license"
	"github.com/bulkprov/bulkprov/internal/model"
)

func newTestAllocator(e1, e3, teams int) *license.Allocator {
	return license.NewAllocator([]license.Pool{
		{PartNumber: license.PartNumberE1, SKUID: "sku-e1", Available: e1},
		{PartNumber: license.PartNumberE3, SKUID: "sku-e3", Available: e3},
		{PartNumber: license.PartNumberTeams, SKUID: "sku-teams", Available: teams},
	})
}

type fixture struct {
	dir   *fakeDirectory
	mbx   *fakeMailbox
	alloc *license.Allocator
	clock *fakeClock
	orch  *Orchestrator
}

func newFixture(alloc *license.Allocator) *fixture {
	clock := newFakeClock()
	dir := newFakeDirectory()
	mbx := newFakeMailbox(clock)
	logger := discardLogger()
	poller := NewPoller(mbx, clock, logger, 8*time.Minute, 30*time.Second, 2*time.Minute)
	orch := New(dir, mbx, alloc, poller, Settings{UsageLocation: "US"}, logger)
	return &fixture{dir: dir, mbx: mbx, alloc: alloc, clock: clock, orch: orch}
}

func row(upn string, lic model.LicenseType, archive bool) model.UserRow {
	return model.UserRow{
		SourceUPN:        "src-" + upn,
		TargetUPN:        upn,
		DisplayName:      "User " + upn,
		JobTitle:         "Engineer",
		Department:       "R&D",
		Password:         "Tmp!234",
		LicenseType:      lic,
		ArchiveRequested: archive,
	}
}

func TestRun_FreshCreateAssignAndArchive(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	// Mailbox provisioning completes 90s into the row's poll.
	fx.mbx.appearAt["jane@contoso.com"] = fx.clock.Now().Add(90 * time.Second)

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE3, true)})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	rec := result.Outcomes[0]
	assert.Equal(t, "jane@contoso.com", rec.TargetUPN)
	assert.Equal(t, "E3 + Teams assigned", rec.Status)
	assert.Equal(t, model.LicenseAssigned, rec.LicenseOutcome)
	assert.Equal(t, model.ArchiveEnabledAutoExpanding, rec.ArchiveState)

	require.Len(t, fx.dir.createCalls, 1)
	created := fx.dir.createCalls[0]
	assert.True(t, created.AccountEnabled)
	assert.Equal(t, "jane", created.MailNickname)
	assert.True(t, created.PasswordProfile.ForceChangePasswordNextSignIn)
	assert.Equal(t, "Tmp!234", created.PasswordProfile.Password)
	assert.Equal(t, "Engineer", created.JobTitle)
	assert.Equal(t, "R&D", created.Department)

	assert.Equal(t, []string{"jane@contoso.com"}, fx.dir.usageCalls)
	require.Len(t, fx.dir.assignCalls, 1)
	assert.Equal(t, []string{"sku-e3", "sku-teams"}, fx.dir.assignCalls[0].add)
	assert.Empty(t, fx.dir.assignCalls[0].remove)

	assert.Equal(t, 4, fx.alloc.Remaining(model.LicenseE3))
	assert.Equal(t, 4, fx.alloc.RemainingTeams())
	assert.Empty(t, result.Skipped)

	assert.Equal(t, 1, result.Summary.Created)
	assert.Equal(t, 1, result.Summary.Assigned)
	assert.Equal(t, 1, result.Summary.ArchiveEnabled)
}

func TestRun_ExistingIdentitySkipsCreationButLicenses(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	fx.dir.users["jane@contoso.com"] = userStub("jane@contoso.com")

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE1, false)})
	require.NoError(t, err)

	assert.Empty(t, fx.dir.createCalls, "existing identity must not trigger creation")
	assert.Equal(t, []string{"jane@contoso.com"}, fx.dir.usageCalls, "usage location still set")
	require.Len(t, fx.dir.assignCalls, 1, "license step still runs")
	assert.Equal(t, "E1 + Teams assigned", result.Outcomes[0].Status)
	assert.Equal(t, 1, result.Summary.AlreadyExisting)
	assert.Equal(t, 0, result.Summary.Created)
}

func TestRun_UnknownLicenseTypeBypassesAllocator(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(2, 2, 2))

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("x@contoso.com", "F3", true)})
	require.NoError(t, err)

	rec := result.Outcomes[0]
	assert.Equal(t, "Unknown license type: F3", rec.Status)
	assert.Equal(t, model.LicenseUnknownType, rec.LicenseOutcome)
	assert.Equal(t, model.ArchiveNotEnabled, rec.ArchiveState)

	assert.Empty(t, fx.dir.assignCalls, "no backend license call for unknown types")
	assert.Empty(t, result.Skipped, "unknown types never appear in the skipped report")
	assert.Equal(t, 2, fx.alloc.Remaining(model.LicenseE1))
	assert.Equal(t, 2, fx.alloc.Remaining(model.LicenseE3))
	assert.Equal(t, 2, fx.alloc.RemainingTeams())
	assert.Equal(t, 0, fx.mbx.findCalls, "archive never attempted despite being requested")
}

func TestRun_LicenseExhaustionScenario(t *testing.T) {
	t.Parallel()

	// E3 pool has 1 unit, Teams pool has 5; two E3 rows submitted.
	fx := newFixture(newTestAllocator(0, 1, 5))

	rows := []model.UserRow{
		row("first@contoso.com", model.LicenseE3, false),
		row("second@contoso.com", model.LicenseE3, true),
	}
	result, err := fx.orch.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	assert.Equal(t, "E3 + Teams assigned", result.Outcomes[0].Status)
	assert.Equal(t, "Skipped (E3 license exhausted)", result.Outcomes[1].Status)
	assert.Equal(t, model.LicenseSkippedExhausted, result.Outcomes[1].LicenseOutcome)
	assert.Equal(t, model.ArchiveNotEnabled, result.Outcomes[1].ArchiveState,
		"exhausted rows never reach archive logic even when requested")

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "second@contoso.com", result.Skipped[0].TargetUPN)
	assert.Equal(t, "No E3/Teams license left", result.Skipped[0].Reason)

	assert.Equal(t, 0, fx.alloc.Remaining(model.LicenseE3))
	assert.Equal(t, 4, fx.alloc.RemainingTeams(), "denied row leaves pools unchanged")
	assert.Len(t, fx.dir.assignCalls, 1)
	assert.Equal(t, 0, fx.mbx.findCalls)
}

func TestRun_ArchiveNotRequestedStaysNotEnabled(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("a@contoso.com", model.LicenseE3, false)})
	require.NoError(t, err)

	assert.Equal(t, model.ArchiveNotEnabled, result.Outcomes[0].ArchiveState)
	assert.Equal(t, 0, fx.mbx.findCalls)
}

func TestRun_ExistingMailboxSkipsArchiveSteps(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	fx.dir.users["jane@contoso.com"] = userStub("jane@contoso.com")
	fx.mbx.existing["jane@contoso.com"] = true

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE3, true)})
	require.NoError(t, err)

	rec := result.Outcomes[0]
	assert.Equal(t, "E3 + Teams assigned", rec.Status)
	assert.Equal(t, model.ArchiveNotEnabled, rec.ArchiveState)
	assert.Empty(t, fx.mbx.enableCalls)
	assert.Empty(t, fx.mbx.autoCalls)
	assert.Equal(t, 1, fx.mbx.findCalls, "static check only, no polling")
}

func TestRun_MailboxNeverAppears(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	// Freshly created identity, mailbox never provisioned.

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE3, true)})
	require.NoError(t, err)

	rec := result.Outcomes[0]
	assert.Equal(t, model.ArchiveNotFoundAfterTimeout, rec.ArchiveState)
	assert.Equal(t, "E3 + Teams assigned", rec.Status, "license status unaffected by the timeout")
	assert.Empty(t, fx.mbx.enableCalls)
}

func TestRun_RowFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	fx.dir.createErr = errors.New("duplicate proxy address")

	rows := []model.UserRow{
		row("bad@contoso.com", model.LicenseE3, true),
		row("good@contoso.com", model.LicenseE1, false),
	}

	// The second row exists already, so it dodges the forced create error.
	fx.dir.users["good@contoso.com"] = userStub("good@contoso.com")

	result, err := fx.orch.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	failed := result.Outcomes[0]
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, model.ArchiveNotApplicable, failed.ArchiveState)
	assert.Equal(t, model.LicenseNotAttempted, failed.LicenseOutcome)

	assert.Equal(t, "E1 + Teams assigned", result.Outcomes[1].Status)
	assert.Equal(t, 1, result.Summary.Failed)
	assert.Empty(t, result.Skipped, "failures never produce skipped records")
}

func TestRun_AssignmentFailureFailsRow(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	fx.dir.assignErr = errors.New("license assignment rejected")

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE3, true)})
	require.NoError(t, err)

	rec := result.Outcomes[0]
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, model.ArchiveNotApplicable, rec.ArchiveState)
	assert.Equal(t, 0, fx.mbx.findCalls, "failed rows never reach archive logic")
}

func TestRun_ArchiveEnableFailureFailsRow(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	fx.mbx.appearAt["jane@contoso.com"] = fx.clock.Now()
	fx.mbx.enableErr = errors.New("archive enablement rejected")

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE3, true)})
	require.NoError(t, err)

	rec := result.Outcomes[0]
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, model.ArchiveNotApplicable, rec.ArchiveState)
}

func TestRun_AutoExpansionFailureLeavesEnabled(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	fx.mbx.appearAt["jane@contoso.com"] = fx.clock.Now()
	fx.mbx.autoErr = errors.New("auto-expansion unavailable")

	result, err := fx.orch.Run(context.Background(), []model.UserRow{row("jane@contoso.com", model.LicenseE3, true)})
	require.NoError(t, err)

	rec := result.Outcomes[0]
	assert.Equal(t, "E3 + Teams assigned", rec.Status)
	assert.Equal(t, model.ArchiveEnabled, rec.ArchiveState)
}

func TestRun_OneOutcomePerRowInEncounterOrder(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))

	rows := []model.UserRow{
		row("a@contoso.com", model.LicenseE1, false),
		row("b@contoso.com", "F3", false),
		row("c@contoso.com", model.LicenseE3, false),
	}
	result, err := fx.orch.Run(context.Background(), rows)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, len(rows))
	for i, rec := range result.Outcomes {
		assert.Equal(t, rows[i].TargetUPN, rec.TargetUPN)
	}
	assert.Equal(t, 3, result.Summary.Processed)
}

func TestRun_RerunCreatesNothing(t *testing.T) {
	t.Parallel()

	rows := []model.UserRow{
		row("a@contoso.com", model.LicenseE1, false),
		row("b@contoso.com", model.LicenseE3, false),
	}

	fx := newFixture(newTestAllocator(5, 5, 5))
	_, err := fx.orch.Run(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, fx.dir.createCalls, 2)

	// Second run against the same backend state: every exists-check
	// short-circuits creation; assignments repeat but are no-ops for
	// accounts that already hold the SKUs.
	clock := newFakeClock()
	mbx := newFakeMailbox(clock)
	logger := discardLogger()
	poller := NewPoller(mbx, clock, logger, 8*time.Minute, 30*time.Second, 2*time.Minute)
	orch2 := New(fx.dir, mbx, newTestAllocator(5, 5, 5), poller, Settings{UsageLocation: "US"}, logger)

	fx.dir.createCalls = nil
	result, err := orch2.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Empty(t, fx.dir.createCalls, "second run must create nothing")
	assert.Equal(t, 2, result.Summary.AlreadyExisting)
	assert.Equal(t, 0, result.Summary.Created)
}

func TestRun_ContextCancellationStopsLoop(t *testing.T) {
	t.Parallel()

	fx := newFixture(newTestAllocator(5, 5, 5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.orch.Run(ctx, []model.UserRow{row("a@contoso.com", model.LicenseE1, false)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Outcomes)
}
