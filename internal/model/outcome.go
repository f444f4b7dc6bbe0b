package model

import "fmt"

// LicenseOutcome is the tri-state result of the license decision step.
// The archive decision consults this directly instead of matching on the
// human-readable status string.
type LicenseOutcome int

const (
	// LicenseNotAttempted marks rows that failed before the license step.
	LicenseNotAttempted LicenseOutcome = iota
	LicenseAssigned
	LicenseSkippedExhausted
	LicenseUnknownType
)

// ArchiveState is the archive column of the main report.
type ArchiveState string

const (
	ArchiveNotEnabled           ArchiveState = "NotEnabled"
	ArchiveEnabled              ArchiveState = "Enabled"
	ArchiveEnabledAutoExpanding ArchiveState = "EnabledAutoExpanding"
	ArchiveNotFoundAfterTimeout ArchiveState = "NotFoundAfterTimeout"
	// ArchiveNotApplicable is reported for rows that failed mid-processing.
	ArchiveNotApplicable ArchiveState = "N/A"
)

// StatusFailed is the report status for rows that hit an unexpected error.
const StatusFailed = "Failed"

// AssignedStatus renders the report status for a granted license.
func AssignedStatus(t LicenseType) string {
	return fmt.Sprintf("%s + Teams assigned", t)
}

// ExhaustedStatus renders the report status for a denied allocation.
func ExhaustedStatus(t LicenseType) string {
	return fmt.Sprintf("Skipped (%s license exhausted)", t)
}

// UnknownTypeStatus renders the report status carrying the literal
// unrecognized license tag.
func UnknownTypeStatus(raw string) string {
	return fmt.Sprintf("Unknown license type: %s", raw)
}

// ExhaustedReason renders the skipped-report reason for a denied allocation.
func ExhaustedReason(t LicenseType) string {
	return fmt.Sprintf("No %s/Teams license left", t)
}

// OutcomeRecord is the per-row result captured in the main report.
// Appended exactly once per processed row, never mutated afterwards.
type OutcomeRecord struct {
	TargetUPN      string
	DisplayName    string
	LicenseType    LicenseType
	Status         string
	LicenseOutcome LicenseOutcome
	ArchiveState   ArchiveState
}

// SkippedRecord is appended only when the allocator denies a request.
type SkippedRecord struct {
	TargetUPN string
	Reason    string
}
