// Package model defines domain entities for the application.
package model

// LicenseType is the license tag carried by an input row. Values outside
// the known constants are preserved verbatim so the report can surface
// the literal unrecognized tag.
type LicenseType string

const (
	LicenseE1 LicenseType = "E1"
	LicenseE3 LicenseType = "E3"
)

// IsKnown reports whether the license type participates in pool allocation.
func (t LicenseType) IsKnown() bool {
	return t == LicenseE1 || t == LicenseE3
}

// UserRow is one validated input record. Rows are immutable once loaded;
// invalid rows are filtered by the input loader and never appear here.
type UserRow struct {
	SourceUPN        string
	TargetUPN        string
	DisplayName      string
	JobTitle         string
	Department       string
	Password         string
	LicenseType      LicenseType
	ArchiveRequested bool
}

// MailNickname derives the mail alias from the local part of the target UPN.
func (r UserRow) MailNickname() string {
	for i := 0; i < len(r.TargetUPN); i++ {
		if r.TargetUPN[i] == '@' {
			return r.TargetUPN[:i]
		}
	}
	return r.TargetUPN
}
