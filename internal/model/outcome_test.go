package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusRendering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "E3 + Teams assigned", AssignedStatus(LicenseE3))
	assert.Equal(t, "E1 + Teams assigned", AssignedStatus(LicenseE1))
	assert.Equal(t, "Skipped (E3 license exhausted)", ExhaustedStatus(LicenseE3))
	assert.Equal(t, "No E3/Teams license left", ExhaustedReason(LicenseE3))
	assert.Equal(t, "Unknown license type: F3", UnknownTypeStatus("F3"))
}

func TestLicenseTypeIsKnown(t *testing.T) {
	t.Parallel()

	assert.True(t, LicenseE1.IsKnown())
	assert.True(t, LicenseE3.IsKnown())
	assert.False(t, LicenseType("F3").IsKnown())
	assert.False(t, LicenseType("e3").IsKnown(), "tags are case-sensitive")
	assert.False(t, LicenseType("").IsKnown())
}

func TestMailNickname(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jane.doe", UserRow{TargetUPN: "jane.doe@contoso.com"}.MailNickname())
	assert.Equal(t, "nodomain", UserRow{TargetUPN: "nodomain"}.MailNickname())
}
