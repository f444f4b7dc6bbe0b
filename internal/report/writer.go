// Package report emits the end-of-run CSV outputs.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/bulkprov/bulkprov/internal/model"
)

// Main report columns, in output order.
var mainHeader = []string{"Target_UPN", "DisplayName", "LicenseType", "Status", "Archive"}

// Skipped report columns.
var skippedHeader = []string{"Target_UPN", "Reason"}

// WriteMain writes the per-row outcome report to path, one row per
// processed input row in encounter order.
func WriteMain(path string, outcomes []model.OutcomeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := writeMain(f, outcomes); err != nil {
		return err
	}
	return f.Close()
}

func writeMain(w io.Writer, outcomes []model.OutcomeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(mainHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, rec := range outcomes {
		row := []string{
			rec.TargetUPN,
			rec.DisplayName,
			string(rec.LicenseType),
			rec.Status,
			string(rec.ArchiveState),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write report row for %s: %w", rec.TargetUPN, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSkipped writes the license-exhaustion report to path. Nothing is
// written (and no file is created) when there are no skipped rows.
func WriteSkipped(path string, skipped []model.SkippedRecord) error {
	if len(skipped) == 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create skipped report file: %w", err)
	}
	defer f.Close()

	if err := writeSkipped(f, skipped); err != nil {
		return err
	}
	return f.Close()
}

func writeSkipped(w io.Writer, skipped []model.SkippedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(skippedHeader); err != nil {
		return fmt.Errorf("write skipped header: %w", err)
	}
	for _, rec := range skipped {
		if err := cw.Write([]string{rec.TargetUPN, rec.Reason}); err != nil {
			return fmt.Errorf("write skipped row for %s: %w", rec.TargetUPN, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
