// Package input loads and validates the tabular provisioning input.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bulkprov/bulkprov/internal/model"
)

// Column headers of the input file, matched case-insensitively after
// trimming and normalizing separators.
const (
	columnSourceUPN   = "source users upn"
	columnTargetUPN   = "target_upn"
	columnDisplayName = "display name"
	columnJobTitle    = "job title"
	columnDepartment  = "department"
	columnPassword    = "password"
	columnLicense     = "license"
	columnArchive     = "archive"
)

// Loader reads a CSV source into validated user rows.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a loader that reports dropped rows on the given logger.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger.With("component", "input.loader")}
}

// LoadFile reads and validates the CSV file at path.
func (l *Loader) LoadFile(path string) ([]model.UserRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()
	return l.Load(f)
}

// Load parses rows from r. Rows with a blank or sentinel value in any
// required field are dropped without appearing in any report; the drop is
// only logged. Malformed CSV lines are likewise skipped.
func (l *Loader) Load(r io.Reader) ([]model.UserRow, error) {
	reader := csv.NewReader(decodeReader(r))
	// Real-world exports have ragged rows and loose quoting.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty input: no header row")
		}
		return nil, fmt.Errorf("read header row: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[normalizeHeader(h)] = i
	}
	for _, required := range []string{columnSourceUPN, columnTargetUPN, columnDisplayName, columnPassword, columnLicense} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("input missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []model.UserRow
	lineNum := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNum++
		if err != nil {
			l.logger.Warn("skipping malformed line", "line", lineNum, "error", err)
			continue
		}

		row := model.UserRow{
			SourceUPN:        field(record, columnSourceUPN),
			TargetUPN:        field(record, columnTargetUPN),
			DisplayName:      field(record, columnDisplayName),
			JobTitle:         field(record, columnJobTitle),
			Department:       field(record, columnDepartment),
			Password:         field(record, columnPassword),
			LicenseType:      model.LicenseType(field(record, columnLicense)),
			ArchiveRequested: parseArchiveFlag(field(record, columnArchive)),
		}

		if reason, ok := invalidReason(row); ok {
			l.logger.Debug("dropping invalid row",
				"line", lineNum,
				"target_upn", row.TargetUPN,
				"reason", reason,
			)
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// invalidReason reports why a row fails validation, if it does.
func invalidReason(row model.UserRow) (string, bool) {
	checks := []struct {
		name  string
		value string
	}{
		{"source UPN", row.SourceUPN},
		{"target UPN", row.TargetUPN},
		{"display name", row.DisplayName},
		{"password", row.Password},
		{"license", string(row.LicenseType)},
	}
	for _, c := range checks {
		if isUnavailable(c.value) {
			return c.name + " unavailable", true
		}
	}
	return "", false
}

// isUnavailable reports blank fields and "not available" sentinels.
func isUnavailable(v string) bool {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", "N/A", "#N/A":
		return true
	}
	return false
}

// parseArchiveFlag accepts the usual spreadsheet spellings of "yes".
func parseArchiveFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

// normalizeHeader lowercases a header and collapses whitespace so minor
// formatting differences in exports do not break column matching.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	return strings.Join(strings.Fields(h), " ")
}
