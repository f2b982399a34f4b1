package ocp

import (
	"fmt"
	"regexp"
	"strings"
)

const statusColumn = "STATUS"

// accessModeTokens are data values that are legitimately all-uppercase and
// must not be mistaken for a header row.
var accessModeTokens = map[string]struct{}{
	"RWO": {},
	"RWX": {},
	"ROX": {},
}

var columnSplit = regexp.MustCompile(`\s{2,}`)

// statusFromTable parses the fixed-width tabular summary the CLI prints for a
// single resource and returns the cell under the STATUS header.
func statusFromTable(out string) (string, error) {
	lines := []string{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return "", fmt.Errorf("tabular output has no data row: %q", out)
	}

	headerIdx := -1
	statusIdx := -1
	for i, line := range lines {
		fields := splitColumns(line)
		if !isHeaderRow(fields) {
			continue
		}
		for j, f := range fields {
			if f == statusColumn {
				headerIdx = i
				statusIdx = j
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 || headerIdx+1 >= len(lines) {
		return "", fmt.Errorf("no %s column found in output: %q", statusColumn, out)
	}

	data := splitColumns(lines[headerIdx+1])
	if statusIdx >= len(data) {
		return "", fmt.Errorf("data row has no value under %s: %q", statusColumn, lines[headerIdx+1])
	}
	return strings.TrimSpace(data[statusIdx]), nil
}

// splitColumns collapses runs of two or more spaces into one delimiter, so
// multi-word headers such as "ACCESS MODES" survive as one field. Rows with
// only single spacing fall back to plain whitespace splitting.
func splitColumns(line string) []string {
	fields := []string{}
	for _, f := range columnSplit.Split(strings.TrimSpace(line), -1) {
		if f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) < 2 {
		fields = strings.Fields(line)
	}
	return fields
}

// isHeaderRow reports whether every field is an uppercase header marker.
// Whitelisted access-mode data tokens do not count as markers, so a data row
// containing only RWO/RWX/ROX style values is never taken for a header.
func isHeaderRow(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	marker := false
	for _, f := range fields {
		if _, ok := accessModeTokens[f]; ok {
			continue
		}
		if f != strings.ToUpper(f) {
			return false
		}
		marker = true
	}
	return marker
}
