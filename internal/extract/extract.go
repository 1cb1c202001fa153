// Package extract pulls named fields out of device command output using
// inventory-defined rules, turning free-form CLI output into a per-device
// table (software version, uptime, serial numbers and the like).
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mindwolf80/nice/internal/inventory"
	"github.com/mindwolf80/nice/internal/runner"
)

// FieldValue holds a single extracted field name and its value.
type FieldValue struct {
	Field string
	Value string
}

// DeviceFields holds the extraction results for a single device.
type DeviceFields struct {
	Host   string
	Fields []FieldValue
}

// rule is a compiled extract rule.
type rule struct {
	field  string
	re     *regexp.Regexp // nil in column mode
	column int            // 0 in regex mode, 1-based when set
}

// Extractor applies a compiled rule set to device output.
type Extractor struct {
	rules []rule
}

// New compiles inventory extract rules.
func New(rules []inventory.ExtractRule) (*Extractor, error) {
	compiled := make([]rule, 0, len(rules))
	for _, r := range rules {
		cr := rule{field: r.Field}
		switch {
		case r.Pattern != "":
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regex for field %q: %w", r.Field, err)
			}
			cr.re = re
		case r.Column > 0:
			cr.column = r.Column
		default:
			return nil, fmt.Errorf("rule for field %q must have pattern or column", r.Field)
		}
		compiled = append(compiled, cr)
	}
	return &Extractor{rules: compiled}, nil
}

// missing marks a field the rules could not find in the output.
const missing = "-"

// Parse extracts fields from one device's output. A rule that matches
// nothing yields "-" so table columns stay aligned.
func (e *Extractor) Parse(host, output string) *DeviceFields {
	df := &DeviceFields{Host: host, Fields: make([]FieldValue, 0, len(e.rules))}
	for _, r := range e.rules {
		value := missing
		if r.re != nil {
			if m := r.re.FindStringSubmatch(output); len(m) >= 2 {
				value = m[1]
			}
		} else if r.column > 0 {
			value = extractColumn(output, r.column)
		}
		df.Fields = append(df.Fields, FieldValue{Field: r.field, Value: value})
	}
	return df
}

// FromResults extracts fields per device from a run's results. Each
// device's successful outputs are concatenated in arrival order before the
// rules apply; devices with no successful output are skipped. Device order
// follows first appearance in the stream.
func (e *Extractor) FromResults(results []runner.Result) []*DeviceFields {
	combined := make(map[string]*strings.Builder)
	var order []string

	for _, r := range results {
		if r.Status != runner.Success {
			continue
		}
		b, ok := combined[r.Host]
		if !ok {
			b = &strings.Builder{}
			combined[r.Host] = b
			order = append(order, r.Host)
		}
		b.WriteString(r.Output)
		b.WriteString("\n")
	}

	out := make([]*DeviceFields, 0, len(order))
	for _, host := range order {
		out = append(out, e.Parse(host, combined[host].String()))
	}
	return out
}

// extractColumn splits the output into lines, skips the first line as a
// header, and returns the given 1-based whitespace column of the first
// non-empty data line.
func extractColumn(text string, col int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if col <= len(fields) {
			return fields[col-1]
		}
		return missing
	}
	return missing
}

// FormatTable renders the extracted fields as an aligned ASCII table.
func FormatTable(parsed []*DeviceFields) string {
	if len(parsed) == 0 {
		return ""
	}

	headers := []string{"DEVICE"}
	for _, fv := range parsed[0].Fields {
		headers = append(headers, strings.ToUpper(fv.Field))
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, df := range parsed {
		if len(df.Host) > widths[0] {
			widths[0] = len(df.Host)
		}
		for i, fv := range df.Fields {
			if len(fv.Value) > widths[i+1] {
				widths[i+1] = len(fv.Value)
			}
		}
	}

	formatRow := func(values []string) string {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("%-*s", widths[i], v)
		}
		return strings.Join(parts, "  ")
	}

	var sb strings.Builder
	sb.WriteString(formatRow(headers))
	sb.WriteString("\n")

	dashes := make([]string, len(widths))
	for i, w := range widths {
		dashes[i] = strings.Repeat("-", w)
	}
	sb.WriteString(strings.Join(dashes, "  "))
	sb.WriteString("\n")

	for _, df := range parsed {
		values := []string{df.Host}
		for _, fv := range df.Fields {
			values = append(values, fv.Value)
		}
		sb.WriteString(formatRow(values))
		sb.WriteString("\n")
	}

	return sb.String()
}
