package fleet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/fleethold/pkg/errors"
)

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// ParseModelYear returns the model year when s is exactly four digits.
func ParseModelYear(s string) *int {
	s = strings.TrimSpace(s)
	// spreadsheet and CSV exports render integral years as floats
	s = strings.TrimSuffix(s, ".0")
	if !yearPattern.MatchString(s) {
		return nil
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &year
}

// ParseSpecs decodes a model specification list such as
// "[{'name': 'Year', 'value': '2022'}]". Both JSON and the single-quoted
// flow style exported by the fleet tooling are accepted.
func ParseSpecs(raw string) ([]ModelSpec, error) {
	entries, err := parseFlowList(raw)
	if err != nil {
		return nil, &errors.ParseError{Format: "specs", Value: raw, Message: err.Error(), Err: err}
	}
	specs := make([]ModelSpec, 0, len(entries))
	for _, e := range entries {
		name, ok := e["name"]
		if !ok {
			continue
		}
		specs = append(specs, ModelSpec{Name: scalar(name), Value: scalar(e["value"])})
	}
	return specs, nil
}

// ParsePayload decodes a stored reservation list such as
// "[{'FromDateTime': '10/01/2024 10:00:00 AM', 'ToDateTime': '...'}]".
// An empty payload means no reservations. A malformed payload returns a
// ParseError with Format "payload", callers treat it as no reservations.
func ParsePayload(raw string) ([]RawReservation, error) {
	entries, err := parseFlowList(raw)
	if err != nil {
		return nil, &errors.ParseError{Format: "payload", Value: raw, Message: err.Error(), Err: err}
	}
	out := make([]RawReservation, 0, len(entries))
	for _, e := range entries {
		out = append(out, RawReservation{From: scalar(e["FromDateTime"]), To: scalar(e["ToDateTime"])})
	}
	return out, nil
}

// FormatPayload renders reservations in the form ParsePayload reads.
func FormatPayload(reservations []RawReservation) string {
	items := make([]string, len(reservations))
	for i, r := range reservations {
		items[i] = flowMap("FromDateTime", r.From, "ToDateTime", r.To)
	}
	return flowList(items)
}

// FormatSpecs renders specs in the form ParseSpecs reads.
func FormatSpecs(specs []ModelSpec) string {
	items := make([]string, len(specs))
	for i, s := range specs {
		items[i] = flowMap("name", s.Name, "value", s.Value)
	}
	return flowList(items)
}

func flowMap(kv ...string) string {
	pairs := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, strconv.Quote(kv[i])+": "+strconv.Quote(kv[i+1]))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

func flowList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func parseFlowList(raw string) ([]map[string]any, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "", "[]", "nan", "None", "null":
		return nil, nil
	}
	var entries []map[string]any
	if err := yaml.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
