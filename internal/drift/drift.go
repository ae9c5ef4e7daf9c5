// Package drift compares a declared schema against the live catalog and
// classifies every discrepancy.
package drift

import (
	"fmt"
	"sort"
	"strings"

	"schemasync/internal/schema"
)

type Type string

const (
	MissingTable        Type = "missing_table"
	MissingColumn       Type = "missing_column"
	TypeMismatch        Type = "type_mismatch"
	NullabilityMismatch Type = "nullability_mismatch"
	ExtraColumn         Type = "extra_column"
	MissingEnum         Type = "missing_enum"
	EnumMismatch        Type = "enum_mismatch"
	MissingIndex        Type = "missing_index"
	MissingForeignKey   Type = "missing_foreign_key"
	PrimaryKeyMismatch  Type = "primary_key_mismatch"
	ManualChange        Type = "manual_change"
)

type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

// Severities lists severities from most to least severe.
var Severities = []Severity{Critical, High, Medium, Low}

// Rank orders severities; higher is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	}
	return 0
}

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Drift is one discrepancy. Fix is set iff Fixable; DeclarativeFix is set iff
// the repair belongs in the schema document instead.
type Drift struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	Severity       Severity        `json:"severity"`
	Object         string          `json:"object"`
	Expected       any             `json:"expected,omitempty"`
	Actual         any             `json:"actual,omitempty"`
	Fixable        bool            `json:"fixable"`
	Fix            []schema.Change `json:"-"`
	FixSQL         string          `json:"fix_sql,omitempty"`
	DeclarativeFix string          `json:"declarative_fix,omitempty"`
	Description    string          `json:"description"`
}

type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByType     map[Type]int     `json:"by_type"`
	Fixable    int              `json:"fixable"`
	Unfixable  int              `json:"unfixable"`
}

// Summarize counts drifts by severity, type and fixability.
func Summarize(drifts []Drift) Summary {
	s := Summary{
		Total:      len(drifts),
		BySeverity: map[Severity]int{},
		ByType:     map[Type]int{},
	}
	for _, d := range drifts {
		s.BySeverity[d.Severity]++
		s.ByType[d.Type]++
		if d.Fixable {
			s.Fixable++
		} else {
			s.Unfixable++
		}
	}
	return s
}

type Recommendation struct {
	Severity Severity `json:"severity"`
	Action   string   `json:"action"`
	DriftIDs []string `json:"drift_ids"`
}

// Recommend emits one recommendation per severity present, most severe first.
func Recommend(drifts []Drift) []Recommendation {
	var out []Recommendation
	for _, sev := range Severities {
		var ids []string
		fixable, declarative := 0, 0
		types := map[Type]bool{}
		for _, d := range drifts {
			if d.Severity != sev {
				continue
			}
			ids = append(ids, d.ID)
			types[d.Type] = true
			if d.Fixable {
				fixable++
			} else {
				declarative++
			}
		}
		if len(ids) == 0 {
			continue
		}
		out = append(out, Recommendation{
			Severity: sev,
			Action:   action(sev, fixable, declarative, types),
			DriftIDs: ids,
		})
	}
	return out
}

func action(sev Severity, fixable, declarative int, types map[Type]bool) string {
	var parts []string
	switch sev {
	case Critical:
		parts = append(parts, "the database is missing declared tables; block deploys until fixed")
	case High:
		parts = append(parts, "columns or history disagree with the schema; fix before the next release")
	case Medium:
		parts = append(parts, "constraints, enums or nullability differ; schedule a fix")
	case Low:
		parts = append(parts, "the database has objects the schema does not declare; review them")
	}
	if fixable > 0 {
		step := fmt.Sprintf("generate and apply a migration for %d fixable drift(s)", fixable)
		if types[ManualChange] {
			step += ", recording manual tables as baseline migrations"
		}
		parts = append(parts, step)
	}
	if declarative > 0 {
		parts = append(parts, fmt.Sprintf("update the schema document for %d drift(s)", declarative))
	}
	return strings.Join(parts, "; ")
}

// SortBySeverity orders drifts most severe first, keeping detection order
// within a severity.
func SortBySeverity(drifts []Drift) {
	sort.SliceStable(drifts, func(i, j int) bool {
		return drifts[i].Severity.Rank() > drifts[j].Severity.Rank()
	})
}
