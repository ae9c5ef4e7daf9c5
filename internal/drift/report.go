package drift

import (
	"fmt"
	"strings"
	"time"
)

// Report is the immutable result of one detection pass.
type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Drifts          []Drift          `json:"drifts"`
	Summary         Summary          `json:"summary"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Fixable returns the drifts that carry a database fix, in report order.
func (r *Report) Fixable() []Drift {
	var out []Drift
	for _, d := range r.Drifts {
		if d.Fixable {
			out = append(out, d)
		}
	}
	return out
}

// AtLeast reports whether any drift is at or above sev.
func (r *Report) AtLeast(sev Severity) bool {
	for _, d := range r.Drifts {
		if d.Severity.Rank() >= sev.Rank() {
			return true
		}
	}
	return false
}

func (r *Report) Find(id string) (Drift, bool) {
	for _, d := range r.Drifts {
		if d.ID == id {
			return d, true
		}
	}
	return Drift{}, false
}

// Describe returns a human-readable summary of the report.
func (r *Report) Describe() string {
	if len(r.Drifts) == 0 {
		return "schema and database match"
	}
	var lines []string
	lines = append(lines, fmt.Sprintf("%d drift(s): %d fixable, %d need schema changes",
		r.Summary.Total, r.Summary.Fixable, r.Summary.Unfixable))
	for _, d := range r.Drifts {
		lines = append(lines, fmt.Sprintf("[%s] %s %s: %s", strings.ToUpper(string(d.Severity)), d.Type, d.Object, d.Description))
		switch {
		case d.FixSQL != "":
			for _, stmt := range strings.Split(d.FixSQL, "\n") {
				lines = append(lines, "    "+stmt)
			}
		case d.DeclarativeFix != "":
			lines = append(lines, "    schema: "+d.DeclarativeFix)
		}
	}
	if len(r.Recommendations) > 0 {
		lines = append(lines, "", "Recommendations:")
		for _, rec := range r.Recommendations {
			lines = append(lines, fmt.Sprintf("  %s: %s", rec.Severity, rec.Action))
		}
	}
	return strings.Join(lines, "\n")
}
