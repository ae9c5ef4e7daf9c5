// Package ledger cross-checks the three records of migration history: the
// migration folders on disk, the database's applied-migration ledger and the
// application's tracking table.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"schemasync/internal/ddl"
	"schemasync/internal/events"
	"schemasync/internal/migration"
)

type Kind string

const (
	// MissingFiles: the ledger applied a migration that has no folder.
	MissingFiles Kind = "missing_files"
	// Unapplied: a folder the ledger has not applied.
	Unapplied Kind = "unapplied"
	// ChecksumMismatch: the folder's body differs from what was applied.
	ChecksumMismatch Kind = "checksum_mismatch"
	// Failed: a ledger row that started and never finished.
	Failed Kind = "failed"
	// Untracked: applied in the ledger, unknown to the tracking table.
	Untracked Kind = "untracked"
	// StatusMismatch: tracking and ledger disagree on whether it is applied.
	StatusMismatch Kind = "status_mismatch"
)

var kindOrder = map[Kind]int{
	ChecksumMismatch: 0,
	MissingFiles:     1,
	Failed:           2,
	StatusMismatch:   3,
	Untracked:        4,
	Unapplied:        5,
}

type Issue struct {
	Kind        Kind   `json:"kind"`
	MigrationID string `json:"migration_id"`
	Message     string `json:"message"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual,omitempty"`
}

type Result struct {
	Issues  []Issue      `json:"issues"`
	Counts  map[Kind]int `json:"counts"`
	Files   int          `json:"files"`
	Applied int          `json:"applied"`
	Tracked int          `json:"tracked"`
}

// Consistent reports whether no issue was found.
func (r Result) Consistent() bool { return len(r.Issues) == 0 }

// Of returns the issues of one kind.
func (r Result) Of(kind Kind) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// Describe renders the result for terminals.
func (r Result) Describe() string {
	if r.Consistent() {
		return fmt.Sprintf("migration history consistent (%d folder(s), %d applied)", r.Files, r.Applied)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d issue(s) in migration history\n", len(r.Issues))
	for _, is := range r.Issues {
		fmt.Fprintf(&b, "  [%s] %s: %s\n", is.Kind, is.MigrationID, is.Message)
	}
	return b.String()
}

type Reconciler struct {
	sink events.Sink
}

func NewReconciler(sink events.Sink) *Reconciler {
	if sink == nil {
		sink = events.Nop
	}
	return &Reconciler{sink: sink}
}

// Reconcile reports every disagreement between files, ledger rows and
// tracking rows. A nil tracked slice skips the tracking checks. Issues are
// reported, never resolved.
func (r *Reconciler) Reconcile(ctx context.Context, files []migration.File, rows []migration.Record, tracked []migration.Migration) Result {
	span := events.Start(r.sink, events.CategoryReconcile, "ledger_reconciler", "reconcile")
	res := reconcile(files, rows, tracked)

	details := map[string]any{
		"files":   res.Files,
		"applied": res.Applied,
		"issues":  len(res.Issues),
	}
	for k, n := range res.Counts {
		details[string(k)] = n
	}
	span.End(ctx, nil, fmt.Sprintf("reconciled migration history: %d issue(s)", len(res.Issues)), details)
	return res
}

func reconcile(files []migration.File, rows []migration.Record, tracked []migration.Migration) Result {
	res := Result{Counts: map[Kind]int{}, Files: len(files), Tracked: len(tracked)}
	add := func(is Issue) {
		res.Issues = append(res.Issues, is)
		res.Counts[is.Kind]++
	}

	byFile := make(map[string]migration.File, len(files))
	for _, f := range files {
		byFile[f.ID] = f
	}
	latest := Latest(rows)

	for _, name := range sortedKeys(latest) {
		row := latest[name]
		f, onDisk := byFile[name]
		switch {
		case row.Failed():
			add(Issue{Kind: Failed, MigrationID: name,
				Message: fmt.Sprintf("started %s and never finished after %d step(s)", row.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), row.AppliedStepsCount)})
		case row.Applied():
			res.Applied++
			if !onDisk {
				add(Issue{Kind: MissingFiles, MigrationID: name, Message: "applied in the ledger but no migration folder exists", Expected: row.Checksum})
			} else if f.Checksum != row.Checksum {
				add(Issue{Kind: ChecksumMismatch, MigrationID: name, Message: "migration.sql differs from the applied body", Expected: row.Checksum, Actual: f.Checksum})
			}
		}
	}

	for _, f := range files {
		row, ok := latest[f.ID]
		if ok && (row.Applied() || row.Failed()) {
			continue
		}
		msg := "not applied"
		if ok {
			msg = "rolled back and not re-applied"
		}
		add(Issue{Kind: Unapplied, MigrationID: f.ID, Message: msg, Actual: f.Checksum})
	}

	if tracked != nil {
		byTracked := make(map[string]migration.Migration, len(tracked))
		for _, m := range tracked {
			byTracked[m.ID] = m
		}
		for _, name := range sortedKeys(latest) {
			row := latest[name]
			m, ok := byTracked[name]
			switch {
			case row.Applied() && !ok:
				add(Issue{Kind: Untracked, MigrationID: name, Message: "applied in the ledger but unknown to the tracking table"})
			case ok && row.Applied() && m.Status != migration.StatusCompleted:
				add(Issue{Kind: StatusMismatch, MigrationID: name, Message: "ledger shows applied, tracking shows " + string(m.Status),
					Expected: string(migration.StatusCompleted), Actual: string(m.Status)})
			}
		}
		for _, m := range tracked {
			if m.Status != migration.StatusCompleted {
				continue
			}
			if row, ok := latest[m.ID]; !ok || !row.Applied() {
				add(Issue{Kind: StatusMismatch, MigrationID: m.ID, Message: "tracking shows completed, ledger has no applied row",
					Expected: string(migration.StatusCompleted), Actual: "not applied"})
			}
		}
	}

	sort.SliceStable(res.Issues, func(i, j int) bool {
		a, b := res.Issues[i], res.Issues[j]
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		return a.MigrationID < b.MigrationID
	})
	return res
}

// Latest keeps the most recently started ledger row per migration name.
func Latest(rows []migration.Record) map[string]migration.Record {
	out := make(map[string]migration.Record, len(rows))
	for _, row := range rows {
		cur, ok := out[row.MigrationName]
		if !ok || !row.StartedAt.Before(cur.StartedAt) {
			out[row.MigrationName] = row
		}
	}
	return out
}

// TrackedTables lists the tables created by files, in order, and not dropped
// by a later file. It is the migration history drift detection compares the
// catalog against.
func TrackedTables(files []migration.File) []string {
	bodies := make([]string, len(files))
	for i, f := range files {
		bodies[i] = f.SQL
	}
	tables := ddl.CreatedTables(strings.Join(bodies, ";\n"))
	if tables == nil {
		tables = []string{}
	}
	return tables
}

func sortedKeys(m map[string]migration.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
