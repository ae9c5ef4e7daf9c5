package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"schemasync/internal/drift"
	"schemasync/internal/migration"
	"schemasync/internal/storage"
	"schemasync/internal/syncer"
)

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printReport(r *drift.Report) error {
	if a.jsonOut {
		return a.printJSON(r)
	}
	_, err := fmt.Fprintln(a.out, r.Describe())
	return err
}

// printMigrations lists generated migrations. Dry runs show the SQL since
// nothing was written.
func (a *app) printMigrations(ms []*migration.Migration, dryRun bool) {
	for _, m := range ms {
		if !dryRun {
			fmt.Fprintf(a.out, "wrote %s\n", filepath.Join(a.cfg.MigrationsDir, m.ID, storage.ForwardFile))
			for _, reason := range m.Metadata.RollbackUnavailable {
				fmt.Fprintf(a.out, "  no rollback: %s\n", reason)
			}
			continue
		}
		fmt.Fprintf(a.out, "-- %s (%d statement(s))\n%s", m.ID, m.Metadata.Statements, m.SQL)
		if m.RollbackSQL != "" {
			fmt.Fprintf(a.out, "-- rollback\n%s", m.RollbackSQL)
		}
		for _, reason := range m.Metadata.RollbackUnavailable {
			fmt.Fprintf(a.out, "-- no rollback: %s\n", reason)
		}
	}
}

func (a *app) printStatus(rows []syncer.MigrationStatus) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(a.out, "no migrations")
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tON DISK\tROLLBACK\tLEDGER\tTRACKED\tERROR")
	for _, r := range rows {
		tracked := string(r.Tracked)
		if tracked == "" {
			tracked = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, yesNo(r.OnDisk), yesNo(r.HasRollback), r.Ledger, tracked, firstLine(r.Error))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
