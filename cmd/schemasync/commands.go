package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"schemasync/internal/diff"
	"schemasync/internal/drift"
	"schemasync/internal/dsl"
	"schemasync/internal/migration"
	"schemasync/internal/syncer"
)

func (a *app) checkCmd() *cobra.Command {
	var (
		ignore []string
		failOn string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the schema document with the live database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var threshold drift.Severity
			if failOn != "" {
				sev, err := drift.ParseSeverity(failOn)
				if err != nil {
					return err
				}
				threshold = sev
			}
			rt, err := a.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.Engine.Check(cmd.Context(), syncer.CheckOptions{Ignore: ignore})
			if err != nil {
				return err
			}
			if err := a.printReport(report); err != nil {
				return err
			}
			if threshold != "" && report.AtLeast(threshold) {
				return &exitError{code: 2, msg: fmt.Sprintf("drift at or above %s severity", threshold)}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&ignore, "ignore", nil, "regexp of object names to skip (repeatable)")
	cmd.Flags().StringVar(&failOn, "fail-on", string(drift.Low), "exit 2 when a drift reaches this severity; empty never fails")
	return cmd
}

type migrationFlags struct {
	name     string
	dryRun   bool
	rollback bool
	atomic   bool
}

func (f *migrationFlags) register(cmd *cobra.Command, defaultName string) {
	cmd.Flags().StringVar(&f.name, "name", defaultName, "migration name")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the migrations without writing them")
	cmd.Flags().BoolVar(&f.rollback, "rollback", true, "generate rollback scripts")
	cmd.Flags().BoolVar(&f.atomic, "atomic", true, "wrap each migration in a transaction")
}

func (f *migrationFlags) options() migration.Options {
	return migration.Options{Name: f.name, DryRun: f.dryRun, IncludeRollback: f.rollback, Atomic: f.atomic}
}

func (a *app) planCmd() *cobra.Command {
	var (
		flags  migrationFlags
		ignore []string
		drifts []string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate migrations that fix the detected drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, err := rt.Engine.Plan(cmd.Context(), syncer.PlanOptions{
				Check:     syncer.CheckOptions{Ignore: ignore},
				DriftIDs:  drifts,
				Migration: flags.options(),
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(plan)
			}
			fmt.Fprintln(a.out, plan.Report.Describe())
			if len(plan.Migrations) == 0 {
				fmt.Fprintln(a.out, "nothing to generate")
				return nil
			}
			fmt.Fprintln(a.out)
			a.printMigrations(plan.Migrations, flags.dryRun)
			return nil
		},
	}
	flags.register(cmd, "fix_drift")
	cmd.Flags().StringArrayVar(&ignore, "ignore", nil, "regexp of object names to skip (repeatable)")
	cmd.Flags().StringArrayVar(&drifts, "drift", nil, "only fix this drift id (repeatable)")
	return cmd
}

func (a *app) diffCmd() *cobra.Command {
	var flags migrationFlags
	cmd := &cobra.Command{
		Use:   "diff <from.prisma> <to.prisma>",
		Short: "Generate migrations between two schema documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			ms, changes, err := rt.Engine.Diff(cmd.Context(), args[0], args[1], flags.options())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"changes": len(changes), "migrations": ms})
			}
			fmt.Fprintln(a.out, diff.Describe(changes))
			if len(changes) == 0 {
				return nil
			}
			fmt.Fprintln(a.out)
			a.printMigrations(ms, flags.dryRun)
			return nil
		},
	}
	flags.register(cmd, "schema_diff")
	return cmd
}

func (a *app) newCmd() *cobra.Command {
	var (
		flags        migrationFlags
		sqlFile      string
		rollbackFile string
	)
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a migration folder from hand-written SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(sqlFile)
			if err != nil {
				return fmt.Errorf("read sql: %w", err)
			}
			var rollback []byte
			if rollbackFile != "" {
				if rollback, err = os.ReadFile(rollbackFile); err != nil {
					return fmt.Errorf("read rollback: %w", err)
				}
			}
			rt, err := a.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := flags.options()
			opts.Name = args[0]
			m, err := rt.Engine.Author(cmd.Context(), string(body), string(rollback), opts)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(m)
			}
			a.printMigrations([]*migration.Migration{m}, flags.dryRun)
			return nil
		},
	}
	flags.register(cmd, "")
	cmd.Flags().StringVar(&sqlFile, "sql", "", "file holding the forward SQL")
	cmd.Flags().StringVar(&rollbackFile, "rollback-sql", "", "file holding the rollback SQL")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func (a *app) applyCmd() *cobra.Command {
	var (
		all bool
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "apply [id]",
		Short: "Apply one migration folder, or every pending one with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give a migration id or --all")
			}
			target := "every pending migration"
			if !all {
				target = args[0]
			}
			if !yes {
				fmt.Fprintf(a.out, "About to apply %s\n", target)
				ok, err := a.promptYes("Type YES to proceed: ")
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("aborted")
				}
			}

			rt, err := a.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if all {
				applied, err := rt.Engine.ApplyPending(cmd.Context())
				for _, m := range applied {
					fmt.Fprintf(a.out, "applied %s\n", m.ID)
				}
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(a.out, "nothing to apply")
				}
				return nil
			}
			m, err := rt.Engine.Apply(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "applied %s\n", m.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply every migration without an applied ledger row")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the approval prompt")
	return cmd
}

func (a *app) rollbackCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Run a migration's rollback script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprintf(a.out, "About to roll back %s\n", args[0])
				ok, err := a.promptYes("Type YES to proceed: ")
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("aborted")
				}
			}
			rt, err := a.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			m, err := rt.Engine.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "rolled back %s\n", m.ID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the approval prompt")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check migration folders against the ledger and the tracking table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Engine.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				err = a.printJSON(map[string]any{"consistent": res.Consistent(), "result": res})
			} else {
				fmt.Fprintln(a.out, res.Describe())
			}
			if err != nil {
				return err
			}
			if !res.Consistent() {
				return &exitError{code: 2, msg: fmt.Sprintf("%d migration history issue(s)", len(res.Issues))}
			}
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations with their folder, ledger and tracking state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := rt.Engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(rows)
			}
			return a.printStatus(rows)
		},
	}
}

func (a *app) fmtCmd() *cobra.Command {
	var (
		write bool
		check bool
	)
	cmd := &cobra.Command{
		Use:   "fmt [file]",
		Short: "Print a schema document in canonical form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.SchemaFile
			if len(args) == 1 {
				path = args[0]
			}
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			doc, err := dsl.ParseDocument(path, string(src))
			if err != nil {
				return err
			}
			formatted := dsl.FormatDocument(doc)
			switch {
			case check:
				if formatted != string(src) {
					return &exitError{code: 2, msg: path + " is not formatted"}
				}
				return nil
			case write:
				if formatted == string(src) {
					return nil
				}
				return os.WriteFile(path, []byte(formatted), 0o644)
			default:
				fmt.Fprint(a.out, formatted)
				return nil
			}
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "rewrite the file in place")
	cmd.Flags().BoolVar(&check, "check", false, "exit 2 when the file is not formatted")
	return cmd
}
