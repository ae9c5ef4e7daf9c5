package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"schemasync/internal/config"
	"schemasync/internal/logging"
	"schemasync/internal/syncer"
)

// exitError carries a non-default exit status. Commands return it when they
// ran fine but found something the caller gates on, such as drift.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type app struct {
	envFile       string
	schemaFile    string
	migrationsDir string
	jsonOut       bool

	cfg    config.Config
	logger *slog.Logger

	out    io.Writer
	errOut io.Writer
	in     io.Reader
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr, os.Stdin).ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

func exitCode(err error, w io.Writer) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(w, "error:", err)
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}

func newRootCmd(out, errOut io.Writer, in io.Reader) *cobra.Command {
	a := &app{out: out, errOut: errOut, in: in}
	root := &cobra.Command{
		Use:           "schemasync",
		Short:         "Detect schema drift and keep migrations in sync with the database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetIn(in)

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment")
	flags.StringVar(&a.schemaFile, "schema", "", "schema document (overrides SCHEMASYNC_SCHEMA_FILE)")
	flags.StringVar(&a.migrationsDir, "migrations-dir", "", "migration folders root (overrides SCHEMASYNC_MIGRATIONS_DIR)")
	flags.BoolVar(&a.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		a.checkCmd(),
		a.planCmd(),
		a.diffCmd(),
		a.newCmd(),
		a.applyCmd(),
		a.rollbackCmd(),
		a.reconcileCmd(),
		a.statusCmd(),
		a.fmtCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if a.schemaFile != "" {
		cfg.SchemaFile = a.schemaFile
	}
	if a.migrationsDir != "" {
		cfg.MigrationsDir = a.migrationsDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.NewLogger(a.errOut, cfg.LogLevel, cfg.LogFormat)
	return nil
}

func (a *app) runtime(ctx context.Context, withDB bool) (*syncer.Runtime, error) {
	return syncer.Open(ctx, a.cfg, a.logger, withDB)
}

func (a *app) promptYes(prompt string) (bool, error) {
	fmt.Fprint(a.out, prompt)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
