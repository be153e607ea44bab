package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/checker"
	"github.com/katieblackabee/fastchecks/internal/storage"
	"github.com/katieblackabee/fastchecks/internal/validate"
)

var Version = "dev"

const (
	exitFailure     = 1
	exitUnavailable = 2
)

// errReported marks a failure the command already explained to the user.
var errReported = errors.New("reported")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	a.release()
	return exitCode(a, err)
}

func exitCode(a *app, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errReported):
		return exitFailure
	case errors.Is(err, storage.ErrDatastoreUnavailable):
		if a.logger != nil {
			a.logger.Error("datastore_unavailable", zap.String("severity", "critical"), zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Datastore unavailable: %v\n", err)
		return exitUnavailable
	case errors.Is(err, validate.ErrInvalidInput):
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	case errors.Is(err, checker.ErrNoChecksConfigured):
		fmt.Fprintln(os.Stderr, "No checks configured. Add one with: fastchecks upsert-check URL")
		return exitFailure
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fastchecks",
		Short:         "Website availability monitoring",
		Long:          "fastchecks requests URLs on a schedule, optionally matches a pattern against the body, and stores every result.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "fastchecks.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.connInfo, "conninfo", "", "datastore connection string (overrides config)")

	var (
		pattern  string
		interval int
		confirm  bool
		limit    int
	)

	upsertCmd := &cobra.Command{
		Use:   "upsert-check URL",
		Short: "Add a check or replace the one with the same URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.upsertCheck(cmd.Context(), args[0], pattern, interval)
		},
	}
	upsertCmd.Flags().StringVar(&pattern, "pattern", "", "regular expression the body must match")
	upsertCmd.Flags().IntVar(&interval, "interval", 0, "seconds between runs (0 uses the default)")

	listCmd := &cobra.Command{
		Use:   "list-checks",
		Short: "Print every stored check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.listChecks(cmd.Context())
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete-check URL",
		Short: "Delete the check with the given URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.deleteCheck(cmd.Context(), args[0])
		},
	}

	deleteAllCmd := &cobra.Command{
		Use:   "delete-all-checks",
		Short: "Delete every check (requires --confirm)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.deleteAllChecks(cmd.Context(), confirm)
		},
	}
	deleteAllCmd.Flags().BoolVar(&confirm, "confirm", false, "really delete every check")

	checkOnceCmd := &cobra.Command{
		Use:   "check-once URL",
		Short: "Check a URL once and print the result without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setupOffline(); err != nil {
				return err
			}
			return a.checkOnce(cmd.Context(), args[0], pattern, false)
		},
	}
	checkOnceCmd.Flags().StringVar(&pattern, "pattern", "", "regular expression the body must match")

	checkOnceWriteCmd := &cobra.Command{
		Use:   "check-once-and-write URL",
		Short: "Check a URL once and store the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.checkOnce(cmd.Context(), args[0], pattern, true)
		},
	}
	checkOnceWriteCmd.Flags().StringVar(&pattern, "pattern", "", "regular expression the body must match")

	runAllCmd := &cobra.Command{
		Use:   "run-all-once",
		Short: "Run every stored check once and store the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.runAllOnce(cmd.Context())
		},
	}

	runForeverCmd := &cobra.Command{
		Use:   "run-forever",
		Short: "Run every stored check on its interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			if err := a.seedChecks(cmd.Context()); err != nil {
				return err
			}
			return a.runner.RunForever(cmd.Context())
		},
	}

	readResultsCmd := &cobra.Command{
		Use:   "read-last-results",
		Short: "Print the most recent results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.readLastResults(cmd.Context(), limit)
		},
	}
	readResultsCmd.Flags().IntVarP(&limit, "n", "n", 100, "number of results to print")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			if err := a.seedChecks(cmd.Context()); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}

	initDBCmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the datastore schema if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// setup bootstraps with auto-init forced on.
			a.forceInit = true
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Datastore ready.")
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fastchecks %s\n", Version)
		},
	}

	rootCmd.AddCommand(
		upsertCmd, listCmd, deleteCmd, deleteAllCmd,
		checkOnceCmd, checkOnceWriteCmd, runAllCmd, runForeverCmd,
		readResultsCmd, serveCmd, initDBCmd, versionCmd,
	)
	return rootCmd
}
