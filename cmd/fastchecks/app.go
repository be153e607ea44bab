package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/checker"
	"github.com/katieblackabee/fastchecks/internal/config"
	"github.com/katieblackabee/fastchecks/internal/logging"
	"github.com/katieblackabee/fastchecks/internal/storage"
	"github.com/katieblackabee/fastchecks/internal/validate"
	"github.com/katieblackabee/fastchecks/internal/web"
)

// app holds the wiring shared by every command.
type app struct {
	configPath string
	connInfo   string
	forceInit  bool

	cfg    *config.Config
	logger *zap.Logger
	runner *checker.Runner
}

func (a *app) loadConfig() error {
	cfg, err := config.LoadWithEnv(a.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return errReported
	}
	if a.connInfo != "" {
		if _, err := validate.ConnString(a.connInfo, validate.StoreSchemes); err != nil {
			return fmt.Errorf("--conninfo: %w", err)
		}
		cfg.Database.ConnInfo = a.connInfo
	}

	logger, err := logging.NewLogger(cfg.LoggingOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		return errReported
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// setup loads config, opens the configured datastore, bootstraps it and
// builds the runner.
func (a *app) setup(ctx context.Context) error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	store, err := storage.Open(ctx, a.cfg.Database.ConnInfo, a.logger)
	if err != nil {
		if errors.Is(err, validate.ErrInvalidInput) || errors.Is(err, storage.ErrDatastoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", storage.ErrDatastoreUnavailable, err)
	}

	autoInit := a.cfg.Database.AutoInit || a.forceInit
	if err := storage.Bootstrap(ctx, store, autoInit, a.cfg.Database.InitTimeout, a.logger); err != nil {
		store.Close()
		return err
	}

	a.runner = checker.NewRunner(store, store, a.executor(), a.runnerConfig(), a.logger)
	return nil
}

// setupOffline builds a runner over an in-memory store, for commands that
// never persist anything.
func (a *app) setupOffline() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	store := storage.NewMemoryStorage(a.logger)
	a.runner = checker.NewRunner(store, store, a.executor(), a.runnerConfig(), a.logger)
	return nil
}

func (a *app) executor() *checker.HTTPChecker {
	return checker.NewHTTPChecker(checker.HTTPOptions{
		Timeout:                   a.cfg.Runner.Timeout,
		MaxBodyBytes:              a.cfg.Runner.MaxBodyBytes,
		AllowMissingContentLength: a.cfg.Runner.AllowMissingContentLength,
		UserAgent:                 a.cfg.Runner.UserAgent,
	}, a.logger)
}

func (a *app) runnerConfig() checker.RunnerConfig {
	return checker.RunnerConfig{
		DefaultInterval: a.cfg.Runner.DefaultInterval,
		Timeout:         a.cfg.Runner.Timeout,
		SkipIfRunning:   a.cfg.Runner.Overlap == config.OverlapSkip,
		RunOnStart:      a.cfg.Runner.RunOnStart,
	}
}

func (a *app) release() {
	if a.runner != nil {
		if err := a.runner.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close_failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) upsertCheck(ctx context.Context, url, pattern string, intervalSeconds int) error {
	lim := a.cfg.StorageLimits()
	check, err := storage.NewCheck(url, pattern, lim)
	if err != nil {
		return err
	}
	scheduled, err := storage.NewScheduledCheck(check, time.Duration(intervalSeconds)*time.Second, lim)
	if err != nil {
		return err
	}
	if _, err := a.runner.Checks().Upsert(ctx, scheduled); err != nil {
		return err
	}
	fmt.Printf("Saved: %s\n", scheduled)
	return nil
}

func (a *app) listChecks(ctx context.Context) error {
	checks, err := a.runner.Checks().ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		fmt.Println("No checks configured.")
		return nil
	}
	for _, c := range checks {
		fmt.Println(c)
	}
	return nil
}

func (a *app) deleteCheck(ctx context.Context, url string) error {
	n, err := a.runner.Checks().Delete(ctx, url)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Printf("No check for %s\n", url)
		return nil
	}
	fmt.Printf("Deleted: %s\n", url)
	return nil
}

func (a *app) deleteAllChecks(ctx context.Context, confirm bool) error {
	n, err := a.runner.Checks().DeleteAll(ctx, confirm)
	if err != nil {
		return err
	}
	switch {
	case !confirm:
		fmt.Println("Deleted 0 checks. Pass --confirm to delete every check.")
	case n < 0:
		fmt.Println("Deleted all checks.")
	default:
		fmt.Printf("Deleted %d checks.\n", n)
	}
	return nil
}

func (a *app) checkOnce(ctx context.Context, url, pattern string, write bool) error {
	check, err := storage.NewCheck(url, pattern, a.cfg.StorageLimits())
	if err != nil {
		return err
	}
	if !write {
		fmt.Println(a.runner.CheckOnly(ctx, check))
		return nil
	}
	result, err := a.runner.CheckAndWrite(ctx, check)
	fmt.Println(result)
	return err
}

func (a *app) runAllOnce(ctx context.Context) error {
	var failed int
	for result, err := range a.runner.RunAllOnce(ctx) {
		if result.Check().URL() == "" {
			// Loading the checks failed.
			return err
		}
		fmt.Println(result)
		if err != nil {
			a.logger.Error("result_write_failed", zap.String("url", result.Check().URL()), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d results could not be written", failed)
	}
	return nil
}

func (a *app) readLastResults(ctx context.Context, n int) error {
	if _, err := validate.PositiveInt("n", n); err != nil {
		return err
	}
	results, err := a.runner.Results().ReadLastN(ctx, n)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Println(r)
	}
	return nil
}

// seedChecks upserts the checks listed in the config file.
func (a *app) seedChecks(ctx context.Context) error {
	lim := a.cfg.StorageLimits()
	for i := range a.cfg.Checks {
		seed := &a.cfg.Checks[i]
		sc, err := seed.ScheduledCheck(lim)
		if err != nil {
			return fmt.Errorf("config check %s: %w", seed.URL, err)
		}
		if _, err := a.runner.Checks().Upsert(ctx, sc); err != nil {
			return err
		}
		a.logger.Info("check_seeded", zap.String("url", sc.URL()))
	}
	return nil
}

// serve runs the scheduler alongside the API until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	server := web.NewServer(&a.cfg.Server, a.runner, a.cfg.StorageLimits(), a.logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runnerErr := make(chan error, 1)
	go func() { runnerErr <- a.runner.RunForever(runCtx) }()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting_down")
	case err = <-serverErr:
		a.logger.Error("server_stopped", zap.Error(err))
	case err = <-runnerErr:
		if errors.Is(err, checker.ErrNoChecksConfigured) {
			// The API can still add checks; keep serving without a scheduler.
			a.logger.Warn("no_checks_scheduled", zap.String("hint", "add checks and restart"))
			err = nil
			select {
			case <-ctx.Done():
			case err = <-serverErr:
			}
		}
		runnerErr = nil
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("server_shutdown_failed", zap.Error(serr))
	}
	if runnerErr != nil {
		if rerr := <-runnerErr; err == nil {
			err = rerr
		}
	}
	return err
}
