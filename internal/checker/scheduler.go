package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/storage"
)

// ErrNoChecksConfigured is returned by RunForever when the check store is
// empty.
var ErrNoChecksConfigured = errors.New("no checks configured")

type State int32

const (
	StateIdle State = iota
	StateLoaded
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type RunnerConfig struct {
	// DefaultInterval applies to checks stored without one.
	DefaultInterval time.Duration
	// Timeout bounds each execution; zero defers to the executor default.
	Timeout time.Duration
	// SkipIfRunning drops a tick while the same check's previous run is
	// still in flight. By default runs may overlap.
	SkipIfRunning bool
	// RunOnStart fires every check once as soon as the schedule is armed.
	RunOnStart bool
}

// Runner owns the stores and executor for one process and drives the
// check workflows over them.
type Runner struct {
	checks  storage.CheckStore
	results storage.ResultStore
	exec    Executor
	config  RunnerConfig
	logger  *zap.Logger

	state     atomic.Int32
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewRunner(checks storage.CheckStore, results storage.ResultStore, exec Executor, config RunnerConfig, logger *zap.Logger) *Runner {
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		checks:  checks,
		results: results,
		exec:    exec,
		config:  config,
		logger:  logger,
	}
}

func (r *Runner) Checks() storage.CheckStore { return r.checks }
func (r *Runner) Results() storage.ResultStore { return r.results }
func (r *Runner) State() State { return State(r.state.Load()) }

// RunForever loads every stored check and runs each on its own interval
// until ctx is cancelled. Checks already executing when ctx ends run to
// completion under their own timeout before RunForever returns.
func (r *Runner) RunForever(ctx context.Context) error {
	if r.State() != StateIdle {
		return fmt.Errorf("runner already started (state %s)", r.State())
	}

	checks, err := r.checks.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading checks: %w", err)
	}
	r.state.Store(int32(StateLoaded))
	if len(checks) == 0 {
		return ErrNoChecksConfigured
	}

	cl := cronLogger{r.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	// Runs outlive ctx so that shutdown never aborts a check midway.
	runCtx := context.WithoutCancel(ctx)

	ids := make([]cron.EntryID, 0, len(checks))
	for _, sc := range checks {
		var job cron.Job = r.scheduledJob(runCtx, sc)
		if r.config.SkipIfRunning {
			job = cron.NewChain(cron.SkipIfStillRunning(cl)).Then(job)
		}
		interval := sc.IntervalOr(r.config.DefaultInterval)
		ids = append(ids, c.Schedule(cron.Every(interval), job))
		r.logger.Debug("check_scheduled", zap.String("url", sc.URL()), zap.Duration("interval", interval))
	}

	var immediate []cron.Job
	if r.config.RunOnStart {
		for _, id := range ids {
			immediate = append(immediate, c.Entry(id).WrappedJob)
		}
	}

	r.state.Store(int32(StateRunning))
	c.Start()
	r.logger.Info("runner_started", zap.Int("checks", len(checks)))

	for _, job := range immediate {
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			job.Run()
		}()
	}

	<-ctx.Done()

	r.state.Store(int32(StateStopping))
	r.logger.Info("runner_stopping")
	<-c.Stop().Done()
	r.inflight.Wait()
	r.state.Store(int32(StateStopped))
	r.logger.Info("runner_stopped")
	return nil
}

func (r *Runner) scheduledJob(ctx context.Context, sc storage.ScheduledCheck) cron.FuncJob {
	return func() {
		if _, err := r.CheckAndWrite(ctx, sc.Check); err != nil {
			r.logger.Error("result_write_failed", zap.String("url", sc.URL()), zap.Error(err))
		}
	}
}

// Close releases the executor's connections and both stores. It is safe to
// call more than once.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		if closer, ok := r.exec.(interface{ Close() }); ok {
			closer.Close()
		}
		var errs []error
		if err := r.checks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing check store: %w", err))
		}
		if err := r.results.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing result store: %w", err))
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// cronLogger routes cron's own messages through zap. Scheduling chatter goes
// to debug.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
