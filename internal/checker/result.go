package checker

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/storage"
)

// CheckOnly executes a check without persisting the result.
func (r *Runner) CheckOnly(ctx context.Context, check storage.Check) storage.CheckResult {
	result := r.exec.Execute(ctx, check, r.config.Timeout)
	r.logResult(result)
	return result
}

// CheckAndWrite executes a check and writes the result. A failed write is
// returned; the result itself is still valid.
func (r *Runner) CheckAndWrite(ctx context.Context, check storage.Check) (storage.CheckResult, error) {
	result := r.CheckOnly(ctx, check)
	if _, err := r.results.Write(ctx, result); err != nil {
		return result, fmt.Errorf("writing result for %s: %w", check.URL(), err)
	}
	return result, nil
}

// RunAllOnce checks every stored check once, writing each result. Checks run
// one after another as the sequence is consumed. A failure to load the checks
// is yielded once with a zero result.
func (r *Runner) RunAllOnce(ctx context.Context) iter.Seq2[storage.CheckResult, error] {
	return func(yield func(storage.CheckResult, error) bool) {
		checks, err := r.checks.ReadAll(ctx)
		if err != nil {
			yield(storage.CheckResult{}, fmt.Errorf("loading checks: %w", err))
			return
		}
		for _, sc := range checks {
			if ctx.Err() != nil {
				return
			}
			if !yield(r.CheckAndWrite(ctx, sc.Check)) {
				return
			}
		}
	}
}

func (r *Runner) logResult(result storage.CheckResult) {
	fields := []zap.Field{
		zap.String("url", result.Check().URL()),
		zap.String("outcome", result.Outcome().String()),
		zap.Float64("elapsed_s", result.ElapsedSeconds()),
		zap.Bool("success", result.IsSuccess()),
	}
	if status, ok := result.Status(); ok {
		fields = append(fields, zap.Int("status", status))
	}
	if result.Check().HasPattern() {
		fields = append(fields, zap.String("match", result.Match().String()))
	}
	r.logger.Info("check_result", fields...)
}
