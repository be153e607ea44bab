package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/storage"
)

// fakeExecutor answers every check with a 200 after an optional delay and
// counts executions per URL.
type fakeExecutor struct {
	delay time.Duration

	mu       sync.Mutex
	calls    map[string]int
	running  int
	maxInFly int
	closed   bool
}

func newFakeExecutor(delay time.Duration) *fakeExecutor {
	return &fakeExecutor{delay: delay, calls: make(map[string]int)}
}

func (f *fakeExecutor) Execute(ctx context.Context, check storage.Check, timeout time.Duration) storage.CheckResult {
	start := time.Now()
	f.mu.Lock()
	f.calls[check.URL()]++
	f.running++
	f.maxInFly = max(f.maxInFly, f.running)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	match := storage.NotTested()
	if check.HasPattern() {
		match = storage.MatchedText("ok")
	}
	return storage.NewResponseResult(check, start, time.Since(start), 200, match)
}

func (f *fakeExecutor) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeExecutor) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func seed(t *testing.T, store storage.CheckStore, url string, interval time.Duration) {
	t.Helper()
	_, err := store.Upsert(context.Background(), storage.TrustedScheduledCheck(storage.TrustedCheck(url, ""), interval))
	require.NoError(t, err)
}

func TestCheckOnlyDoesNotWrite(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	runner := NewRunner(store, store, newFakeExecutor(0), RunnerConfig{}, zap.NewNop())

	result := runner.CheckOnly(context.Background(), storage.TrustedCheck("https://example.com", ""))
	assert.True(t, result.IsSuccess())
	assert.Empty(t, store.Results())
}

func TestCheckAndWrite(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	runner := NewRunner(store, store, newFakeExecutor(0), RunnerConfig{}, zap.NewNop())

	result, err := runner.CheckAndWrite(context.Background(), storage.TrustedCheck("https://example.com", "Example"))
	require.NoError(t, err)
	assert.True(t, result.IsSuccess())
	require.Len(t, store.Results(), 1)
	assert.Equal(t, "https://example.com", store.Results()[0].Check().URL())
}

func TestCheckAndWriteReturnsWriteError(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	store.FailWrites = errors.New("disk full")
	runner := NewRunner(store, store, newFakeExecutor(0), RunnerConfig{}, zap.NewNop())

	result, err := runner.CheckAndWrite(context.Background(), storage.TrustedCheck("https://example.com", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, result.IsSuccess())
}

func TestRunAllOnce(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	for _, u := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		seed(t, store, u, 0)
	}
	exec := newFakeExecutor(0)
	runner := NewRunner(store, store, exec, RunnerConfig{}, zap.NewNop())

	var urls []string
	for result, err := range runner.RunAllOnce(context.Background()) {
		require.NoError(t, err)
		urls = append(urls, result.Check().URL())
	}

	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, urls)
	assert.Len(t, store.Results(), 3)
}

func TestRunAllOnceIsLazy(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	seed(t, store, "https://a.example", 0)
	seed(t, store, "https://b.example", 0)
	exec := newFakeExecutor(0)
	runner := NewRunner(store, store, exec, RunnerConfig{}, zap.NewNop())

	seq := runner.RunAllOnce(context.Background())
	assert.Zero(t, exec.count("https://a.example"))

	for range seq {
		break
	}
	assert.Equal(t, 1, exec.count("https://a.example"))
	assert.Zero(t, exec.count("https://b.example"))
}

func TestRunAllOnceYieldsLoadError(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	require.NoError(t, store.Close())
	runner := NewRunner(store, store, newFakeExecutor(0), RunnerConfig{}, zap.NewNop())

	var errs []error
	for _, err := range runner.RunAllOnce(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], storage.ErrClosed)
}

func TestRunAllOnceContinuesAfterWriteError(t *testing.T) {
	store := storage.NewMemoryStorage(nil)
	seed(t, store, "https://a.example", 0)
	seed(t, store, "https://b.example", 0)
	store.FailWrites = errors.New("read-only")
	exec := newFakeExecutor(0)
	runner := NewRunner(store, store, exec, RunnerConfig{}, zap.NewNop())

	failures := 0
	for _, err := range runner.RunAllOnce(context.Background()) {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
	assert.Equal(t, 1, exec.count("https://b.example"))
}
