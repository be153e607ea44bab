package storage

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// MemoryStorage keeps checks and results in process memory. It serves tests
// and throwaway runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	order   []string
	checks  map[string]ScheduledCheck
	results []CheckResult
	closed  bool
	ready   bool
	logger  *zap.Logger

	// FailWrites makes Write return the error, for exercising failure paths.
	FailWrites error
}

func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStorage{
		checks: make(map[string]ScheduledCheck),
		ready:  true,
		logger: logger,
	}
}

func (m *MemoryStorage) Upsert(ctx context.Context, check ScheduledCheck) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if _, ok := m.checks[check.URL()]; !ok {
		m.order = append(m.order, check.URL())
	}
	m.checks[check.URL()] = check
	return 1, nil
}

func (m *MemoryStorage) ReadN(ctx context.Context, limit int) ([]ScheduledCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]ScheduledCheck, 0, min(limit, len(m.order)))
	for _, url := range m.order {
		if len(out) >= limit {
			break
		}
		out = append(out, m.checks[url])
	}
	return out, nil
}

func (m *MemoryStorage) ReadAll(ctx context.Context) ([]ScheduledCheck, error) {
	m.mu.RLock()
	n := len(m.order)
	m.mu.RUnlock()
	return m.ReadN(ctx, n)
}

func (m *MemoryStorage) Delete(ctx context.Context, url string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if _, ok := m.checks[url]; !ok {
		return 0, nil
	}
	delete(m.checks, url)
	m.order = slices.DeleteFunc(m.order, func(u string) bool { return u == url })
	return 1, nil
}

func (m *MemoryStorage) DeleteAll(ctx context.Context, confirm bool) (int64, error) {
	if !confirm {
		logUnconfirmedDeleteAll(m.logger)
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := int64(len(m.order))
	m.checks = make(map[string]ScheduledCheck)
	m.order = nil
	return n, nil
}

func (m *MemoryStorage) Write(ctx context.Context, result CheckResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.FailWrites != nil {
		return 0, m.FailWrites
	}
	m.results = append(m.results, result)
	return 1, nil
}

func (m *MemoryStorage) ReadLastN(ctx context.Context, limit int) ([]CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := slices.Clone(m.results)
	slices.SortStableFunc(out, func(a, b CheckResult) int {
		return b.StartedAt().Compare(a.StartedAt())
	})
	if len(out) > max(limit, 0) {
		out = out[:max(limit, 0)]
	}
	return out, nil
}

// Results returns every stored result in write order.
func (m *MemoryStorage) Results() []CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.results)
}

func (m *MemoryStorage) IsDatastoreReady(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready, nil
}

func (m *MemoryStorage) InitDatastore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
	return true, nil
}

func (m *MemoryStorage) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
