package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCheckStore runs the behaviour every CheckStore shares.
func testCheckStore(t *testing.T, s CheckStore) {
	t.Helper()
	ctx := context.Background()

	a := TrustedScheduledCheck(TrustedCheck("https://a.example", ""), 0)
	b := TrustedScheduledCheck(TrustedCheck("https://b.example", "Example"), 30*time.Second)

	_, err := s.Upsert(ctx, a)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, b)
	require.NoError(t, err)

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "https://a.example", all[0].URL())
	assert.False(t, all[0].HasPattern())
	_, ok := all[0].Interval()
	assert.False(t, ok)
	assert.Equal(t, "Example", all[1].Pattern())
	d, ok := all[1].Interval()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	// Upsert by URL replaces pattern and interval.
	_, err = s.Upsert(ctx, TrustedScheduledCheck(TrustedCheck("https://a.example", "Domain"), 10*time.Second))
	require.NoError(t, err)
	all, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, c := range all {
		if c.URL() == "https://a.example" {
			assert.Equal(t, "Domain", c.Pattern())
			assert.Equal(t, 10*time.Second, c.IntervalOr(0))
		}
	}

	first, err := s.ReadN(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	n, err := s.Delete(ctx, "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Delete(ctx, "https://missing.example")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	all, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "https://b.example", all[0].URL())
}

// testResultStore runs the behaviour every ResultStore shares.
func testResultStore(t *testing.T, s ResultStore) {
	t.Helper()
	ctx := context.Background()

	withPattern := TrustedCheck("https://example.com", "Example")
	plain := TrustedCheck("https://example.org", "")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	written := []CheckResult{
		NewResponseResult(withPattern, base, 120*time.Millisecond, 200, MatchedText("Example")),
		NewResponseResult(withPattern, base.Add(time.Second), 80*time.Millisecond, 200, NoMatch()),
		NewFailureResult(plain, base.Add(2*time.Second), 10*time.Second, OutcomeTimeout),
		NewFailureResult(plain, base.Add(3*time.Second), 5*time.Millisecond, OutcomeHostError),
		NewResponseResult(plain, base.Add(4*time.Second), 50*time.Millisecond, 503, NotTested()),
	}
	for _, r := range written {
		_, err := s.Write(ctx, r)
		require.NoError(t, err)
	}

	got, err := s.ReadLastN(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, len(written))

	// Most recent first.
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].StartedAt().After(got[i-1].StartedAt()))
	}

	assert.Equal(t, OutcomeResponse, got[0].Outcome())
	status, ok := got[0].Status()
	assert.True(t, ok)
	assert.Equal(t, 503, status)
	assert.Equal(t, MatchNotTested, got[0].Match().Kind())

	assert.Equal(t, OutcomeHostError, got[1].Outcome())
	assert.Equal(t, OutcomeTimeout, got[2].Outcome())
	assert.InDelta(t, 10.0, got[2].ElapsedSeconds(), 1e-6)

	assert.Equal(t, MatchNone, got[3].Match().Kind())
	assert.False(t, got[3].IsSuccess())

	// A store may drop the matched text but never the match itself.
	assert.True(t, got[4].Match().Matched())
	assert.True(t, got[4].IsSuccess())
	assert.Equal(t, "Example", got[4].Check().Pattern())
	assert.True(t, got[4].StartedAt().Equal(base))

	limited, err := s.ReadLastN(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// testMatchedTextDropped covers the SQL adapters, which persist only whether
// the pattern matched.
func testMatchedTextDropped(t *testing.T, s ResultStore) {
	t.Helper()
	ctx := context.Background()

	c := TrustedCheck("https://example.com", "Example")
	_, err := s.Write(ctx, NewResponseResult(c, time.Now().UTC(), time.Millisecond, 200, MatchedText("Example")))
	require.NoError(t, err)

	got, err := s.ReadLastN(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MatchUnknownText, got[0].Match().Kind())
	assert.True(t, got[0].IsSuccess())
}
