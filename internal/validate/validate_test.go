package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"https", "https://example.com", false},
		{"http with path", "http://example.com/a/b?q=1", false},
		{"uppercase scheme", "HTTPS://example.com", false},
		{"empty", "", true},
		{"ftp", "ftp://example.com", true},
		{"no scheme", "example.com", true},
		{"no host", "http://", true},
		{"too long", "https://example.com/" + strings.Repeat("a", 100), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := URL(tt.input, WebSchemes, 64)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPattern(t *testing.T) {
	re, err := Pattern(`Example\s+Domain`, 64)
	require.NoError(t, err)
	assert.True(t, re.MatchString("Example   Domain"))

	_, err = Pattern(`(unclosed`, 64)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Pattern(strings.Repeat("a", 65), 64)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInterval(t *testing.T) {
	lo, hi := 5*time.Second, 300*time.Second

	for _, d := range []time.Duration{lo, time.Minute, hi} {
		got, err := Interval(d, lo, hi)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	for _, d := range []time.Duration{0, 4 * time.Second, 301 * time.Second, 5500 * time.Millisecond} {
		_, err := Interval(d, lo, hi)
		assert.ErrorIs(t, err, ErrInvalidInput, "interval %s", d)
	}
}

func TestConnString(t *testing.T) {
	valid := []string{
		"postgres://user:pw@localhost:5432/db",
		"POSTGRESQL://localhost/db",
		"sqlite:///var/lib/fastchecks.db",
		"sqlite://./fastchecks.db",
	}
	for _, s := range valid {
		_, err := ConnString(s, StoreSchemes)
		assert.NoError(t, err, s)
	}

	invalidInputs := []string{"", "mysql://localhost/db", "localhost:5432", "postgres://"}
	for _, s := range invalidInputs {
		_, err := ConnString(s, StoreSchemes)
		assert.ErrorIs(t, err, ErrInvalidInput, s)
	}
}

func TestConnStringHidesCredentialsOnParseError(t *testing.T) {
	_, err := ConnString("postgres://user:secret@[bad/db", StoreSchemes)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestPositiveInt(t *testing.T) {
	n, err := PositiveInt("n", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = PositiveInt("n", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = PositiveInt("n", -3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
