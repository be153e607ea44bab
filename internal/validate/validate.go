// Package validate holds the input checks shared by the CLI, the web API and
// the storage constructors. Every failure wraps ErrInvalidInput.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

// WebSchemes are the schemes a monitored URL may use.
var WebSchemes = []string{"http", "https"}

// StoreSchemes are the schemes accepted for a storage connection string.
var StoreSchemes = []string{"postgres", "postgresql", "sqlite"}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// URL checks length, scheme membership and presence of a host.
func URL(s string, schemes []string, maxLen int) (*url.URL, error) {
	if s == "" {
		return nil, invalid("url is required")
	}
	if maxLen > 0 && len(s) > maxLen {
		return nil, invalid("url is longer than %d characters", maxLen)
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, invalid("url %q does not parse: %v", s, err)
	}
	if !hasScheme(u, schemes) {
		return nil, invalid("url %q must use one of the schemes %s", s, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return nil, invalid("url %q has no host", s)
	}
	return u, nil
}

// Pattern checks length and compiles the expression. Go's regexp engine is
// RE2, so matching time is linear in the input.
func Pattern(s string, maxLen int) (*regexp.Regexp, error) {
	if maxLen > 0 && len(s) > maxLen {
		return nil, invalid("pattern is longer than %d characters", maxLen)
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, invalid("pattern %q does not compile: %v", s, err)
	}
	return re, nil
}

// Interval checks that d lies in [lo, hi].
func Interval(d, lo, hi time.Duration) (time.Duration, error) {
	if d%time.Second != 0 {
		return 0, invalid("interval %s must be a whole number of seconds", d)
	}
	if d < lo || d > hi {
		return 0, invalid("interval %s must be between %s and %s", d, lo, hi)
	}
	return d, nil
}

// ConnString checks a storage connection string. SQLite URLs carry a path
// and no host, so either one is enough.
func ConnString(s string, schemes []string) (string, error) {
	if s == "" {
		return "", invalid("connection string is required")
	}
	u, err := url.Parse(s)
	if err != nil {
		// url.Error echoes the input, which may carry a password.
		return "", invalid("connection string does not parse")
	}
	if !hasScheme(u, schemes) {
		return "", invalid("connection string must use one of the schemes %s", strings.Join(schemes, ", "))
	}
	if u.Host == "" && u.Path == "" && u.Opaque == "" {
		return "", invalid("connection string has neither host nor path")
	}
	return s, nil
}

// PositiveInt checks n > 0.
func PositiveInt(name string, n int) (int, error) {
	if n <= 0 {
		return 0, invalid("%s must be a positive integer, got %d", name, n)
	}
	return n, nil
}

func hasScheme(u *url.URL, schemes []string) bool {
	return u.Scheme != "" && slices.Contains(schemes, strings.ToLower(u.Scheme))
}
