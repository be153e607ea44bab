package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/katieblackabee/fastchecks/internal/validate"
)

// Limits bound user-supplied check definitions.
type Limits struct {
	URLMaxLen     int
	PatternMaxLen int
	MinInterval   time.Duration
	MaxInterval   time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		URLMaxLen:     2048,
		PatternMaxLen: 1024,
		MinInterval:   5 * time.Second,
		MaxInterval:   300 * time.Second,
	}
}

// Check is an immutable monitoring target identified by its URL. An empty
// pattern means the body is never inspected.
type Check struct {
	url     string
	pattern string
	re      *regexp.Regexp
}

// NewCheck validates url and pattern against lim.
func NewCheck(url, pattern string, lim Limits) (Check, error) {
	if _, err := validate.URL(url, validate.WebSchemes, lim.URLMaxLen); err != nil {
		return Check{}, err
	}
	c := Check{url: url}
	if pattern != "" {
		re, err := validate.Pattern(pattern, lim.PatternMaxLen)
		if err != nil {
			return Check{}, err
		}
		c.pattern = pattern
		c.re = re
	}
	return c, nil
}

// TrustedCheck builds a Check from values that were validated when they were
// written, such as rows read back from a store.
func TrustedCheck(url, pattern string) Check {
	c := Check{url: url, pattern: pattern}
	if pattern != "" {
		// A row that no longer compiles is reported by Regexp at execution.
		c.re, _ = regexp.Compile(pattern)
	}
	return c
}

func (c Check) URL() string { return c.url }
func (c Check) Pattern() string { return c.pattern }
func (c Check) HasPattern() bool { return c.pattern != "" }

// Regexp returns the compiled pattern, or nil when the check has none.
func (c Check) Regexp() (*regexp.Regexp, error) {
	if c.pattern == "" {
		return nil, nil
	}
	if c.re != nil {
		return c.re, nil
	}
	return regexp.Compile(c.pattern)
}

func (c Check) String() string {
	if c.pattern == "" {
		return c.url
	}
	return fmt.Sprintf("%s (pattern %q)", c.url, c.pattern)
}

type checkJSON struct {
	URL             string `json:"url"`
	Pattern         string `json:"pattern,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

func (c Check) MarshalJSON() ([]byte, error) {
	return json.Marshal(checkJSON{URL: c.url, Pattern: c.pattern})
}

// ScheduledCheck is a Check with an optional recurrence interval. A zero
// interval means the runner's default applies.
type ScheduledCheck struct {
	Check
	interval time.Duration
}

// NewScheduledCheck validates a non-zero interval against lim.
func NewScheduledCheck(check Check, interval time.Duration, lim Limits) (ScheduledCheck, error) {
	if interval != 0 {
		if _, err := validate.Interval(interval, lim.MinInterval, lim.MaxInterval); err != nil {
			return ScheduledCheck{}, err
		}
	}
	return ScheduledCheck{Check: check, interval: interval}, nil
}

func TrustedScheduledCheck(check Check, interval time.Duration) ScheduledCheck {
	return ScheduledCheck{Check: check, interval: interval}
}

// Interval reports the configured interval and whether one is set.
func (s ScheduledCheck) Interval() (time.Duration, bool) {
	return s.interval, s.interval > 0
}

// IntervalOr returns the configured interval or def when none is set.
func (s ScheduledCheck) IntervalOr(def time.Duration) time.Duration {
	if s.interval > 0 {
		return s.interval
	}
	return def
}

func (s ScheduledCheck) String() string {
	if s.interval == 0 {
		return s.Check.String()
	}
	return fmt.Sprintf("%s every %s", s.Check.String(), s.interval)
}

func (s ScheduledCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(checkJSON{
		URL:             s.url,
		Pattern:         s.pattern,
		IntervalSeconds: int(s.interval / time.Second),
	})
}

// Outcome is the closed set of ways a check can end.
type Outcome int

const (
	OutcomeTimeout Outcome = iota
	OutcomeHostError
	OutcomeOtherError
	OutcomeResponse
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTimeout:
		return "timeout"
	case OutcomeHostError:
		return "host_error"
	case OutcomeOtherError:
		return "other_error"
	case OutcomeResponse:
		return "response"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MatchKind says whether and how the body was matched against the pattern.
type MatchKind int

const (
	MatchNotTested MatchKind = iota
	MatchNone
	// MatchUnknownText means a match happened but the text was not kept,
	// which is what a stored result rehydrates to.
	MatchUnknownText
	MatchText
)

type Match struct {
	kind MatchKind
	text string
}

func NotTested() Match { return Match{kind: MatchNotTested} }
func NoMatch() Match { return Match{kind: MatchNone} }
func MatchedUnknownText() Match { return Match{kind: MatchUnknownText} }
func MatchedText(text string) Match { return Match{kind: MatchText, text: text} }
func (m Match) Kind() MatchKind { return m.kind }
func (m Match) Text() (string, bool) { return m.text, m.kind == MatchText }

// Tested reports whether the body was inspected.
func (m Match) Tested() bool { return m.kind != MatchNotTested }

// Matched reports whether the pattern was found.
func (m Match) Matched() bool { return m.kind == MatchText || m.kind == MatchUnknownText }

// Stored returns the nullable boolean form kept by the stores.
func (m Match) Stored() *bool {
	if !m.Tested() {
		return nil
	}
	b := m.Matched()
	return &b
}

func (m Match) String() string {
	switch m.kind {
	case MatchNone:
		return "no match"
	case MatchUnknownText:
		return "matched"
	case MatchText:
		return fmt.Sprintf("matched %q", truncate(m.text, 80))
	}
	return "not tested"
}

// CheckResult is the immutable record of one check execution.
type CheckResult struct {
	check     Check
	startedAt time.Time
	elapsed   time.Duration
	outcome   Outcome
	status    int
	match     Match
}

// NewResponseResult records a received response. It panics when a match was
// tested on a check that has no pattern.
func NewResponseResult(check Check, startedAt time.Time, elapsed time.Duration, status int, match Match) CheckResult {
	if !check.HasPattern() && match.Tested() {
		panic("storage: match recorded for a check without a pattern")
	}
	mustNonNegative(elapsed)
	return CheckResult{
		check:     check,
		startedAt: startedAt.UTC(),
		elapsed:   elapsed,
		outcome:   OutcomeResponse,
		status:    status,
		match:     match,
	}
}

// NewFailureResult records a check that produced no response.
func NewFailureResult(check Check, startedAt time.Time, elapsed time.Duration, outcome Outcome) CheckResult {
	if outcome == OutcomeResponse {
		panic("storage: failure result built with OutcomeResponse")
	}
	mustNonNegative(elapsed)
	return CheckResult{
		check:     check,
		startedAt: startedAt.UTC(),
		elapsed:   elapsed,
		outcome:   outcome,
		match:     NotTested(),
	}
}

// RehydrateResult rebuilds a stored result. Matched text is not persisted, so
// a positive match comes back as MatchUnknownText.
func RehydrateResult(check Check, startedAt time.Time, elapsedSeconds float64, outcome Outcome, status int, matched *bool) CheckResult {
	elapsed := time.Duration(elapsedSeconds * float64(time.Second))
	if elapsed < 0 {
		elapsed = 0
	}
	if outcome != OutcomeResponse {
		return NewFailureResult(check, startedAt, elapsed, outcome)
	}
	match := NotTested()
	if matched != nil && check.HasPattern() {
		if *matched {
			match = MatchedUnknownText()
		} else {
			match = NoMatch()
		}
	}
	return NewResponseResult(check, startedAt, elapsed, status, match)
}

func mustNonNegative(d time.Duration) {
	if d < 0 {
		panic("storage: negative elapsed time")
	}
}

func (r CheckResult) Check() Check { return r.check }
func (r CheckResult) StartedAt() time.Time { return r.startedAt }
func (r CheckResult) Elapsed() time.Duration { return r.elapsed }
func (r CheckResult) ElapsedSeconds() float64 { return r.elapsed.Seconds() }
func (r CheckResult) Outcome() Outcome { return r.outcome }
func (r CheckResult) Match() Match { return r.match }
func (r CheckResult) Status() (int, bool) { return r.status, r.outcome == OutcomeResponse }

// IsResponseOK reports a response with a status below 400.
func (r CheckResult) IsResponseOK() bool {
	return r.outcome == OutcomeResponse && r.status < 400
}

// IsPatternValidated holds when there is no pattern or the pattern matched.
func (r CheckResult) IsPatternValidated() bool {
	return !r.check.HasPattern() || r.match.Matched()
}

func (r CheckResult) IsSuccess() bool {
	return r.IsResponseOK() && r.IsPatternValidated()
}

func (r CheckResult) String() string {
	var b strings.Builder
	verdict := "FAIL"
	if r.IsSuccess() {
		verdict = "OK"
	}
	fmt.Fprintf(&b, "[%s] %s %s ", verdict, r.startedAt.Format(time.RFC3339), r.check.URL())
	if r.outcome == OutcomeResponse {
		fmt.Fprintf(&b, "status=%d", r.status)
		if r.check.HasPattern() {
			fmt.Fprintf(&b, " pattern=%s", r.match)
		}
	} else {
		b.WriteString(r.outcome.String())
	}
	fmt.Fprintf(&b, " in %.3fs", r.ElapsedSeconds())
	return b.String()
}

type resultJSON struct {
	URL            string    `json:"url"`
	Pattern        string    `json:"pattern,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Outcome        string    `json:"outcome"`
	Status         int       `json:"status,omitempty"`
	PatternMatch   *bool     `json:"pattern_match,omitempty"`
	MatchedText    string    `json:"matched_text,omitempty"`
	Success        bool      `json:"success"`
}

func (r CheckResult) MarshalJSON() ([]byte, error) {
	text, _ := r.match.Text()
	return json.Marshal(resultJSON{
		URL:            r.check.URL(),
		Pattern:        r.check.Pattern(),
		StartedAt:      r.startedAt,
		ElapsedSeconds: r.ElapsedSeconds(),
		Outcome:        r.outcome.String(),
		Status:         r.status,
		PatternMatch:   r.match.Stored(),
		MatchedText:    text,
		Success:        r.IsSuccess(),
	})
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
