package storage

import "time"

// resultColumns is the row shape shared by the SQL adapters. Exactly one of
// the three error flags is set for a failure; none for a response.
type resultColumns struct {
	url       string
	pattern   *string
	startedAt time.Time
	elapsed   float64
	timeout   bool
	host      bool
	other     bool
	status    *int
	match     *bool
}

func resultToColumns(r CheckResult) resultColumns {
	c := resultColumns{
		url:       r.Check().URL(),
		pattern:   nullString(r.Check().Pattern()),
		startedAt: r.StartedAt().UTC(),
		elapsed:   r.ElapsedSeconds(),
		match:     r.Match().Stored(),
	}
	switch r.Outcome() {
	case OutcomeTimeout:
		c.timeout = true
	case OutcomeHostError:
		c.host = true
	case OutcomeOtherError:
		c.other = true
	case OutcomeResponse:
		status, _ := r.Status()
		c.status = &status
	}
	return c
}

func (c resultColumns) result() CheckResult {
	pattern := ""
	if c.pattern != nil {
		pattern = *c.pattern
	}
	check := TrustedCheck(c.url, pattern)

	outcome := OutcomeOtherError
	status := 0
	switch {
	case c.timeout:
		outcome = OutcomeTimeout
	case c.host:
		outcome = OutcomeHostError
	case c.other:
		outcome = OutcomeOtherError
	case c.status != nil:
		outcome = OutcomeResponse
		status = *c.status
	}
	return RehydrateResult(check, c.startedAt, c.elapsed, outcome, status, c.match)
}

func checkFromRow(url, pattern string, intervalSeconds int64) ScheduledCheck {
	return TrustedScheduledCheck(TrustedCheck(url, pattern), time.Duration(intervalSeconds)*time.Second)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInterval(check ScheduledCheck) *int64 {
	d, ok := check.Interval()
	if !ok {
		return nil
	}
	secs := int64(d / time.Second)
	return &secs
}
