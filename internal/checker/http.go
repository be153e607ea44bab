package checker

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/katieblackabee/fastchecks/internal/storage"
)

// Executor runs one check and classifies what happened. Implementations never
// return an error; every failure is an outcome of the result.
type Executor interface {
	Execute(ctx context.Context, check storage.Check, timeout time.Duration) storage.CheckResult
}

type HTTPOptions struct {
	Timeout                   time.Duration
	MaxBodyBytes              int64
	AllowMissingContentLength bool
	UserAgent                 string
}

type HTTPChecker struct {
	client *http.Client
	opts   HTTPOptions
	logger *zap.Logger
}

func NewHTTPChecker(opts HTTPOptions, logger *zap.Logger) *HTTPChecker {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fastchecks/1.0 (Website Monitor)"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HTTPChecker{client: client, opts: opts, logger: logger}
}

// Close drops idle keep-alive connections.
func (h *HTTPChecker) Close() {
	h.client.CloseIdleConnections()
}

// Execute fetches the check's URL with a GET and classifies the outcome. A
// non-positive timeout selects the configured default.
func (h *HTTPChecker) Execute(ctx context.Context, check storage.Check, timeout time.Duration) (result storage.CheckResult) {
	if timeout <= 0 {
		timeout = h.opts.Timeout
	}
	start := time.Now()
	log := h.logger.With(zap.String("url", check.URL()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("check_panicked", zap.Any("panic", r))
			result = storage.NewFailureResult(check, start, time.Since(start), storage.OutcomeOtherError)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.URL(), nil)
	if err != nil {
		log.Warn("check_request_invalid", zap.Error(err))
		return storage.NewFailureResult(check, start, time.Since(start), storage.OutcomeOtherError)
	}
	req.Header.Set("User-Agent", h.opts.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return h.failure(log, check, start, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
	}()

	match := storage.NotTested()
	if check.HasPattern() && resp.StatusCode < 400 {
		match, err = h.matchBody(log, check, resp)
		if err != nil {
			return h.failure(log, check, start, err)
		}
	}

	return storage.NewResponseResult(check, start, time.Since(start), resp.StatusCode, match)
}

func (h *HTTPChecker) failure(log *zap.Logger, check storage.Check, start time.Time, err error) storage.CheckResult {
	elapsed := time.Since(start)
	outcome := classify(err)
	switch outcome {
	case storage.OutcomeTimeout:
		log.Debug("check_timeout", zap.Duration("elapsed", elapsed))
	case storage.OutcomeHostError:
		log.Debug("check_host_error", zap.Error(err))
	default:
		log.Warn("check_error", zap.Error(err))
	}
	return storage.NewFailureResult(check, start, elapsed, outcome)
}

// matchBody searches a text-like body for the check's pattern. Bodies that
// are not text, or are too large, are left untested.
func (h *HTTPChecker) matchBody(log *zap.Logger, check storage.Check, resp *http.Response) (storage.Match, error) {
	re, err := check.Regexp()
	if err != nil {
		return storage.NotTested(), fmt.Errorf("compiling stored pattern: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isTextLike(contentType) {
		log.Warn("body_not_text", zap.String("content_type", contentType))
		return storage.NotTested(), nil
	}
	if !h.lengthAcceptable(resp.ContentLength) {
		log.Warn("body_too_large_or_unknown", zap.Int64("content_length", resp.ContentLength))
		return storage.NotTested(), nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		return storage.NotTested(), err
	}
	if int64(len(raw)) > h.opts.MaxBodyBytes {
		log.Warn("body_too_large", zap.Int64("limit", h.opts.MaxBodyBytes))
		return storage.NotTested(), nil
	}

	text, err := decodeText(raw, contentType)
	if err != nil {
		return storage.NotTested(), err
	}

	loc := re.FindStringIndex(text)
	if loc == nil {
		return storage.NoMatch(), nil
	}
	return storage.MatchedText(text[loc[0]:loc[1]]), nil
}

func (h *HTTPChecker) lengthAcceptable(n int64) bool {
	if n < 0 {
		return h.opts.AllowMissingContentLength
	}
	return n < h.opts.MaxBodyBytes
}

// isTextLike accepts a declared charset, any text/* type, and structured
// syntax suffixes that carry text.
func isTextLike(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if _, ok := params["charset"]; ok {
		return true
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	for _, suffix := range []string{"+xml", "+json", "+xhtml", "+html"} {
		if strings.HasSuffix(mediaType, suffix) {
			return true
		}
	}
	return false
}

func decodeText(raw []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return "", fmt.Errorf("decoding body: %w", err)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decoding body: %w", err)
	}
	return string(decoded), nil
}

// classify maps a transport error onto an outcome. Timeouts are checked
// first since dial and read errors can also report a deadline.
func classify(err error) storage.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return storage.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return storage.OutcomeTimeout
	}

	var (
		dnsErr     *net.DNSError
		opErr      *net.OpError
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		recordErr  tls.RecordHeaderError
		alertErr   tls.AlertError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &certErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr):
		return storage.OutcomeHostError
	case errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "remote error"):
		// A "remote error" is an alert the peer sent during the handshake.
		return storage.OutcomeHostError
	case isHandshakeFailure(err):
		return storage.OutcomeHostError
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return storage.OutcomeHostError
	}
	return storage.OutcomeOtherError
}

// isHandshakeFailure catches TLS failures that crypto/tls and net/http only
// report as plain strings, such as an unsupported protocol version or a
// plaintext server behind an https URL.
func isHandshakeFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls: ") ||
		strings.Contains(msg, "server gave HTTP response to HTTPS client")
}
