// Package fetch performs the single-attempt HTTP probe against a link
// target, generalizing this project's original worker-pool fetch logic:
// same explicit http.Client construction and bounded-redirect discipline,
// but a fresh cookie jar per call, a wider success-status set, and a
// truncated-HTML success heuristic instead of a fixed retry loop.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxRedirects = 5

// Outcome is the classified result of one probe.
type Outcome struct {
	Time       time.Time
	ReturnCode int
	Detail     string // MIME type on success, exception text on failure
	Success    bool
	Body       []byte // retained prefix, for the verdict sink
}

// Fetcher performs bounded, single-attempt HTTP probes.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxReadBytes int64
}

// New builds a Fetcher with the given per-request timeout, user agent, and
// maximum response body to retain.
func New(timeout time.Duration, userAgent string, maxReadBytes int64) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent:    userAgent,
		maxReadBytes: maxReadBytes,
	}
}

// Check performs one probe of target. If limiter is non-nil it is waited
// on first, as a secondary, opt-in ceiling on top of the scheduler's
// per-owner revisit interval; it never gates dispatch itself.
func (f *Fetcher) Check(ctx context.Context, target string, limiter *rate.Limiter) Outcome {
	now := time.Now()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Outcome{Time: now, ReturnCode: -1, Detail: err.Error()}
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return Outcome{Time: now, ReturnCode: -1, Detail: err.Error()}
	}
	client := *f.client
	client.Jar = jar

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Outcome{Time: now, ReturnCode: -1, Detail: err.Error()}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := client.Do(req)
	if err != nil {
		detail := err.Error()
		if IsTimeout(err) {
			detail = "timeout"
		}
		return Outcome{Time: now, ReturnCode: -1, Detail: detail}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxReadBytes))
	contentType := resp.Header.Get("Content-Type")

	if readErr != nil {
		if looksLikeCompleteHTML(body, contentType) {
			return Outcome{Time: now, ReturnCode: http.StatusOK, Detail: contentType, Success: true, Body: body}
		}
		return Outcome{Time: now, ReturnCode: -1, Detail: readErr.Error(), Body: body}
	}

	if isSuccessStatus(resp.StatusCode) {
		return Outcome{Time: now, ReturnCode: resp.StatusCode, Detail: contentType, Success: true, Body: body}
	}
	return Outcome{Time: now, ReturnCode: resp.StatusCode, Detail: contentType, Body: body}
}

func isSuccessStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		return false
	}
}

// looksLikeCompleteHTML implements spec's truncated-read heuristic: a
// server that closed the connection after delivering a complete HTML
// document, without a clean read termination, is reclassified as success.
// Whitespace is tolerated both after the closing tag and inside it (some
// servers emit "</HTML >").
func looksLikeCompleteHTML(body []byte, contentType string) bool {
	if len(body) == 0 {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		return false
	}
	trimmed := strings.ToLower(strings.TrimRight(string(body), " \t\r\n"))
	if !strings.HasSuffix(trimmed, ">") {
		return false
	}
	trimmed = strings.TrimRight(strings.TrimSuffix(trimmed, ">"), " \t\r\n")
	return strings.HasSuffix(trimmed, "</html")
}

// IsTimeout reports whether err represents a per-fetch deadline exceeded.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
