// Package objectfetch implements the streaming HTTP requester that pulls
// loose objects and packfiles from the remote object service, with
// retry/backoff and per-attempt trace events. Requests are rate-limited
// via golang.org/x/time/rate, and every attempt is timed and reported
// through a trace hook.
package objectfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/gitvfs/gitvfs/internal/authclient"
	"github.com/gitvfs/gitvfs/internal/gitvfserr"
)

// TraceSink receives one event per HTTP attempt: attempt number, bytes
// received, elapsed time, and the attempt's error if any. Declared
// locally, like projection.JournalView, so this package doesn't need to
// import the trace sink's package.
type TraceSink interface {
	ObjectFetchAttempt(op string, attempt int, bytesReceived int64, elapsed time.Duration, err error)
}

type noopSink struct{}

func (noopSink) ObjectFetchAttempt(string, int, int64, time.Duration, error) {}

// ServerConfig is the decoded body of GET /gvfs/config.
type ServerConfig struct {
	ClientVersionMin string   `json:"minimumClientVersion"`
	CacheServers     []string `json:"cacheServers"`
	ObjectsEndpoint  string   `json:"objectsEndpoint"`
}

// Options configures a Requester; zero values fall back to sane
// defaults.
type Options struct {
	MaxAttempts int           // default 5
	RateLimit   rate.Limit    // requests/sec, default unlimited-ish (50/s)
	Burst       int           // default 50
	Sink        TraceSink     // default a no-op sink
	Now         func() time.Time
}

// Requester issues requests against one object service base URL.
type Requester struct {
	baseURL     string
	auth        *authclient.Client
	limiter     *rate.Limiter
	maxAttempts int
	sink        TraceSink
	now         func() time.Time
}

// New returns a Requester for baseURL (the repo's cache-server or origin
// object endpoint), authenticating via auth.
func New(baseURL string, auth *authclient.Client, opts Options) *Requester {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = rate.Limit(50)
	}
	if opts.Burst == 0 {
		opts.Burst = 50
	}
	if opts.Sink == nil {
		opts.Sink = noopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Requester{
		baseURL:     baseURL,
		auth:        auth,
		limiter:     rate.NewLimiter(opts.RateLimit, opts.Burst),
		maxAttempts: opts.MaxAttempts,
		sink:        opts.Sink,
		now:         opts.Now,
	}
}

// GetObject fetches a single loose object's raw (zlib-deflated) bytes
// via GET /gvfs/objects/{oid}.
func (r *Requester) GetObject(ctx context.Context, oid string) ([]byte, error) {
	url := fmt.Sprintf("%s/gvfs/objects/%s", r.baseURL, oid)
	return r.doWithRetry(ctx, "GetObject", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		return r.auth.Do(ctx, req, r.baseURL)
	})
}

// batchRequest is the JSON body of POST /gvfs/objects.
type batchRequest struct {
	Commits        []string `json:"commits"`
	AllowPackFiles bool     `json:"allowPackFiles"`
}

// FetchPack requests a packfile stream covering commits via POST
// /gvfs/objects. The caller is responsible for writing the returned
// bytes to a `.pack` file and opening it through objstore.
func (r *Requester) FetchPack(ctx context.Context, commits []string, allowPackFiles bool) ([]byte, error) {
	url := fmt.Sprintf("%s/gvfs/objects", r.baseURL)
	body, err := json.Marshal(batchRequest{Commits: commits, AllowPackFiles: allowPackFiles})
	if err != nil {
		return nil, fmt.Errorf("objectfetch: marshal batch request: %w", err)
	}
	return r.doWithRetry(ctx, "FetchPack", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return r.auth.Do(ctx, req, r.baseURL)
	})
}

// GetConfig fetches the server's capability document.
func (r *Requester) GetConfig(ctx context.Context) (ServerConfig, error) {
	url := fmt.Sprintf("%s/gvfs/config", r.baseURL)
	raw, err := r.doWithRetry(ctx, "GetConfig", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		return r.auth.Do(ctx, req, r.baseURL)
	})
	if err != nil {
		return ServerConfig{}, err
	}
	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ServerConfig{}, gitvfserr.New(gitvfserr.Corruption, "objectfetch.GetConfig", err)
	}
	return cfg, nil
}

// doWithRetry runs issue in a loop up to maxAttempts times, waiting on
// the rate limiter before each attempt, retrying on transient network
// errors and 5xx with exponential backoff + jitter, and emitting one
// trace event per attempt.
func (r *Requester) doWithRetry(ctx context.Context, op string, issue func(context.Context) (*http.Response, error)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, gitvfserr.New(gitvfserr.Transient, op, err)
		}

		start := r.now()
		attemptCtx := authclient.WithAttemptObserver(ctx, func(statusCode int, authErr error) {
			// authclient.Do swallows its own internal 401/credential-
			// refresh retry; without this hook that discarded round
			// trip would never appear in per-attempt telemetry (the
			// final outcome below is still reported as attempt,
			// matching the outer retry-loop's own numbering).
			r.sink.ObjectFetchAttempt(op, attempt, 0, r.now().Sub(start), authErr)
		})
		resp, err := issue(attemptCtx)
		if err != nil {
			elapsed := r.now().Sub(start)
			r.sink.ObjectFetchAttempt(op, attempt, 0, elapsed, err)
			lastErr = err
			if !isRetryableTransportError(err) {
				return nil, gitvfserr.New(classifyErr(err), op, err)
			}
			r.backoff(ctx, attempt)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		elapsed := r.now().Sub(start)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			r.sink.ObjectFetchAttempt(op, attempt, int64(len(body)), elapsed, nil)
			return body, nil
		}

		attemptErr := fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
		r.sink.ObjectFetchAttempt(op, attempt, int64(len(body)), elapsed, attemptErr)
		lastErr = attemptErr

		if readErr != nil {
			lastErr = fmt.Errorf("%s: read body: %w", op, readErr)
		}

		if resp.StatusCode < 500 {
			return nil, gitvfserr.New(gitvfserr.External, op, lastErr)
		}
		r.backoff(ctx, attempt)
	}
	return nil, gitvfserr.New(gitvfserr.Transient, op, fmt.Errorf("%s: exhausted %d attempts: %w", op, r.maxAttempts, lastErr))
}

// backoff sleeps an exponentially growing, jittered delay between
// retries, or returns immediately if ctx is done first.
func (r *Requester) backoff(ctx context.Context, attempt int) {
	base := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	delay := base + jitter

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func isRetryableTransportError(err error) bool {
	// A non-nil error from http.Client.Do (as opposed to a non-2xx
	// status) is always a transport-level failure: DNS, connection
	// refused, TLS handshake, or context cancellation — retryable
	// except when it's the auth client's own Auth-kind error.
	return gitvfserr.KindOf(err) != gitvfserr.Auth
}

func classifyErr(err error) gitvfserr.Kind {
	if gitvfserr.KindOf(err) == gitvfserr.Auth {
		return gitvfserr.Auth
	}
	return gitvfserr.Transient
}
