// Package authclient wraps the credential-helper-backed HTTP client used
// to reach the remote object service. Credentials are cached per repo
// URL and revoked-and-refreshed once on a 401.
package authclient

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	"github.com/gitvfs/gitvfs/internal/gitvfserr"
)

const (
	maxRedirects = 5
	userAgentFmt = "GVFS/%s"
)

// attemptObserverKey is the context key WithAttemptObserver stores its
// callback under.
type attemptObserverKey struct{}

// WithAttemptObserver returns a context that makes Do report to fn the
// initial 401 response that triggers its internal credential-refresh
// retry — a round trip Do otherwise discards and retries transparently,
// so a caller that only sees Do's final return value would undercount
// attempts against what its own per-attempt telemetry expects (§4.C
// requires one trace event per HTTP attempt, including the 401 that
// triggered the refresh). Do's eventual return value (success or
// second-401 failure) is still reported by the caller as usual.
func WithAttemptObserver(ctx context.Context, fn func(statusCode int, err error)) context.Context {
	return context.WithValue(ctx, attemptObserverKey{}, fn)
}

func attemptObserverFrom(ctx context.Context) func(statusCode int, err error) {
	fn, _ := ctx.Value(attemptObserverKey{}).(func(int, error))
	return fn
}

// Credential is a username/password pair as returned by the external
// credential helper.
type Credential struct {
	Username string
	Password string
}

// Helper invokes an external credential helper process. The real
// implementation shells out to `git credential fill`/`git credential
// reject`; it's a distinct type so tests can substitute an in-memory
// fake without any subprocess.
type Helper interface {
	Fill(ctx context.Context, repoURL string) (Credential, error)
	Reject(ctx context.Context, repoURL string, cred Credential) error
}

// ExecHelper shells out to `git credential` — credential helper
// invocation is the one place the core still has to talk to an external
// process for auth material.
type ExecHelper struct{}

func (ExecHelper) Fill(ctx context.Context, repoURL string) (Credential, error) {
	cmd := exec.CommandContext(ctx, "git", "credential", "fill")
	cmd.Stdin = strings.NewReader(fmt.Sprintf("url=%s\n\n", repoURL))
	out, err := cmd.Output()
	if err != nil {
		return Credential{}, gitvfserr.New(gitvfserr.External, "credential fill", err)
	}
	return parseCredentialOutput(out)
}

func (ExecHelper) Reject(ctx context.Context, repoURL string, cred Credential) error {
	cmd := exec.CommandContext(ctx, "git", "credential", "reject")
	cmd.Stdin = strings.NewReader(fmt.Sprintf("url=%s\nusername=%s\npassword=%s\n\n", repoURL, cred.Username, cred.Password))
	if err := cmd.Run(); err != nil {
		return gitvfserr.New(gitvfserr.External, "credential reject", err)
	}
	return nil
}

func parseCredentialOutput(out []byte) (Credential, error) {
	var cred Credential
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "username":
			cred.Username = v
		case "password":
			cred.Password = v
		}
	}
	if cred.Username == "" && cred.Password == "" {
		return cred, fmt.Errorf("authclient: credential helper returned no username/password")
	}
	return cred, nil
}

// Client is an HTTP client that attaches Basic auth from the credential
// helper, revokes and refreshes exactly once on a 401 — a second 401
// after that refresh is an Auth fatal, not an infinite retry loop — and
// enforces TLS + a bounded redirect count.
type Client struct {
	helper  Helper
	version string

	http *http.Client

	mu    sync.Mutex
	cache map[string]Credential
}

// New returns a Client that authenticates via helper and stamps requests
// with a "GVFS/<version>" user agent.
func New(helper Helper, version string) *Client {
	c := &Client{
		helper:  helper,
		version: version,
		cache:   make(map[string]Credential),
	}
	c.http = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("authclient: stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return c
}

// SetHTTPClientForTest overrides the underlying http.Client so tests can
// point it at an httptest server.
func (c *Client) SetHTTPClientForTest(hc *http.Client) {
	c.http = hc
}

// Do issues req against repoURL's cached credential, revoking and
// retrying once on a 401. The caller supplies repoURL since a single
// Client may serve requests to more than one cache server.
func (c *Client) Do(ctx context.Context, req *http.Request, repoURL string) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, gitvfserr.New(gitvfserr.Fatal, "authclient.Do", fmt.Errorf("TLS is mandatory: got scheme %q", req.URL.Scheme))
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgentFmt, c.version))

	cred, err := c.credentialFor(ctx, repoURL)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(cred.Username, cred.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, gitvfserr.New(gitvfserr.Transient, "authclient.Do", err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	// This first response is discarded and replaced by the retry below,
	// so it would otherwise vanish from a caller's per-attempt telemetry
	// entirely — report it to the observer before refreshing and retrying.
	if observe := attemptObserverFrom(ctx); observe != nil {
		observe(resp.StatusCode, fmt.Errorf("authclient.Do: 401, refreshing credentials"))
	}
	resp.Body.Close()

	// One refresh per original request: revoke the cached credential,
	// fetch a fresh one, and retry exactly once.
	if err := c.helper.Reject(ctx, repoURL, cred); err != nil {
		return nil, gitvfserr.New(gitvfserr.Auth, "authclient.Do: revoke", err)
	}
	c.mu.Lock()
	delete(c.cache, repoURL)
	c.mu.Unlock()

	cred, err = c.credentialFor(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		// req.Body was already drained by the first c.http.Do; Clone
		// only copies that spent reference, so the retry must rebuild
		// the body from GetBody or a POST (e.g. FetchPack's batch
		// request) would retry with an empty one.
		body, err := req.GetBody()
		if err != nil {
			return nil, gitvfserr.New(gitvfserr.Transient, "authclient.Do: retry", err)
		}
		retry.Body = body
	}
	retry.SetBasicAuth(cred.Username, cred.Password)
	resp, err = c.http.Do(retry)
	if err != nil {
		return nil, gitvfserr.New(gitvfserr.Transient, "authclient.Do: retry", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, gitvfserr.New(gitvfserr.Auth, "authclient.Do", fmt.Errorf("second 401 for %s after credential refresh", repoURL))
	}
	return resp, nil
}

func (c *Client) credentialFor(ctx context.Context, repoURL string) (Credential, error) {
	c.mu.Lock()
	cred, ok := c.cache[repoURL]
	c.mu.Unlock()
	if ok {
		return cred, nil
	}

	cred, err := c.helper.Fill(ctx, repoURL)
	if err != nil {
		return Credential{}, gitvfserr.New(gitvfserr.Auth, "authclient.credentialFor", err)
	}
	c.mu.Lock()
	c.cache[repoURL] = cred
	c.mu.Unlock()
	return cred, nil
}
