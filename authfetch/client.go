// Package authfetch wraps plain HTTP requests with bearer-token injection and
// transparent session renewal. A request that comes back 401 triggers one
// refresh exchange (joining an in-flight one if present) and one retry with
// the renewed token; every other status passes through untouched. Callers
// never see the recovery, only its outcome.
package authfetch

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/styletry/go-session/notify"
	"github.com/styletry/go-session/session"
	"github.com/styletry/go-session/token/refresh"
)

// Client issues authenticated requests on behalf of the rest of the app.
type Client struct {
	httpClient *http.Client
	sessions   *session.Manager
	refresher  *refresh.Refresher
	notifier   notify.Notifier
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithNotifier sets the notifier informed when the session expires.
func WithNotifier(notifier notify.Notifier) Option {
	return func(c *Client) {
		c.notifier = notifier
	}
}

// New creates an authenticated-fetch client over the given session state and
// refresh procedure.
func New(sessions *session.Manager, refresher *refresh.Refresher, options ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		sessions:   sessions,
		refresher:  refresher,
		notifier:   notify.LogNotifier{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Fetch builds and issues an authenticated request. Bodies built from
// bytes/strings readers are replayable, which the 401 retry requires.
func (c *Client) Fetch(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Fetch] build request")
	}
	return c.Do(req)
}

// Do issues req with the current access token attached. On a 401 it runs the
// refresh procedure and retries the original request exactly once with the
// renewed token; whatever that retry returns, including another 401, goes
// back to the caller as-is. A terminal refresh failure forces a logout and
// returns *SessionExpiredError.
//
// The request is cloned before headers are touched; bodies are replayed
// through GetBody. req must not be reused concurrently by the caller.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	token := c.sessions.CurrentAccessToken()
	if token == "" {
		// Cold-start fallback: memory may not have been populated yet.
		token = c.sessions.StoredAccessToken()
	}

	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	drain(resp)
	log.Debug().Str("url", req.URL.String()).Msg("access token rejected, refreshing")

	renewed, err := c.refresher.Refresh(req.Context())
	if err != nil {
		// A cancelled or timed-out caller says nothing about the session:
		// the shared exchange may still be running and may well succeed for
		// everyone else. Only a refresh that actually failed is terminal.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.sessions.Logout()
		c.notifier.SessionExpired(err)
		return nil, &SessionExpiredError{Cause: err}
	}

	// The renewed token comes from the completed exchange itself, never from
	// state captured before the refresh ran.
	return c.send(req, renewed)
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[Client.send] replay request body")
		}
		clone.Body = body
	}
	if token != "" {
		clone.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(clone)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.send] request failed")
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
