// Package refresh exchanges a stored refresh token for a new access/refresh
// pair against the identity provider's token endpoint. It is the only piece
// of OAuth wire protocol in the client.
//
// At most one exchange is ever in flight. Providers rotate refresh tokens on
// use and invalidate the previous one, so two concurrent exchanges would race
// to spend the same token and one would spuriously fail. Callers hitting a
// 401 while a refresh is already running join that flight and share its
// outcome.
package refresh

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/styletry/go-session/internal/config"
	"github.com/styletry/go-session/session"
)

// State of the refresh procedure, observable for diagnostics and tests.
type State int

const (
	StateIdle State = iota
	StateRefreshing
	StateFailedTerminal
)

const maxResponseBytes = 1 << 20

// Refresher runs the refresh-token grant with a single-flight guard.
type Refresher struct {
	sessions   *session.Manager
	tokenURL   string
	clientID   string
	httpClient *http.Client

	lock     sync.Mutex
	inflight *flight
	state    State
}

// flight is one in-progress exchange, shared by every caller that joins it.
type flight struct {
	done        chan struct{}
	accessToken string
	err         error
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithHTTPClient overrides the HTTP client used for the token endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Refresher) {
		r.httpClient = client
	}
}

// New creates a Refresher bound to the provider described by cfg.
func New(sessions *session.Manager, cfg config.ProviderConfig, options ...Option) *Refresher {
	r := &Refresher{
		sessions:   sessions,
		tokenURL:   cfg.GetTokenEndpoint(),
		clientID:   cfg.GetClientID(),
		httpClient: &http.Client{Timeout: cfg.GetHTTPTimeout()},
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// State returns the current procedure state.
func (r *Refresher) State() State {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state
}

// Refresh obtains a fresh access token. If an exchange is already in flight
// the call joins it and returns its outcome; otherwise it starts one. The
// returned token has been persisted before Refresh returns, so a retry issued
// with it can never race the write.
//
// Any error is terminal for the session: missing refresh token, provider
// rejection, unreachable endpoint and failed persistence all mean the caller
// must treat the session as expired.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.lock.Lock()
	if f := r.inflight; f != nil {
		r.lock.Unlock()
		select {
		case <-f.done:
			return f.accessToken, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	r.inflight = f
	r.state = StateRefreshing
	r.lock.Unlock()

	f.accessToken, f.err = r.exchange(ctx)

	r.lock.Lock()
	r.inflight = nil
	if f.err != nil {
		r.state = StateFailedTerminal
	} else {
		r.state = StateIdle
	}
	r.lock.Unlock()
	close(f.done)

	return f.accessToken, f.err
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r *Refresher) exchange(ctx context.Context) (string, error) {
	refreshToken := r.sessions.CurrentRefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {r.clientID},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "[Refresher.exchange] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	started := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "[Refresher.exchange] token endpoint unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errors.Wrap(err, "[Refresher.exchange] read response")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", errors.Wrapf(err, "[Refresher.exchange] malformed token response (status %d)", resp.StatusCode)
	}

	// The provider signals rejection through the error field, not the HTTP
	// status. Auth0 in particular returns errors with a 200 on some paths.
	if tr.Error != "" {
		return "", &ProviderError{Code: tr.Error, Description: tr.ErrorDescription}
	}
	if tr.AccessToken == "" {
		return "", &ProviderError{Code: "invalid_response", Description: "token response carried no access token"}
	}

	if err := r.sessions.ApplyRefresh(tr.AccessToken, tr.RefreshToken); err != nil {
		return "", errors.Wrap(err, "[Refresher.exchange] persist refreshed tokens")
	}

	log.Debug().
		Dur("elapsed", time.Since(started)).
		Bool("rotated", tr.RefreshToken != "").
		Msg("access token refreshed")

	return tr.AccessToken, nil
}
