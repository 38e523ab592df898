// Package backend is the client for the StyleTry users backend: the
// backend-brokered login exchange plus the authenticated account operations
// (sync, balance, purchases, deletion). Everything authenticated goes through
// authfetch, making this package the session core's first consumer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/styletry/go-session/authfetch"
	"github.com/styletry/go-session/internal/config"
	"github.com/styletry/go-session/internal/utils"
	"github.com/styletry/go-session/session"
)

// Client talks to the users backend.
type Client struct {
	baseURL    string
	sessions   *session.Manager
	fetch      *authfetch.Client
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for the unauthenticated login call.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a users-backend client.
func New(cfg config.EnvConfig, sessions *session.Manager, fetch *authfetch.Client, options ...Option) *Client {
	c := &Client{
		baseURL:    cfg.GetUsersBaseURL(),
		sessions:   sessions,
		fetch:      fetch,
		httpClient: http.DefaultClient,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// loginResponse is the backend's brokered token exchange result. The backend
// has already exchanged credentials with the identity provider and synced the
// user, so the tokens arrive ready to store.
type loginResponse struct {
	AccessToken  *string `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
	IDToken      *string `json:"id_token"`
}

// Login performs the backend-brokered credential exchange and establishes the
// session. The profile snapshot comes from the brokered ID token's claims;
// the backend validated the token, so the claims are read without verifying
// the signature again.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return errors.Wrap(err, "[Client.Login] marshal credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "[Client.Login] build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Client.Login] backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("[Client.Login] backend returned %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return errors.Wrap(err, "[Client.Login] decode response")
	}
	if utils.Value(lr.AccessToken) == "" {
		return errors.New("[Client.Login] backend returned no access token")
	}

	profile, err := profileFromIDToken(utils.Value(lr.IDToken))
	if err != nil {
		return errors.Wrap(err, "[Client.Login] profile")
	}

	if err := c.sessions.Login(utils.Value(lr.AccessToken), profile, utils.Value(lr.RefreshToken)); err != nil {
		return errors.Wrap(err, "[Client.Login] establish session")
	}

	log.Info().Str("email", email).Msg("logged in via backend")
	return nil
}

// Balance is the user's generation-credit balance.
type Balance struct {
	Credits int `json:"credits"`
}

// Balance fetches the current credit balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var balance Balance
	if err := c.getJSON(ctx, "/user-balance", &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// PurchaseRequest submits an in-app purchase receipt for crediting.
type PurchaseRequest struct {
	PackageID string `json:"packageId"`
	Receipt   string `json:"receipt"`
}

// Purchase redeems a purchase and returns the updated balance.
func (c *Client) Purchase(ctx context.Context, purchase PurchaseRequest) (*Balance, error) {
	body, err := json.Marshal(purchase)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Purchase] marshal")
	}

	resp, err := c.fetch.Fetch(ctx, http.MethodPost, c.baseURL+"/purchase", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[Client.Purchase] backend returned %d", resp.StatusCode)
	}

	var balance Balance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, errors.Wrap(err, "[Client.Purchase] decode response")
	}
	return &balance, nil
}

// SyncUser tells the backend to (re)create its user record for the session.
func (c *Client) SyncUser(ctx context.Context) error {
	return c.post(ctx, "/sync-user")
}

// DeleteAccount removes the user's account server-side. The caller decides
// whether to log out afterwards.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.post(ctx, "/delete-user")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.fetch.Fetch(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("[Client.getJSON] %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[Client.getJSON] decode %s", path)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	resp, err := c.fetch.Fetch(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("[Client.post] %s returned %d", path, resp.StatusCode)
	}
	return nil
}

// profileFromIDToken extracts the display claims from an already-validated ID
// token. A missing token yields an empty profile rather than an error: the
// backend may omit it for service accounts.
func profileFromIDToken(rawToken string) (*session.UserProfile, error) {
	if rawToken == "" {
		return &session.UserProfile{}, nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "parse id token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims from id token")
	}

	profile := session.ProfileFromClaims(map[string]any(claims))
	return &profile, nil
}
