// Package login runs the interactive identity-provider exchange that creates
// a session in the first place: OIDC discovery, an authorization-code URL
// with PKCE, and the code-for-tokens exchange with ID-token verification.
// Its Result feeds session.Manager.Login; nothing here touches storage.
package login

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/styletry/go-session/internal/config"
	"github.com/styletry/go-session/session"
	"golang.org/x/oauth2"
)

var (
	ErrStateMismatch = errors.New("authorization state mismatch")
	ErrNonceMismatch = errors.New("id token nonce mismatch")
)

// Result is the outcome of a completed provider exchange: the token pair and
// the profile snapshot taken from the verified ID token.
type Result struct {
	AccessToken  string
	RefreshToken string
	Profile      *session.UserProfile
}

// Authenticator drives one authorization-code + PKCE login. Each login
// attempt gets its own Authenticator: state, nonce and code verifier are
// single-use.
type Authenticator struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
	state    string
	nonce    string
	pkce     string
}

// New discovers the provider's endpoints and prepares a single login attempt.
func New(ctx context.Context, cfg config.ProviderConfig) (*Authenticator, error) {
	return NewForIssuer(ctx, cfg, "https://"+cfg.GetAuthDomain()+"/")
}

// NewForIssuer is New with an explicit issuer URL.
func NewForIssuer(ctx context.Context, cfg config.ProviderConfig, issuer string) (*Authenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[login.New] provider discovery")
	}

	return &Authenticator{
		oauth: oauth2.Config{
			ClientID:    cfg.GetClientID(),
			Endpoint:    provider.Endpoint(),
			RedirectURL: cfg.GetRedirectURL(),
			Scopes:      []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.GetClientID()}),
		state:    uuid.New().String(),
		nonce:    uuid.New().String(),
		pkce:     oauth2.GenerateVerifier(),
	}, nil
}

// AuthCodeURL returns the URL to open in the user's browser.
func (a *Authenticator) AuthCodeURL() string {
	return a.oauth.AuthCodeURL(
		a.state,
		oauth2.S256ChallengeOption(a.pkce),
		oauth2.SetAuthURLParam("nonce", a.nonce),
	)
}

// State returns the expected callback state parameter.
func (a *Authenticator) State() string {
	return a.state
}

// Exchange trades the authorization code for tokens, verifies the ID token
// and extracts the profile snapshot.
func (a *Authenticator) Exchange(ctx context.Context, code, state string) (*Result, error) {
	if state != a.state {
		return nil, ErrStateMismatch
	}

	token, err := a.oauth.Exchange(ctx, code, oauth2.VerifierOption(a.pkce))
	if err != nil {
		return nil, errors.Wrap(err, "[Authenticator.Exchange] code exchange")
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, errors.New("[Authenticator.Exchange] token response carried no id token")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Authenticator.Exchange] id token verification")
	}
	if idToken.Nonce != a.nonce {
		return nil, ErrNonceMismatch
	}

	claims := make(map[string]any)
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Authenticator.Exchange] id token claims")
	}

	profile := session.ProfileFromClaims(claims)
	return &Result{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Profile:      &profile,
	}, nil
}
