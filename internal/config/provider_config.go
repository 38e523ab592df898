package config

import (
	"fmt"
	"time"
)

// ProviderConfig describes the identity provider the session core talks to.
type ProviderConfig interface {
	GetAuthDomain() string
	GetClientID() string
	GetTokenEndpoint() string
	GetRedirectURL() string
	GetHTTPTimeout() time.Duration
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetAuthDomain() string {
	return GetEnv("AUTH_DOMAIN", "styletry.us.auth0.com")
}

func (Provider) GetClientID() string {
	return GetEnv("AUTH_CLIENT_ID", "")
}

func (p Provider) GetTokenEndpoint() string {
	return fmt.Sprintf("https://%s/oauth/token", p.GetAuthDomain())
}

// GetRedirectURL is the loopback redirect used by the interactive login flow.
func (Provider) GetRedirectURL() string {
	return GetEnv("AUTH_REDIRECT_URL", "http://127.0.0.1:8790/callback")
}

func (Provider) GetHTTPTimeout() time.Duration {
	return 30 * time.Second
}
