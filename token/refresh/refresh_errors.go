package refresh

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken means no refresh token exists in the store: the session
// cannot be renewed and the caller must treat it as expired.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ProviderError is a refresh rejection by the identity provider. Any token
// response carrying a non-empty "error" field produces one, whatever the HTTP
// status was. It is always terminal.
type ProviderError struct {
	Code        string // the provider's "error" field, e.g. "invalid_grant"
	Description string // the provider's "error_description" field, may be empty
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token refresh rejected: %s", e.Code)
	}
	return fmt.Sprintf("token refresh rejected: %s (%s)", e.Code, e.Description)
}
