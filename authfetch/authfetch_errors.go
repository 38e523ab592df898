package authfetch

import "errors"

// SessionExpiredError is returned when a request hit a 401 and the session
// could not be renewed. It is distinct from any HTTP response error so callers
// can route the user to the login screen instead of showing a generic failure.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause == nil {
		return "session expired"
	}
	return "session expired: " + e.Cause.Error()
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Cause
}

// IsSessionExpired reports whether err is (or wraps) a SessionExpiredError.
func IsSessionExpired(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
