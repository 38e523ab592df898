// Package credstore defines the durable credential storage contract for the
// session core. Implementations persist three logical keys (access token,
// user-profile blob, refresh token) with at-rest protection. The store holds
// no logic and makes no retry decisions; callers own failure policy.
package credstore

import "fmt"

// Logical keys used by the session layer. The values match the secure-store
// keys used by the mobile client so an existing keystore migrates cleanly.
const (
	AccessTokenKey  = "accessToken"
	UserProfileKey  = "userInfo"
	RefreshTokenKey = "refreshToken"
)

// Store is the durable credential store. Get returns ("", nil) for an absent
// key; errors are reserved for underlying device-storage failures (full disk,
// keystore denial) and are always *StorageError.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// StorageError reports a failure of the underlying device storage.
type StorageError struct {
	Op    string // "get", "set", "delete"
	Key   string
	Cause error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("credential store %s %q", e.Op, e.Key)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError wraps cause in a *StorageError for op/key.
func NewStorageError(op, key string, cause error) *StorageError {
	return &StorageError{Op: op, Key: key, Cause: cause}
}
