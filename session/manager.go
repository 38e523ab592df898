// Package session owns the in-memory representation of "currently
// authenticated". The Manager is the sole writer of the credential store's
// session keys: Login, Logout and ApplyRefresh mutate it, everything else is
// read-only. While the process is alive, memory is the source of truth and
// the store is a durable write-through mirror.
package session

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/styletry/go-session/credstore"
)

// Manager holds the current session and mediates all credential store writes.
type Manager struct {
	store credstore.Store

	lock         sync.RWMutex
	accessToken  string
	refreshToken string
	profile      *UserProfile
	loading      bool
}

// New creates a Manager over the given store. The session starts in the
// loading state until Load has run.
func New(store credstore.Store) *Manager {
	return &Manager{
		store:   store,
		loading: true,
	}
}

// Load restores the session from the credential store at process start. It
// never fails: a storage read error or a missing access token both yield an
// unauthenticated session. A refresh token without an access token is kept in
// the store but does not count as logged in; the first authenticated request
// will reacquire an access token through the refresh path.
func (m *Manager) Load() {
	m.lock.Lock()
	defer m.lock.Unlock()
	defer func() { m.loading = false }()

	accessToken, err := m.store.Get(credstore.AccessTokenKey)
	if err != nil {
		log.Warn().Err(err).Msg("session load degraded to unauthenticated")
		return
	}
	if accessToken == "" {
		return
	}

	m.accessToken = accessToken

	if refreshToken, err := m.store.Get(credstore.RefreshTokenKey); err == nil {
		m.refreshToken = refreshToken
	}

	profileJSON, err := m.store.Get(credstore.UserProfileKey)
	if err != nil || profileJSON == "" {
		return
	}
	var profile UserProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		log.Warn().Err(err).Msg("stored profile unreadable, continuing without it")
		return
	}
	m.profile = &profile
}

// Login persists the session triple and then updates memory, in that order, so
// a crash mid-write can never leave memory claiming a login the store does not
// hold. An empty refreshToken means the provider issued none: the stored one
// is deleted rather than kept, last login wins in full.
func (m *Manager) Login(accessToken string, profile *UserProfile, refreshToken string) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, "[Manager.Login] marshal profile")
	}

	if err := m.store.Set(credstore.AccessTokenKey, accessToken); err != nil {
		return errors.Wrap(err, "[Manager.Login] persist access token")
	}
	if err := m.store.Set(credstore.UserProfileKey, string(profileJSON)); err != nil {
		return errors.Wrap(err, "[Manager.Login] persist profile")
	}
	if refreshToken != "" {
		if err := m.store.Set(credstore.RefreshTokenKey, refreshToken); err != nil {
			return errors.Wrap(err, "[Manager.Login] persist refresh token")
		}
	} else if err := m.store.Delete(credstore.RefreshTokenKey); err != nil {
		return errors.Wrap(err, "[Manager.Login] clear stale refresh token")
	}

	m.lock.Lock()
	m.accessToken = accessToken
	m.refreshToken = refreshToken
	m.profile = profile
	m.lock.Unlock()

	log.Debug().Str("email", emailOf(profile)).Msg("session established")
	return nil
}

// ApplyRefresh installs a refreshed token pair, store first, memory second.
// The profile is untouched. An empty refreshToken means the provider did not
// rotate it, so the stored one stays valid and is kept.
func (m *Manager) ApplyRefresh(accessToken, refreshToken string) error {
	if err := m.store.Set(credstore.AccessTokenKey, accessToken); err != nil {
		return errors.Wrap(err, "[Manager.ApplyRefresh] persist access token")
	}
	if refreshToken != "" {
		if err := m.store.Set(credstore.RefreshTokenKey, refreshToken); err != nil {
			return errors.Wrap(err, "[Manager.ApplyRefresh] persist refresh token")
		}
	}

	m.lock.Lock()
	m.accessToken = accessToken
	if refreshToken != "" {
		m.refreshToken = refreshToken
	}
	m.lock.Unlock()
	return nil
}

// Logout clears the store and memory. It is idempotent and never fails: the
// user-visible goal is a logged-out UI, which clearing memory achieves even
// when the store refuses the deletes.
func (m *Manager) Logout() {
	for _, key := range []string{credstore.AccessTokenKey, credstore.UserProfileKey, credstore.RefreshTokenKey} {
		if err := m.store.Delete(key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("logout could not clear stored credential")
		}
	}

	m.lock.Lock()
	m.accessToken = ""
	m.refreshToken = ""
	m.profile = nil
	m.lock.Unlock()
}

// CurrentAccessToken returns the in-memory access token, empty when logged out.
func (m *Manager) CurrentAccessToken() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.accessToken
}

// CurrentProfile returns the in-memory profile snapshot, nil when logged out.
func (m *Manager) CurrentProfile() *UserProfile {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.profile
}

// IsLoading reports whether the initial store read is still pending.
func (m *Manager) IsLoading() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.loading
}

// CurrentRefreshToken returns the refresh token from memory, falling back to
// one store read. Only the refresh procedure should consume it.
func (m *Manager) CurrentRefreshToken() string {
	m.lock.RLock()
	token := m.refreshToken
	m.lock.RUnlock()
	if token != "" {
		return token
	}
	stored, err := m.store.Get(credstore.RefreshTokenKey)
	if err != nil {
		return ""
	}
	return stored
}

// StoredAccessToken reads the access token straight from the store. Used as a
// cold-start fallback when memory has not been populated yet.
func (m *Manager) StoredAccessToken() string {
	token, err := m.store.Get(credstore.AccessTokenKey)
	if err != nil {
		return ""
	}
	return token
}

func emailOf(profile *UserProfile) string {
	if profile == nil {
		return ""
	}
	return profile.Email
}
