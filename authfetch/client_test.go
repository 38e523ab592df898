package authfetch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/styletry/go-session/authfetch"
	"github.com/styletry/go-session/credstore"
	"github.com/styletry/go-session/credstore/storefakes"
	"github.com/styletry/go-session/notify"
	"github.com/styletry/go-session/session"
	"github.com/styletry/go-session/token/refresh"
	"github.com/stretchr/testify/require"
)

type testProvider struct {
	endpoint string
}

func (testProvider) GetAuthDomain() string         { return "test.auth.local" }
func (testProvider) GetClientID() string           { return "test-client" }
func (p testProvider) GetTokenEndpoint() string    { return p.endpoint }
func (testProvider) GetRedirectURL() string        { return "" }
func (testProvider) GetHTTPTimeout() time.Duration { return 5 * time.Second }

// testFixture wires a logged-in session, a mock token endpoint and an
// authfetch client together.
type testFixture struct {
	store          *storefakes.FakeStore
	sessions       *session.Manager
	client         *authfetch.Client
	tokenCalls     *int32
	expiredNotices *int32
}

// setupTestFixture seeds the store with {access A1, refresh R1} and points the
// refresher at a token endpoint answering with tokenResponse.
func setupTestFixture(t *testing.T, tokenResponse string) *testFixture {
	t.Helper()

	store := storefakes.NewFakeStore()
	store.Seed(credstore.AccessTokenKey, "A1")
	store.Seed(credstore.RefreshTokenKey, "R1")

	sessions := session.New(store)
	sessions.Load()

	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "R1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenResponse))
	}))
	t.Cleanup(tokenSrv.Close)

	var expiredNotices int32
	notifier := notify.NotifierFunc(func(error) {
		atomic.AddInt32(&expiredNotices, 1)
	})

	refresher := refresh.New(sessions, testProvider{endpoint: tokenSrv.URL})
	client := authfetch.New(sessions, refresher, authfetch.WithNotifier(notifier))

	return &testFixture{
		store:          store,
		sessions:       sessions,
		client:         client,
		tokenCalls:     &tokenCalls,
		expiredNotices: &expiredNotices,
	}
}

// bearerOf extracts the token from an Authorization header.
func bearerOf(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func TestClient_RefreshesOn401AndRetriesOnce(t *testing.T) {
	f := setupTestFixture(t, `{"access_token":"A2"}`)

	var bearers []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearers = append(bearers, bearerOf(r))
		if bearerOf(r) != "A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer api.Close()

	resp, err := f.client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	// First attempt with the stale token, retry with the refreshed one.
	require.Equal(t, []string{"A1", "A2"}, bearers)
	require.EqualValues(t, 1, atomic.LoadInt32(f.tokenCalls))

	// Non-rotated refresh token survives, access token is the renewed value.
	require.Equal(t, "A2", f.sessions.CurrentAccessToken())
	require.Equal(t, "A2", f.store.Value(credstore.AccessTokenKey))
	require.Equal(t, "R1", f.store.Value(credstore.RefreshTokenKey))
}

func TestClient_ConcurrentCallsShareOneRefresh(t *testing.T) {
	store := storefakes.NewFakeStore()
	store.Seed(credstore.AccessTokenKey, "A1")
	store.Seed(credstore.RefreshTokenKey, "R1")
	sessions := session.New(store)
	sessions.Load()

	// The token endpoint answers only after both callers have observed their
	// 401, so the second caller provably joins the first caller's exchange.
	bothUnauthorized := make(chan struct{})
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		<-bothUnauthorized
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A2","refresh_token":"R2"}`))
	}))
	defer tokenSrv.Close()

	var hits401 int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearerOf(r) != "A2" {
			if atomic.AddInt32(&hits401, 1) == 2 {
				close(bothUnauthorized)
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer api.Close()

	refresher := refresh.New(sessions, testProvider{endpoint: tokenSrv.URL})
	client := authfetch.New(sessions, refresher)

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			results[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	require.Equal(t, []int{http.StatusOK, http.StatusOK}, results)
	require.EqualValues(t, 1, atomic.LoadInt32(&tokenCalls))
	require.Equal(t, "A2", sessions.CurrentAccessToken())
	require.Equal(t, "R2", store.Value(credstore.RefreshTokenKey))
}

func TestClient_Non401PassesThroughUntouched(t *testing.T) {
	f := setupTestFixture(t, `{"access_token":"A2"}`)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend exploded"))
	}))
	defer api.Close()

	resp, err := f.client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.EqualValues(t, 0, atomic.LoadInt32(f.tokenCalls))
	require.Equal(t, "A1", f.sessions.CurrentAccessToken())
}

func TestClient_TerminalRefreshForcesLogout(t *testing.T) {
	f := setupTestFixture(t, `{"error":"invalid_grant","error_description":"refresh token revoked"}`)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	_, err := f.client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
	require.Error(t, err)
	require.True(t, authfetch.IsSessionExpired(err))

	var providerErr *refresh.ProviderError
	require.ErrorAs(t, err, &providerErr)

	// Forced logout is observable: memory and store are both cleared.
	require.Empty(t, f.sessions.CurrentAccessToken())
	require.Nil(t, f.sessions.CurrentProfile())
	require.Empty(t, f.store.Value(credstore.AccessTokenKey))
	require.Empty(t, f.store.Value(credstore.RefreshTokenKey))
	require.EqualValues(t, 1, atomic.LoadInt32(f.expiredNotices))
}

func TestClient_SecondUnauthorizedIsReturnedAsIs(t *testing.T) {
	f := setupTestFixture(t, `{"access_token":"A2"}`)

	var attempts int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	resp, err := f.client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	// One refresh, one retry, no loop.
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
	require.EqualValues(t, 1, atomic.LoadInt32(f.tokenCalls))
}

func TestClient_RetryReplaysRequestBody(t *testing.T) {
	f := setupTestFixture(t, `{"access_token":"A2"}`)

	var bodies []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(body))
		if bearerOf(r) != "A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer api.Close()

	resp, err := f.client.Fetch(context.Background(), http.MethodPost, api.URL, strings.NewReader(`{"styleId":7}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, []string{`{"styleId":7}`, `{"styleId":7}`}, bodies)
}

func TestClient_CancelledJoinerDoesNotDestroySession(t *testing.T) {
	store := storefakes.NewFakeStore()
	sessions := session.New(store)
	sessions.Load()
	profile := &session.UserProfile{Name: "Jane Doe", Email: "jane@example.com"}
	require.NoError(t, sessions.Login("A1", profile, "R1"))

	// The token endpoint holds the exchange open so a second caller can be
	// cancelled while the flight is provably still in progress.
	flightStarted := make(chan struct{})
	release := make(chan struct{})
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&tokenCalls, 1) == 1 {
			close(flightStarted)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A2"}`))
	}))
	defer tokenSrv.Close()

	secondUnauthorized := make(chan struct{})
	var hits401 int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearerOf(r) != "A2" {
			if atomic.AddInt32(&hits401, 1) == 2 {
				close(secondUnauthorized)
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer api.Close()

	var expiredNotices int32
	refresher := refresh.New(sessions, testProvider{endpoint: tokenSrv.URL})
	client := authfetch.New(sessions, refresher, authfetch.WithNotifier(notify.NotifierFunc(func(error) {
		atomic.AddInt32(&expiredNotices, 1)
	})))

	firstDone := make(chan error, 1)
	go func() {
		resp, err := client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
		if err == nil {
			resp.Body.Close()
		}
		firstDone <- err
	}()
	// The first caller owns the flight before the second one even starts.
	<-flightStarted

	ctx, cancel := context.WithCancel(context.Background())
	secondDone := make(chan error, 1)
	go func() {
		resp, err := client.Fetch(ctx, http.MethodGet, api.URL, nil)
		if err == nil {
			resp.Body.Close()
		}
		secondDone <- err
	}()
	<-secondUnauthorized
	cancel()

	err := <-secondDone
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, authfetch.IsSessionExpired(err))

	// Abandoning the wait is not a terminal refresh failure: no logout, no
	// expiry notice, session untouched.
	require.EqualValues(t, 0, atomic.LoadInt32(&expiredNotices))
	require.Equal(t, "A1", sessions.CurrentAccessToken())
	require.NotNil(t, sessions.CurrentProfile())

	// The shared exchange still completes for the caller that stayed.
	close(release)
	require.NoError(t, <-firstDone)

	require.Equal(t, "A2", sessions.CurrentAccessToken())
	require.NotNil(t, sessions.CurrentProfile())
	require.Equal(t, "jane@example.com", sessions.CurrentProfile().Email)
	require.NotEmpty(t, store.Value(credstore.UserProfileKey))
	require.Equal(t, "R1", store.Value(credstore.RefreshTokenKey))
	require.EqualValues(t, 1, atomic.LoadInt32(&tokenCalls))
	require.EqualValues(t, 0, atomic.LoadInt32(&expiredNotices))
}

func TestClient_ColdStartFallsBackToStoredToken(t *testing.T) {
	store := storefakes.NewFakeStore()
	store.Seed(credstore.AccessTokenKey, "A1")
	store.Seed(credstore.RefreshTokenKey, "R1")

	// Session deliberately not loaded: memory is empty, the store is not.
	sessions := session.New(store)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "A1", bearerOf(r))
		w.Write([]byte("ok"))
	}))
	defer api.Close()

	refresher := refresh.New(sessions, testProvider{endpoint: "http://unused.invalid"})
	client := authfetch.New(sessions, refresher)

	resp, err := client.Fetch(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
