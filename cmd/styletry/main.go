package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/styletry/go-session/authfetch"
	"github.com/styletry/go-session/backend"
	"github.com/styletry/go-session/credstore/filestore"
	"github.com/styletry/go-session/internal/config"
	"github.com/styletry/go-session/login"
	"github.com/styletry/go-session/notify"
	"github.com/styletry/go-session/session"
	"github.com/styletry/go-session/token/refresh"
)

// options are the demo-specific knobs; everything else comes from
// internal/config's env surface.
type options struct {
	Email        string `envconfig:"STYLETRY_EMAIL"`
	Password     string `envconfig:"STYLETRY_PASSWORD"`
	BrowserLogin bool   `envconfig:"STYLETRY_BROWSER_LOGIN" default:"false"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("styletry demo failed")
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	c := config.New()
	if c.GetEnv() != "DEV" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	displayAppname(c.GetAppName())

	var opts options
	if err := envconfig.Process("", &opts); err != nil {
		return fmt.Errorf("read options: %w", err)
	}

	store, err := filestore.New(c.GetCredentialsPath(), []byte(c.GetStoreSecret()))
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	sessions := session.New(store)
	sessions.Load()

	refresher := refresh.New(sessions, c)
	fetch := authfetch.New(sessions, refresher, authfetch.WithNotifier(notify.NotifierFunc(func(cause error) {
		fmt.Println("Your session has expired, please log in again.")
	})))
	users := backend.New(c, sessions, fetch)

	ctx := context.Background()

	if sessions.CurrentAccessToken() == "" {
		if opts.BrowserLogin {
			if err := browserLogin(ctx, c, sessions); err != nil {
				return fmt.Errorf("browser login: %w", err)
			}
		} else {
			if opts.Email == "" || opts.Password == "" {
				return errors.New("not logged in: set STYLETRY_EMAIL and STYLETRY_PASSWORD, or STYLETRY_BROWSER_LOGIN=true")
			}
			if err := users.Login(ctx, opts.Email, opts.Password); err != nil {
				return fmt.Errorf("backend login: %w", err)
			}
		}
	}

	if profile := sessions.CurrentProfile(); profile != nil {
		fmt.Printf("Logged in as %s <%s>\n", profile.Name, profile.Email)
	}

	balance, err := users.Balance(ctx)
	if err != nil {
		if authfetch.IsSessionExpired(err) {
			fmt.Println("Session expired, run the demo again to log in.")
			return nil
		}
		return fmt.Errorf("fetch balance: %w", err)
	}
	fmt.Printf("Generation credits: %d\n", balance.Credits)
	return nil
}

// browserLogin walks the interactive provider flow: it opens a loopback
// listener at the configured redirect URL, prints the authorization URL for
// the user's browser, and exchanges the callback code for a session.
func browserLogin(ctx context.Context, c config.Config, sessions *session.Manager) error {
	authenticator, err := login.New(ctx, c)
	if err != nil {
		return err
	}

	redirect, err := url.Parse(c.GetRedirectURL())
	if err != nil {
		return fmt.Errorf("parse redirect url: %w", err)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", redirect.Host, err)
	}
	defer listener.Close()

	type callback struct {
		code  string
		state string
	}
	callbacks := make(chan callback, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != redirect.Path {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, "Login received, you can close this window.")
		select {
		case callbacks <- callback{code: r.URL.Query().Get("code"), state: r.URL.Query().Get("state")}:
		default:
		}
	})}
	go srv.Serve(listener)
	defer srv.Close()

	fmt.Println("Open this URL in your browser to log in:")
	fmt.Println(authenticator.AuthCodeURL())

	var cb callback
	select {
	case cb = <-callbacks:
	case <-time.After(5 * time.Minute):
		return errors.New("timed out waiting for the browser callback")
	}

	result, err := authenticator.Exchange(ctx, cb.code, cb.state)
	if err != nil {
		return err
	}
	return sessions.Login(result.AccessToken, result.Profile, result.RefreshToken)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
