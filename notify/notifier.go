// Package notify carries session events to whatever surface the embedding app
// uses (toast, banner, log). The notifier is an explicit dependency injected
// where it is needed; its lifetime is bound to the component that holds it,
// not to the process.
package notify

import "github.com/rs/zerolog/log"

// Notifier receives session-level events the UI may want to surface.
type Notifier interface {
	// SessionExpired fires after a terminal refresh failure has forced a
	// logout. The UI should route to the login screen, not a generic error.
	SessionExpired(cause error)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(cause error)

func (f NotifierFunc) SessionExpired(cause error) {
	f(cause)
}

// LogNotifier is the default Notifier: it records the event and nothing else.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) SessionExpired(cause error) {
	log.Info().Err(cause).Msg("session expired, login required")
}
