package config

import "os"

const (
	appNameVar      = "APP_NAME"
	usersBaseURLVar = "USERS_BASE_URL"
)

type EnvConfig interface {
	GetAppName() string
	GetUsersBaseURL() string
	GetEnv() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "StyleTry")
}

// GetUsersBaseURL returns the base URL of the users backend (login, sync,
// balance, purchases).
func (EnvVars) GetUsersBaseURL() string {
	return GetEnv(usersBaseURLVar, "http://localhost:8080/api")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
