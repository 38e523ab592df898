package config

type Config interface {
	EnvConfig
	ProviderConfig
	StoreConfig
}

type mainConfig struct {
	EnvVars
	Provider
	CredentialFile
}

func New() Config {
	return mainConfig{}
}
