package config

// StoreConfig locates the on-device credential store and its sealing secret.
type StoreConfig interface {
	GetCredentialsPath() string
	GetStoreSecret() string
}

type CredentialFile struct{}

var _ StoreConfig = CredentialFile{}

func (CredentialFile) GetCredentialsPath() string {
	return GetEnv("CREDENTIALS_FILE", "./data/credentials.enc")
}

// GetStoreSecret is the passphrase sealing the credential file. On a real
// device this comes from the platform keystore; the env var stands in for it.
func (CredentialFile) GetStoreSecret() string {
	return GetEnv("STORE_SECRET", "")
}
