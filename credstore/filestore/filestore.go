// Package filestore provides a file-backed credstore.Store with at-rest
// encryption. All credentials live in a single sealed file: a scrypt-derived
// key encrypts the JSON key/value payload with nacl/secretbox. Writes go
// through a temp file and rename so a crash never leaves a torn store.
package filestore

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/styletry/go-session/credstore"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLength  = 32
	nonceLength = 24
	keyLength   = 32

	// scrypt parameters, interactive profile
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrDecryptionFailed = errors.New("credential file could not be decrypted")

var _ credstore.Store = (*Store)(nil)

// Store is an encrypted file-backed credential store.
type Store struct {
	path       string
	passphrase []byte
	values     map[string]string
	lock       sync.RWMutex
}

// New opens (or creates) the encrypted credential file at path. A missing file
// yields an empty store; an existing file that does not decrypt with the given
// passphrase is an error.
func New(path string, passphrase []byte) (*Store, error) {
	s := &Store{
		path:       path,
		passphrase: passphrase,
		values:     make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(key string) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.values[key], nil
}

func (s *Store) Set(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	previous, existed := s.values[key]
	s.values[key] = value
	if err := s.persist(); err != nil {
		// Roll back the in-memory map so a failed write is not observable.
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return credstore.NewStorageError("set", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	previous, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.persist(); err != nil {
		s.values[key] = previous
		return credstore.NewStorageError("delete", key, err)
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return credstore.NewStorageError("get", "", err)
	}
	if len(data) < saltLength+nonceLength {
		return credstore.NewStorageError("get", "", ErrDecryptionFailed)
	}

	salt := data[:saltLength]
	var nonce [nonceLength]byte
	copy(nonce[:], data[saltLength:saltLength+nonceLength])
	sealed := data[saltLength+nonceLength:]

	key, err := s.deriveKey(salt)
	if err != nil {
		return credstore.NewStorageError("get", "", err)
	}

	plaintext, ok := secretbox.Open(nil, sealed, &nonce, key)
	if !ok {
		return credstore.NewStorageError("get", "", ErrDecryptionFailed)
	}

	if err := json.Unmarshal(plaintext, &s.values); err != nil {
		return credstore.NewStorageError("get", "", errors.Wrap(err, "[filestore.load] unmarshal"))
	}
	return nil
}

// persist seals the current map and atomically replaces the credential file.
// Caller must hold the write lock.
func (s *Store) persist() error {
	plaintext, err := json.Marshal(s.values)
	if err != nil {
		return errors.Wrap(err, "[filestore.persist] marshal")
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return errors.Wrap(err, "[filestore.persist] salt")
	}
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return errors.Wrap(err, "[filestore.persist] nonce")
	}

	key, err := s.deriveKey(salt)
	if err != nil {
		return err
	}

	data := make([]byte, 0, saltLength+nonceLength+len(plaintext)+secretbox.Overhead)
	data = append(data, salt...)
	data = append(data, nonce[:]...)
	data = secretbox.Seal(data, plaintext, &nonce, key)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "[filestore.persist] mkdir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "[filestore.persist] temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.persist] chmod")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.persist] write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[filestore.persist] close")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "[filestore.persist] rename")
	}
	return nil
}

func (s *Store) deriveKey(salt []byte) (*[keyLength]byte, error) {
	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.deriveKey] scrypt")
	}
	var key [keyLength]byte
	copy(key[:], derived)
	return &key, nil
}
