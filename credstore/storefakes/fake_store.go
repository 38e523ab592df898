package storefakes

import (
	"sync"

	"github.com/styletry/go-session/credstore"
)

var _ credstore.Store = (*FakeStore)(nil)

// FakeStore is an in-memory credential store for tests. Individual operations
// can be made to fail by setting the corresponding error field.
type FakeStore struct {
	values map[string]string
	lock   sync.RWMutex

	GetErr    error // returned by every Get when set
	SetErr    error // returned by every Set when set
	DeleteErr error // returned by every Delete when set

	SetCalls int // number of successful Set calls
}

func NewFakeStore() *FakeStore {
	return &FakeStore{values: make(map[string]string)}
}

func (fs *FakeStore) Get(key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.GetErr != nil {
		return "", credstore.NewStorageError("get", key, fs.GetErr)
	}
	return fs.values[key], nil
}

func (fs *FakeStore) Set(key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.SetErr != nil {
		return credstore.NewStorageError("set", key, fs.SetErr)
	}
	fs.values[key] = value
	fs.SetCalls++
	return nil
}

func (fs *FakeStore) Delete(key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.DeleteErr != nil {
		return credstore.NewStorageError("delete", key, fs.DeleteErr)
	}
	delete(fs.values, key)
	return nil
}

// Seed writes a value directly, bypassing error injection.
func (fs *FakeStore) Seed(key, value string) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.values[key] = value
}

// Value reads a value directly, bypassing error injection.
func (fs *FakeStore) Value(key string) string {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.values[key]
}
