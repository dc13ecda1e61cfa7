package kvfake

import (
	"sync"

	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/storage"
)

var _ storage.KV = (*FakeKV)(nil)

// FakeKV is an in-memory KV. SetUnavailable simulates a private-browsing style
// medium where every call fails.
type FakeKV struct {
	values      map[string]string
	unavailable bool
	writes      int
	lock        sync.RWMutex
}

func NewFakeKV() *FakeKV {
	return &FakeKV{values: make(map[string]string)}
}

func (kv *FakeKV) SetUnavailable(unavailable bool) {
	kv.lock.Lock()
	defer kv.lock.Unlock()
	kv.unavailable = unavailable
}

func (kv *FakeKV) Get(key string) (string, bool, error) {
	kv.lock.RLock()
	defer kv.lock.RUnlock()
	if kv.unavailable {
		return "", false, apperrors.ErrStorageUnavailable
	}
	v, ok := kv.values[key]
	return v, ok, nil
}

func (kv *FakeKV) Set(key, value string) error {
	kv.lock.Lock()
	defer kv.lock.Unlock()
	if kv.unavailable {
		return apperrors.ErrStorageUnavailable
	}
	kv.values[key] = value
	kv.writes++
	return nil
}

func (kv *FakeKV) Delete(key string) error {
	kv.lock.Lock()
	defer kv.lock.Unlock()
	if kv.unavailable {
		return apperrors.ErrStorageUnavailable
	}
	delete(kv.values, key)
	kv.writes++
	return nil
}

// Writes returns the number of successful Set and Delete calls
func (kv *FakeKV) Writes() int {
	kv.lock.RLock()
	defer kv.lock.RUnlock()
	return kv.writes
}
