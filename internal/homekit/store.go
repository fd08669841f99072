// Package homekit exposes the light as a HomeKit accessory. The accessory
// server's keys and pairings are kept in a store bucket, next to the
// persisted on/off value.
package homekit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brutella/hap"

	"github.com/sweeney/light-accessory/internal/store"
)

// ErrNotFound is returned by Store.Get for absent keys.
var ErrNotFound = errors.New("homekit: key not found")

// Store keeps HomeKit server data in a bucket.
type Store struct {
	bucket store.Bucket
}

var _ hap.Store = (*Store)(nil)

// NewStore wraps a bucket.
func NewStore(b store.Bucket) *Store {
	return &Store{bucket: b}
}

// Set stores value under key.
func (s *Store) Set(key string, value []byte) error {
	return s.bucket.Put(key, value)
}

// Get returns the value under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	var v []byte
	ok, err := s.bucket.Get(key, &v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	return s.bucket.Delete(key)
}

// KeysWithSuffix lists the keys ending in suffix.
func (s *Store) KeysWithSuffix(suffix string) ([]string, error) {
	keys, err := s.bucket.Keys()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	return out, nil
}
