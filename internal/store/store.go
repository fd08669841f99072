// Package store provides the durable key/value preferences that survive reboot.
// Values are JSON encoded and grouped by namespace.
package store

import "encoding/json"

// Defaults for the persisted light state.
const (
	DefaultNamespace = "MatterPrefs"
	KeyOnOff         = "OnOff"
)

// Bucket is a namespaced key/value store.
type Bucket interface {
	// Get decodes the value stored under key into v.
	// Returns false with no error when the key is absent.
	Get(key string, v any) (bool, error)

	// Put stores v under key, replacing any previous value.
	Put(key string, v any) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys lists the keys in the bucket, sorted.
	Keys() ([]string, error)

	// Namespace returns the bucket's namespace.
	Namespace() string
}

// Prefs adds typed helpers on top of a Bucket.
type Prefs struct {
	Bucket
}

// NewPrefs wraps a bucket.
func NewPrefs(b Bucket) *Prefs {
	return &Prefs{Bucket: b}
}

// LoadBool returns the boolean stored under key, or def if it is unset.
func (p *Prefs) LoadBool(key string, def bool) (bool, error) {
	var v bool
	ok, err := p.Get(key, &v)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// StoreBool persists a boolean under key.
func (p *Prefs) StoreBool(key string, v bool) error {
	return p.Put(key, v)
}

// LoadString returns the string stored under key, or "" if it is unset.
func (p *Prefs) LoadString(key string) (string, error) {
	var v string
	if _, err := p.Get(key, &v); err != nil {
		return "", err
	}
	return v, nil
}

func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
