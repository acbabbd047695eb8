package ticket

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates ticket key derivation from any other use of
// the same seed material.
var hkdfInfo = []byte("tls-gateway session ticket key")

// KeyManager owns the rotating session ticket keys of one TLS context.
//
// Keys are derived from opaque seed strings with HKDF-SHA256 and
// installed current-first: crypto/tls encrypts new tickets under the
// first key and accepts any of the remaining keys for decryption, which
// keeps tickets from the neighboring generations valid while a rotation
// rolls out.
//
// Reload can be driven from more than one goroutine (the admin rotation
// endpoint and the seed file watcher), so the manager state is guarded by
// a mutex.
type KeyManager struct {
	cfg *tls.Config

	mu         sync.Mutex
	generation int
	numKeys    int
}

// NewKeyManager returns a KeyManager bound to cfg, keyed with the given
// seeds.
func NewKeyManager(cfg *tls.Config, seeds Seeds) (*KeyManager, error) {
	m := &KeyManager{cfg: cfg}
	if err := m.Reload(seeds.Old, seeds.Current, seeds.New); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload derives and installs the ticket keys for a new seed generation,
// replacing the previous keys wholesale. The manager state is unchanged
// when an error is returned.
func (m *KeyManager) Reload(old, current, new []string) error {
	var keys [][32]byte
	for _, set := range [][]string{current, new, old} {
		for _, seed := range set {
			k, err := deriveKey(seed)
			if err != nil {
				return fmt.Errorf("ticket: reload: %s", err)
			}
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("ticket: reload: no seeds")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.SetSessionTicketKeys(keys)
	m.generation++
	m.numKeys = len(keys)
	return nil
}

// Generation returns the number of reloads applied, counting the initial
// keying.
func (m *KeyManager) Generation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// NumKeys returns the number of keys installed by the last reload.
func (m *KeyManager) NumKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numKeys
}

// deriveKey expands one opaque seed string into a ticket key.
func deriveKey(seed string) ([32]byte, error) {
	var key [32]byte
	if seed == "" {
		return key, fmt.Errorf("empty seed")
	}

	r := hkdf.New(sha256.New, []byte(seed), nil, hkdfInfo)
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("derive key: %s", err)
	}
	return key, nil
}
