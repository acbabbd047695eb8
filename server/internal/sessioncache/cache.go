package sessioncache

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"
)

const defaultCapacity = 20480

// Options configure the session cache of one certificate context.
type Options struct {
	// Enabled turns on stateful session resumption for the context.
	Enabled bool

	// Capacity caps the number of locally cached sessions. Defaults to
	// 20480.
	Capacity int
}

// Provider is external shared session storage, used to share resumption
// state across certificate contexts or processes. Implementations must
// be safe for concurrent use.
type Provider interface {
	Get(id string) ([]byte, bool)
	Put(id string, state []byte)
	Del(id string)
}

// Manager owns the resumption cache of one certificate context. It is
// created and torn down by the certificate manager; handshakes only
// reach it through the WrapSession and UnwrapSession callbacks on the
// context's tls.Config.
type Manager struct {
	local    *lru.Cache[string, []byte]
	external Provider // may be nil
}

// NewManager returns a new Manager.
func NewManager(opts Options, external Provider) (*Manager, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	local, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("sessioncache: new manager: %s", err)
	}

	return &Manager{
		local:    local,
		external: external,
	}, nil
}

// WrapSession stores the session state and hands the client an opaque
// identity to resume with.
func (m *Manager) WrapSession(_ tls.ConnectionState, ss *tls.SessionState) ([]byte, error) {
	b, err := ss.Bytes()
	if err != nil {
		return nil, fmt.Errorf("sessioncache: wrap session: %s", err)
	}

	id := uuid.NewString()
	m.put(id, b)
	return []byte(id), nil
}

// UnwrapSession resolves a client-presented identity back to session
// state. An unknown identity is not an error; the handshake proceeds
// without resumption.
func (m *Manager) UnwrapSession(identity []byte, _ tls.ConnectionState) (*tls.SessionState, error) {
	b, ok := m.lookup(string(identity))
	if !ok {
		return nil, nil
	}

	ss, err := tls.ParseSessionState(b)
	if err != nil {
		klog.V(2).Infof("discarding undecodable session state; id=%q: %s", string(identity), err)
		m.del(string(identity))
		return nil, nil
	}
	return ss, nil
}

// Len returns the number of locally cached sessions.
func (m *Manager) Len() int {
	return m.local.Len()
}

// Close drops all locally cached sessions. External storage is shared
// with other contexts and left untouched.
func (m *Manager) Close() {
	m.local.Purge()
}

func (m *Manager) put(id string, b []byte) {
	m.local.Add(id, b)
	if m.external != nil {
		m.external.Put(id, b)
	}
}

// lookup probes local storage first, falling back to the external
// provider so a session written by a sibling context still resumes.
func (m *Manager) lookup(id string) ([]byte, bool) {
	if b, ok := m.local.Get(id); ok {
		return b, true
	}
	if m.external != nil {
		return m.external.Get(id)
	}
	return nil, false
}

func (m *Manager) del(id string) {
	m.local.Remove(id)
	if m.external != nil {
		m.external.Del(id)
	}
}

// MemoryProvider is a Provider backed by a process-local map, usable as
// shared storage between the contexts of one process.
type MemoryProvider struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{m: make(map[string][]byte)}
}

// Get implements Provider.
func (p *MemoryProvider) Get(id string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.m[id]
	return b, ok
}

// Put implements Provider.
func (p *MemoryProvider) Put(id string, state []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[id] = state
}

// Del implements Provider.
func (p *MemoryProvider) Del(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, id)
}
