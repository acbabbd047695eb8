package ticket

import (
	"crypto/tls"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyManager(t *testing.T) {
	cfg := &tls.Config{}

	m, err := NewKeyManager(cfg, Seeds{
		Old:     []string{"old-1"},
		Current: []string{"current-1", "current-2"},
		New:     []string{"new-1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Generation())
	assert.Equal(t, 4, m.NumKeys())

	// A new generation replaces the keys wholesale.
	err = m.Reload(nil, []string{"current-3"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, m.Generation())
	assert.Equal(t, 1, m.NumKeys())
}

func TestKeyManager_ConcurrentReload(t *testing.T) {
	// The admin rotation endpoint and the seed file watcher can both
	// reach Reload on the same manager from their own goroutines.
	m, err := NewKeyManager(&tls.Config{}, Seeds{Current: []string{"seed-0"}})
	assert.NoError(t, err)

	const reloads = 100
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < reloads; j++ {
				err := m.Reload(nil, []string{fmt.Sprintf("seed-%d-%d", i, j)}, nil)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1+2*reloads, m.Generation())
	assert.Equal(t, 1, m.NumKeys())
}

func TestKeyManager_Errors(t *testing.T) {
	cfg := &tls.Config{}

	// No seeds at all.
	_, err := NewKeyManager(cfg, Seeds{})
	assert.Error(t, err)

	// An empty seed string anywhere fails the whole reload and keeps the
	// previous generation.
	m, err := NewKeyManager(cfg, Seeds{Current: []string{"current-1"}})
	assert.NoError(t, err)

	err = m.Reload([]string{""}, []string{"current-2"}, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, m.Generation())
	assert.Equal(t, 1, m.NumKeys())

	err = m.Reload(nil, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, m.Generation())
}

func TestDeriveKey(t *testing.T) {
	// Derivation is deterministic per seed.
	k1, err := deriveKey("seed-1")
	assert.NoError(t, err)
	k2, err := deriveKey("seed-1")
	assert.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Distinct seeds derive distinct keys.
	k3, err := deriveKey("seed-2")
	assert.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = deriveKey("")
	assert.Error(t, err)
}

func TestParseSeedsFile(t *testing.T) {
	path := writeSeedsFile(t, `
old:
- old-1
current:
- current-1
- current-2
new:
- new-1
`)

	s, err := ParseSeedsFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"old-1"}, s.Old)
	assert.Equal(t, []string{"current-1", "current-2"}, s.Current)
	assert.Equal(t, []string{"new-1"}, s.New)

	// No current seeds is an error.
	path = writeSeedsFile(t, `
old:
- old-1
`)
	_, err = ParseSeedsFile(path)
	assert.Error(t, err)

	_, err = ParseSeedsFile("/does/not/exist.yaml")
	assert.Error(t, err)
}
