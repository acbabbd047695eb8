package certmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainIndex_Lookup(t *testing.T) {
	ix := newDomainIndex()

	apex := &CertificateContext{}
	wild := &CertificateContext{}

	added, err := ix.insert("example.com", CertCryptoBestAvailable, apex, false)
	assert.NoError(t, err)
	assert.True(t, added)

	added, err = ix.insert("*.example.com", CertCryptoBestAvailable, wild, false)
	assert.NoError(t, err)
	assert.True(t, added)

	tcs := []struct {
		name       string
		serverName string
		want       *CertificateContext
	}{
		{
			name:       "exact match",
			serverName: "example.com",
			want:       apex,
		},
		{
			name:       "one-level wildcard match",
			serverName: "www.example.com",
			want:       wild,
		},
		{
			name:       "case folded",
			serverName: "WWW.Example.COM",
			want:       wild,
		},
		{
			name:       "two levels below the wildcard",
			serverName: "a.b.example.com",
			want:       nil,
		},
		{
			name:       "unrelated name",
			serverName: "example.net",
			want:       nil,
		},
		{
			name:       "name without a dot",
			serverName: "localhost",
			want:       nil,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got := ix.lookup(tc.serverName, CertCryptoBestAvailable)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDomainIndex_WildcardDoesNotCoverApex(t *testing.T) {
	ix := newDomainIndex()

	wild := &CertificateContext{}
	_, err := ix.insert("*.example.com", CertCryptoBestAvailable, wild, false)
	assert.NoError(t, err)

	// With only the wildcard installed, the bare apex does not match: its
	// suffix probe is ".com", not ".example.com".
	assert.Nil(t, ix.lookup("example.com", CertCryptoBestAvailable))
	assert.Equal(t, wild, ix.lookup("www.example.com", CertCryptoBestAvailable))
}

func TestDomainIndex_ExactBeatsWildcard(t *testing.T) {
	ix := newDomainIndex()

	exact := &CertificateContext{}
	wild := &CertificateContext{}

	_, err := ix.insert("www.example.com", CertCryptoBestAvailable, exact, false)
	assert.NoError(t, err)
	_, err = ix.insert("*.example.com", CertCryptoBestAvailable, wild, false)
	assert.NoError(t, err)

	assert.Equal(t, exact, ix.lookup("www.example.com", CertCryptoBestAvailable))
	assert.Equal(t, wild, ix.lookup("other.example.com", CertCryptoBestAvailable))
}

func TestDomainIndex_Duplicates(t *testing.T) {
	ix := newDomainIndex()

	first := &CertificateContext{}
	second := &CertificateContext{}

	added, err := ix.insert("example.com", CertCryptoBestAvailable, first, false)
	assert.NoError(t, err)
	assert.True(t, added)

	// The first registration wins.
	added, err = ix.insert("example.com", CertCryptoBestAvailable, second, false)
	assert.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first, ix.lookup("example.com", CertCryptoBestAvailable))

	// Overwrite replaces the entry.
	added, err = ix.insert("example.com", CertCryptoBestAvailable, second, true)
	assert.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, second, ix.lookup("example.com", CertCryptoBestAvailable))
}

func TestDomainIndex_InvalidWildcards(t *testing.T) {
	ix := newDomainIndex()
	ctx := &CertificateContext{}

	for _, name := range []string{
		"*",
		"*.",
		"*foo.com",
		"foo.*.com",
		"*.foo.*",
		"www.*.example.com",
	} {
		t.Run(name, func(t *testing.T) {
			added, err := ix.insert(name, CertCryptoBestAvailable, ctx, false)
			assert.Error(t, err)
			assert.False(t, added)
		})
	}

	// A rejected name never mutates the index.
	assert.Equal(t, 0, ix.len())
}

func TestDomainIndex_CryptoFallback(t *testing.T) {
	ix := newDomainIndex()

	best := &CertificateContext{}
	legacy := &CertificateContext{}

	_, err := ix.insert("example.com", CertCryptoBestAvailable, best, false)
	assert.NoError(t, err)

	// A legacy probe with no legacy entry falls back to best-available.
	assert.Equal(t, best, ix.lookup("example.com", CertCryptoSHA1Signature))

	// With a dedicated legacy entry installed, each family resolves its
	// own context; there is no fallback from best-available to legacy.
	_, err = ix.insert("example.com", CertCryptoSHA1Signature, legacy, false)
	assert.NoError(t, err)
	assert.Equal(t, legacy, ix.lookup("example.com", CertCryptoSHA1Signature))
	assert.Equal(t, best, ix.lookup("example.com", CertCryptoBestAvailable))

	ix2 := newDomainIndex()
	_, err = ix2.insert("example.com", CertCryptoSHA1Signature, legacy, false)
	assert.NoError(t, err)
	assert.Nil(t, ix2.lookup("example.com", CertCryptoBestAvailable))
}
