package certmanager

import (
	"fmt"
	"strings"
)

// domainKey identifies one entry in the domain index. Two keys are equal
// iff both the normalized name and the crypto family match.
type domainKey struct {
	name   string
	crypto CertCrypto
}

// domainIndex maps normalized domain keys to certificate contexts.
//
// Wildcard names are stored with the leading "*." stripped, so
// "*.example.com" is held under the key ".example.com". Lookup probes the
// exact name first and then the one-level-up suffix; deeper wildcard
// nesting is not matched, mirroring how TLS clients match wildcard names.
type domainIndex struct {
	m map[domainKey]*CertificateContext
}

func newDomainIndex() domainIndex {
	return domainIndex{m: make(map[domainKey]*CertificateContext)}
}

// insert adds the context under the given domain name. A name containing
// "*" anywhere but as the leading "*." label is rejected without mutating
// the index. An existing entry is kept when overwrite is false; the
// returned bool reports whether the entry was written.
func (ix *domainIndex) insert(name string, crypto CertCrypto, ctx *CertificateContext, overwrite bool) (bool, error) {
	key, err := makeDomainKey(name, crypto)
	if err != nil {
		return false, err
	}

	if _, ok := ix.m[key]; ok && !overwrite {
		return false, nil
	}
	ix.m[key] = ctx
	return true, nil
}

// lookup probes the exact name first, then the one-level-up suffix.
func (ix *domainIndex) lookup(name string, crypto CertCrypto) *CertificateContext {
	if ctx := ix.lookupExact(name, crypto); ctx != nil {
		return ctx
	}
	return ix.lookupSuffix(name, crypto)
}

// lookupExact probes the index with the full domain name.
func (ix *domainIndex) lookupExact(name string, crypto CertCrypto) *CertificateContext {
	return ix.probe(strings.ToLower(name), crypto)
}

// lookupSuffix probes the index with the one-level-up suffix of the
// domain name: "a.b.example.com" probes ".b.example.com".
func (ix *domainIndex) lookupSuffix(name string, crypto CertCrypto) *CertificateContext {
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return nil
	}
	return ix.probe(strings.ToLower(name[dot:]), crypto)
}

// probe resolves one key. A miss for a non-default crypto family falls
// back to the best-available entry registered under the same name.
func (ix *domainIndex) probe(name string, crypto CertCrypto) *CertificateContext {
	if ctx, ok := ix.m[domainKey{name: name, crypto: crypto}]; ok {
		return ctx
	}
	if crypto != CertCryptoBestAvailable {
		if ctx, ok := ix.m[domainKey{name: name, crypto: CertCryptoBestAvailable}]; ok {
			return ctx
		}
	}
	return nil
}

// len returns the number of entries in the index.
func (ix *domainIndex) len() int {
	return len(ix.m)
}

// makeDomainKey normalizes a domain name into its index key, validating
// wildcard use.
func makeDomainKey(name string, crypto CertCrypto) (domainKey, error) {
	name = strings.ToLower(name)
	if i := strings.IndexByte(name, '*'); i >= 0 {
		if i != 0 || len(name) < 3 || name[1] != '.' || strings.IndexByte(name[1:], '*') >= 0 {
			return domainKey{}, fmt.Errorf("certmanager: invalid wildcard in domain name %q", name)
		}
		// "*.example.com" is indexed as ".example.com".
		name = name[1:]
	}
	return domainKey{name: name, crypto: crypto}, nil
}
