package certmanager

import (
	"crypto/tls"
	"crypto/x509"
)

// CertCrypto distinguishes certificate families installed for the same
// domain name, so that legacy clients can be served a chain they are able
// to verify.
type CertCrypto int

const (
	// CertCryptoBestAvailable selects the strongest chain installed for a
	// domain.
	CertCryptoBestAvailable CertCrypto = iota

	// CertCryptoSHA1Signature selects a chain carrying a SHA-1 based
	// signature, for clients that cannot verify SHA-2.
	CertCryptoSHA1Signature
)

// String returns a human readable name for the CertCrypto.
func (c CertCrypto) String() string {
	if c == CertCryptoSHA1Signature {
		return "sha1-signature"
	}
	return "best-available"
}

// ClassifyCertificate returns the CertCrypto family of a parsed leaf
// certificate.
func ClassifyCertificate(leaf *x509.Certificate) CertCrypto {
	switch leaf.SignatureAlgorithm {
	case x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		return CertCryptoSHA1Signature
	}
	return CertCryptoBestAvailable
}

// PreferredCrypto returns the CertCrypto family to probe first for the
// given client hello. A client that advertises signature schemes but no
// SHA-2 capable one only verifies a legacy chain; a client that sends no
// schemes at all predates the extension and defaults to SHA-1 per
// RFC 5246.
func PreferredCrypto(hello *tls.ClientHelloInfo) CertCrypto {
	if len(hello.SignatureSchemes) == 0 {
		return CertCryptoSHA1Signature
	}
	for _, s := range hello.SignatureSchemes {
		switch s {
		case tls.PKCS1WithSHA1, tls.ECDSAWithSHA1:
		default:
			return CertCryptoBestAvailable
		}
	}
	return CertCryptoSHA1Signature
}
