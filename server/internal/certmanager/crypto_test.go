package certmanager

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCertificate(t *testing.T) {
	tcs := []struct {
		name string
		alg  x509.SignatureAlgorithm
		want CertCrypto
	}{
		{
			name: "sha256 rsa",
			alg:  x509.SHA256WithRSA,
			want: CertCryptoBestAvailable,
		},
		{
			name: "sha256 ecdsa",
			alg:  x509.ECDSAWithSHA256,
			want: CertCryptoBestAvailable,
		},
		{
			name: "sha1 rsa",
			alg:  x509.SHA1WithRSA,
			want: CertCryptoSHA1Signature,
		},
		{
			name: "sha1 ecdsa",
			alg:  x509.ECDSAWithSHA1,
			want: CertCryptoSHA1Signature,
		},
		{
			name: "sha1 dsa",
			alg:  x509.DSAWithSHA1,
			want: CertCryptoSHA1Signature,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyCertificate(&x509.Certificate{SignatureAlgorithm: tc.alg})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPreferredCrypto(t *testing.T) {
	tcs := []struct {
		name    string
		schemes []tls.SignatureScheme
		want    CertCrypto
	}{
		{
			name: "no schemes defaults to sha1",
			want: CertCryptoSHA1Signature,
		},
		{
			name:    "sha1 only",
			schemes: []tls.SignatureScheme{tls.PKCS1WithSHA1, tls.ECDSAWithSHA1},
			want:    CertCryptoSHA1Signature,
		},
		{
			name:    "modern schemes",
			schemes: []tls.SignatureScheme{tls.PKCS1WithSHA256, tls.ECDSAWithP256AndSHA256},
			want:    CertCryptoBestAvailable,
		},
		{
			name:    "mixed schemes",
			schemes: []tls.SignatureScheme{tls.PKCS1WithSHA1, tls.PKCS1WithSHA256},
			want:    CertCryptoBestAvailable,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got := PreferredCrypto(&tls.ClientHelloInfo{SignatureSchemes: tc.schemes})
			assert.Equal(t, tc.want, got)
		})
	}
}
