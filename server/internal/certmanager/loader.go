package certmanager

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
)

// LoadCertConfig reads a certificate and key pair from disk and
// enumerates the domain names the certificate covers (common name plus
// subject alternative names, deduplicated and case-folded).
func LoadCertConfig(certPath, keyPath string) (CertConfig, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return CertConfig{}, fmt.Errorf("certmanager: load %s: %s", certPath, err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return CertConfig{}, fmt.Errorf("certmanager: load %s: parse leaf: %s", certPath, err)
	}
	cert.Leaf = leaf

	return CertConfig{
		Certificate: &cert,
		Domains:     enumerateDomains(leaf),
	}, nil
}

// enumerateDomains lists the domain names a leaf certificate is valid
// for, in certificate order with the common name first.
func enumerateDomains(leaf *x509.Certificate) []string {
	var domains []string
	seen := make(map[string]struct{})

	add := func(name string) {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		domains = append(domains, name)
	}

	add(leaf.Subject.CommonName)
	for _, dn := range leaf.DNSNames {
		add(dn)
	}
	return domains
}
