package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	dsig "github.com/russellhaering/goxmldsig"
)

// ErrConfiguration is returned when the IdP signing material is missing or
// unreadable. Fatal for every assertion build; nothing downstream can run
// without a key.
var ErrConfiguration = errors.New("saml: signing credentials unavailable")

// KeyStore holds the IdP signing certificate and private key, loaded once
// at startup from a private file location and immutable afterwards.
type KeyStore struct {
	certificate *x509.Certificate
	privateKey  *rsa.PrivateKey
}

// LoadKeyStore reads PEM-encoded certificate and key files.
func LoadKeyStore(certPath, keyPath string) (*KeyStore, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return NewKeyStore(certPEM, keyPEM)
}

// NewKeyStore parses PEM-encoded certificate and key material.
func NewKeyStore(certPEM, keyPEM []byte) (*KeyStore, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("%w: failed to decode certificate PEM", ErrConfiguration)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse certificate: %v", ErrConfiguration, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("%w: failed to decode private key PEM", ErrConfiguration)
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		// Try PKCS8 format
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse private key: %v", ErrConfiguration, err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is not RSA", ErrConfiguration)
		}
	}

	return &KeyStore{certificate: cert, privateKey: privateKey}, nil
}

// Certificate returns the parsed signing certificate.
func (k *KeyStore) Certificate() *x509.Certificate {
	return k.certificate
}

// SigningStore adapts the key material for XML digital signatures.
func (k *KeyStore) SigningStore() dsig.X509KeyStore {
	return &dsig.TLSCertKeyStore{
		PrivateKey:  k.privateKey,
		Certificate: [][]byte{k.certificate.Raw},
		Leaf:        k.certificate,
	}
}
