package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// DeviceCert represents a device client certificate in PEM format.
type DeviceCert []byte

// NewDeviceCert creates a new certificate object from PEM-encoded data with validation.
func NewDeviceCert(data []byte) (DeviceCert, error) {
	// Validate PEM format
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return DeviceCert{}, errors.New("invalid certificate: not in PEM format or not a certificate")
	}

	// Validate certificate structure
	_, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return DeviceCert{}, fmt.Errorf("invalid certificate structure: %w", err)
	}

	return DeviceCert(data), nil
}

// Validate checks if the certificate is properly formed.
func (cert DeviceCert) Validate() error {
	_, err := NewDeviceCert(cert)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (cert DeviceCert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(cert)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// IsExpired checks if the certificate has expired.
func (cert DeviceCert) IsExpired() (bool, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return false, err
	}
	return x509Cert.NotAfter.Before(time.Now()), nil
}

// CommonName returns the certificate subject's common name.
func (cert DeviceCert) CommonName() (string, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return "", err
	}
	return x509Cert.Subject.CommonName, nil
}

// Fingerprint returns the hex SHA-256 of the certificate's DER encoding.
func (cert DeviceCert) Fingerprint() (string, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(x509Cert.Raw)
	return hex.EncodeToString(sum[:]), nil
}

// Equal compares two certificates by DER encoding.
func (cert DeviceCert) Equal(other DeviceCert) bool {
	a, err := cert.GetX509Cert()
	if err != nil {
		return false
	}
	b, err := other.GetX509Cert()
	if err != nil {
		return false
	}
	return bytes.Equal(a.Raw, b.Raw)
}

// CACert represents a certificate authority certificate in PEM format.
type CACert []byte

// NewCACert creates a new CA certificate object from PEM-encoded data with validation.
func NewCACert(data []byte) (CACert, error) {
	// Validate PEM format
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return CACert{}, errors.New("invalid CA certificate: not in PEM format or not a certificate")
	}

	// Validate certificate structure
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return CACert{}, fmt.Errorf("invalid CA certificate structure: %w", err)
	}

	// Check if it's a CA certificate
	if !cert.IsCA {
		return CACert{}, errors.New("certificate is not a CA certificate (IsCA flag not set)")
	}

	return CACert(data), nil
}

// Validate checks if the CA certificate is properly formed.
func (ca CACert) Validate() error {
	_, err := NewCACert(ca)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (ca CACert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(ca)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// VerifyCertificate checks if a certificate was signed by this CA,
// directly or through the supplied intermediate chain.
func (ca CACert) VerifyCertificate(cert DeviceCert, intermediates CertChain) error {
	caCert, err := ca.GetX509Cert()
	if err != nil {
		return err
	}

	leafCert, err := cert.GetX509Cert()
	if err != nil {
		return err
	}

	caPool := x509.NewCertPool()
	caPool.AddCert(caCert)

	opts := x509.VerifyOptions{
		Roots:     caPool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if len(intermediates) > 0 {
		interPool, err := intermediates.CertPool()
		if err != nil {
			return err
		}
		opts.Intermediates = interPool
	}

	_, err = leafCert.Verify(opts)
	return err
}

// CertChain represents one or more concatenated certificates in PEM format,
// ordered leaf-nearest first.
type CertChain []byte

// NewCertChain creates a certificate chain from PEM-encoded data with
// validation. Every PEM block must parse as a certificate and at least one
// must be present.
func NewCertChain(data []byte) (CertChain, error) {
	rest := data
	count := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return CertChain{}, fmt.Errorf("invalid chain: unexpected PEM block %q", block.Type)
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return CertChain{}, fmt.Errorf("invalid chain certificate structure: %w", err)
		}
		count++
	}
	if count == 0 {
		return CertChain{}, errors.New("invalid chain: no certificates found")
	}
	return CertChain(data), nil
}

// Validate checks if the chain is properly formed.
func (chain CertChain) Validate() error {
	_, err := NewCertChain(chain)
	return err
}

// GetX509Certs returns every certificate in the chain in order.
func (chain CertChain) GetX509Certs() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(chain)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid chain certificate structure: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("invalid chain: no certificates found")
	}
	return certs, nil
}

// CertPool returns a pool containing every certificate in the chain.
func (chain CertChain) CertPool() (*x509.CertPool, error) {
	certs, err := chain.GetX509Certs()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool, nil
}

// DevicePrivkey represents a device private key in PEM format.
type DevicePrivkey []byte

// NewDevicePrivkey creates a new private key object from PEM-encoded data with validation.
func NewDevicePrivkey(data []byte) (DevicePrivkey, error) {
	// Validate PEM format
	block, _ := pem.Decode(data)
	if block == nil || (block.Type != "PRIVATE KEY" && block.Type != "EC PRIVATE KEY") {
		return DevicePrivkey{}, errors.New("invalid private key: not in PEM format or not a private key")
	}

	// Try to parse it as a PKCS8 private key
	_, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try to parse it as an EC private key
		_, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return DevicePrivkey{}, fmt.Errorf("invalid private key structure: %w", err)
		}
	}

	return DevicePrivkey(data), nil
}

// Validate checks if the private key is properly formed.
func (priv DevicePrivkey) Validate() error {
	_, err := NewDevicePrivkey(priv)
	return err
}

// GetPrivateKey returns the parsed private key interface.
func (priv DevicePrivkey) GetPrivateKey() (interface{}, error) {
	block, _ := pem.Decode(priv)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	// Try to parse it as a PKCS8 private key
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}

	// Try to parse it as an EC private key
	key, err = x509.ParseECPrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}

	return nil, errors.New("failed to parse private key")
}

// GetPublicKey returns the public key matching the private key.
func (priv DevicePrivkey) GetPublicKey() (interface{}, error) {
	parsedPriv, err := priv.GetPrivateKey()
	if err != nil {
		return nil, err
	}

	switch key := parsedPriv.(type) {
	case *ecdsa.PrivateKey:
		return &key.PublicKey, nil
	case ed25519.PrivateKey:
		return key.Public(), nil
	default:
		return nil, fmt.Errorf("unsupported private key type: %T", parsedPriv)
	}
}
