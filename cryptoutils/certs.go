package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// CreateRootCertificate creates a self-signed CA certificate for the given
// key. The certificate can sign one level of subordinate CAs.
func CreateRootCertificate(caKey *ecdsa.PrivateKey, commonName string) (CACert, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"IoT Device Provisioning"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	return NewCACert(certPEM)
}

// CreateIntermediateCertificate creates a signing CA certificate subordinate
// to the parent. The result can only sign end-entity certificates.
func CreateIntermediateCertificate(parent CACert, parentKey *ecdsa.PrivateKey, key *ecdsa.PrivateKey, commonName string) (CACert, error) {
	parentCert, err := parent.GetX509Cert()
	if err != nil {
		return nil, fmt.Errorf("failed to parse parent certificate: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"IoT Device Provisioning"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, parentCert, &key.PublicKey, parentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create intermediate certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	return NewCACert(certPEM)
}

// CreateLeafCertificate issues a client and server authentication leaf for
// the given public key under the parent CA.
func CreateLeafCertificate(parent CACert, parentKey *ecdsa.PrivateKey, pub *ecdsa.PublicKey, commonName string) (DeviceCert, error) {
	parentCert, err := parent.GetX509Cert()
	if err != nil {
		return nil, fmt.Errorf("failed to parse parent certificate: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"IoT Device Provisioning"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, parentCert, pub, parentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	return NewDeviceCert(certPEM)
}

func randomSerial() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}

// VerifyCertificate checks that the certificate belongs to the private key
// and carries the expected common name.
func VerifyCertificate(privkey DevicePrivkey, certPEM DeviceCert, expectedCN string) error {
	cert, err := certPEM.GetX509Cert()
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	if cert.Subject.CommonName != expectedCN {
		return fmt.Errorf("unexpected common name %q, expected %q", cert.Subject.CommonName, expectedCN)
	}

	return KeyMatchesCertificate(privkey, certPEM)
}

// KeyMatchesCertificate checks that the certificate's public key belongs to
// the private key.
func KeyMatchesCertificate(privkey DevicePrivkey, certPEM DeviceCert) error {
	cert, err := certPEM.GetX509Cert()
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	pubkey, err := privkey.GetPublicKey()
	if err != nil {
		return fmt.Errorf("failed to derive public key: %w", err)
	}

	ecdsaPubkey, ok := pubkey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("unsupported public key type %T", pubkey)
	}

	certPubkey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("unsupported certificate public key type %T", cert.PublicKey)
	}

	if !ecdsaPubkey.Equal(certPubkey) {
		return errors.New("certificate public key does not match the private key")
	}

	return nil
}

// ClientTLSConfig assembles a client TLS configuration from device
// credential material. The chain, when present, is sent alongside the leaf.
// A nil roots pool leaves server verification on the system pool.
func ClientTLSConfig(cert DeviceCert, key DevicePrivkey, chain CertChain, roots *x509.CertPool) (*tls.Config, error) {
	certBlock := make([]byte, 0, len(cert)+len(chain))
	certBlock = append(certBlock, cert...)
	certBlock = append(certBlock, chain...)

	tlsCert, err := tls.X509KeyPair(certBlock, key)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble client certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
