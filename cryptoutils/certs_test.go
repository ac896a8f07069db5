package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCertificateChainCreation builds a root, intermediate and leaf and
// verifies the leaf chains back to the root through the intermediate.
func TestCertificateChainCreation(t *testing.T) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	intermediateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rootCert, err := CreateRootCertificate(rootKey, "test-root")
	require.NoError(t, err)
	require.NoError(t, rootCert.Validate())

	intermediateCert, err := CreateIntermediateCertificate(rootCert, rootKey, intermediateKey, "test-signer")
	require.NoError(t, err)
	require.NoError(t, intermediateCert.Validate())

	leafCert, err := CreateLeafCertificate(intermediateCert, intermediateKey, &leafKey.PublicKey, "test-device")
	require.NoError(t, err)
	require.NoError(t, leafCert.Validate())

	chain, err := NewCertChain(append([]byte{}, intermediateCert...))
	require.NoError(t, err)

	// Leaf verifies against the root through the intermediate
	require.NoError(t, rootCert.VerifyCertificate(leafCert, chain))

	// Without the intermediate the path cannot be built
	require.Error(t, rootCert.VerifyCertificate(leafCert, nil))

	cn, err := leafCert.CommonName()
	require.NoError(t, err)
	assert.Equal(t, "test-device", cn)
}

// TestVerifyCertificate checks key and common name matching.
func TestVerifyCertificate(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caCert, err := CreateRootCertificate(caKey, "verify-root")
	require.NoError(t, err)
	leafCert, err := CreateLeafCertificate(caCert, caKey, &leafKey.PublicKey, "device-under-test")
	require.NoError(t, err)

	leafPEM, err := MarshalPrivkey(leafKey)
	require.NoError(t, err)

	require.NoError(t, VerifyCertificate(leafPEM, leafCert, "device-under-test"))

	// Wrong common name
	require.Error(t, VerifyCertificate(leafPEM, leafCert, "some-other-device"))

	// Wrong key
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherPEM, err := MarshalPrivkey(otherKey)
	require.NoError(t, err)
	require.Error(t, VerifyCertificate(otherPEM, leafCert, "device-under-test"))
}

// TestCredentialTypeValidation exercises the validating constructors.
func TestCredentialTypeValidation(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caCert, err := CreateRootCertificate(caKey, "type-root")
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafCert, err := CreateLeafCertificate(caCert, caKey, &leafKey.PublicKey, "type-device")
	require.NoError(t, err)

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := NewDeviceCert([]byte("not a certificate"))
		assert.Error(t, err)
		_, err = NewCACert([]byte("not a certificate"))
		assert.Error(t, err)
		_, err = NewCertChain([]byte("not a chain"))
		assert.Error(t, err)
		_, err = NewDevicePrivkey([]byte("not a key"))
		assert.Error(t, err)
	})

	t.Run("leaf is not a CA", func(t *testing.T) {
		_, err := NewCACert(leafCert)
		assert.Error(t, err)
	})

	t.Run("chain parses every block", func(t *testing.T) {
		combined := append(append([]byte{}, leafCert...), caCert...)
		chain, err := NewCertChain(combined)
		require.NoError(t, err)

		certs, err := chain.GetX509Certs()
		require.NoError(t, err)
		require.Len(t, certs, 2)
		assert.Equal(t, "type-device", certs[0].Subject.CommonName)
		assert.Equal(t, "type-root", certs[1].Subject.CommonName)
	})

	t.Run("certificates compare by DER", func(t *testing.T) {
		assert.True(t, leafCert.Equal(leafCert))
		otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		otherCert, err := CreateLeafCertificate(caCert, caKey, &otherKey.PublicKey, "type-device")
		require.NoError(t, err)
		assert.False(t, leafCert.Equal(otherCert))
	})
}

// TestDeriveP256Key checks determinism and label separation.
func TestDeriveP256Key(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	key1, err := DeriveP256Key(secret, nil, "device-identity")
	require.NoError(t, err)
	key2, err := DeriveP256Key(secret, nil, "device-identity")
	require.NoError(t, err)

	// Same inputs derive the same key
	require.Equal(t, 0, key1.D.Cmp(key2.D))
	assert.True(t, key1.PublicKey.Equal(&key2.PublicKey))

	// A different label derives a different key
	key3, err := DeriveP256Key(secret, nil, "device-identity-alt")
	require.NoError(t, err)
	assert.NotEqual(t, 0, key1.D.Cmp(key3.D))

	// A different salt derives a different key
	key4, err := DeriveP256Key(secret, []byte("measurement"), "device-identity")
	require.NoError(t, err)
	assert.NotEqual(t, 0, key1.D.Cmp(key4.D))

	// Empty secret is rejected
	_, err = DeriveP256Key(nil, nil, "device-identity")
	require.Error(t, err)
}

// TestMarshalPrivkeyRoundTrip checks the PEM encoding round-trips.
func TestMarshalPrivkeyRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	keyPEM, err := MarshalPrivkey(key)
	require.NoError(t, err)
	require.NoError(t, keyPEM.Validate())

	parsed, err := keyPEM.GetPrivateKey()
	require.NoError(t, err)
	parsedKey, ok := parsed.(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, 0, key.D.Cmp(parsedKey.D))
}

// TestClientTLSConfig assembles a client configuration from generated
// material.
func TestClientTLSConfig(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caCert, err := CreateRootCertificate(caKey, "tls-root")
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafCert, err := CreateLeafCertificate(caCert, caKey, &leafKey.PublicKey, "tls-device")
	require.NoError(t, err)
	leafPEM, err := MarshalPrivkey(leafKey)
	require.NoError(t, err)

	chain, err := NewCertChain(append([]byte{}, caCert...))
	require.NoError(t, err)

	cfg, err := ClientTLSConfig(leafCert, leafPEM, chain, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	// Leaf plus the chain certificate are presented
	assert.Len(t, cfg.Certificates[0].Certificate, 2)

	// Mismatched key fails assembly
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherPEM, err := MarshalPrivkey(otherKey)
	require.NoError(t, err)
	_, err = ClientTLSConfig(leafCert, otherPEM, nil, nil)
	require.Error(t, err)
}
