package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

func testCertMaterial(t *testing.T) (cryptoutils.DeviceCert, cryptoutils.CertChain) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caCert, err := cryptoutils.CreateRootCertificate(caKey, "mechanism-test-root")
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafCert, err := cryptoutils.CreateLeafCertificate(caCert, caKey, &leafKey.PublicKey, "mechanism-test-device")
	require.NoError(t, err)

	chain, err := cryptoutils.NewCertChain(append([]byte{}, caCert...))
	require.NoError(t, err)
	return leafCert, chain
}

// TestSymmetricKeyMechanism covers construction and payload resolution for
// the shared-key variant.
func TestSymmetricKeyMechanism(t *testing.T) {
	primary := base64.StdEncoding.EncodeToString([]byte("primary-key-material"))
	secondary := base64.StdEncoding.EncodeToString([]byte("secondary-key-material"))

	m, err := NewSymmetricKeyMechanism(primary, secondary)
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	assert.Equal(t, KindSymmetricKey, m.Type)

	key, err := m.ResolveSymmetricKey()
	require.NoError(t, err)
	assert.Equal(t, primary, key.PrimaryKey)
	assert.Equal(t, secondary, key.SecondaryKey)

	// Missing primary key
	_, err = NewSymmetricKeyMechanism("", secondary)
	require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)

	// Undecodable key material
	_, err = NewSymmetricKeyMechanism("%%% not base64 %%%", "")
	require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)

	// Resolving the wrong payload kind
	_, err = m.ResolveTPM()
	require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)
	_, err = m.ResolveLeafCertificate()
	require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)
}

// TestX509Mechanism covers the two certificate forms and their exclusivity.
func TestX509Mechanism(t *testing.T) {
	leafCert, chain := testCertMaterial(t)

	t.Run("leaf form", func(t *testing.T) {
		m, err := NewX509LeafMechanism(leafCert)
		require.NoError(t, err)
		require.NoError(t, m.Validate())
		assert.True(t, m.HasLeafCertificate())
		assert.False(t, m.HasSigningCertificates())

		resolved, err := m.ResolveLeafCertificate()
		require.NoError(t, err)
		assert.True(t, leafCert.Equal(resolved))

		_, err = m.ResolveSigningCertificates()
		require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)
	})

	t.Run("signing form", func(t *testing.T) {
		m, err := NewX509SigningMechanism(chain)
		require.NoError(t, err)
		require.NoError(t, m.Validate())
		assert.False(t, m.HasLeafCertificate())
		assert.True(t, m.HasSigningCertificates())

		resolved, err := m.ResolveSigningCertificates()
		require.NoError(t, err)
		certs, err := resolved.GetX509Certs()
		require.NoError(t, err)
		assert.Len(t, certs, 1)
	})

	t.Run("both forms rejected", func(t *testing.T) {
		m := Mechanism{
			Type:                KindX509,
			Certificate:         string(leafCert),
			SigningCertificates: string(chain),
		}
		require.ErrorIs(t, m.Validate(), interfaces.ErrInvalidAttestation)
	})

	t.Run("neither form rejected", func(t *testing.T) {
		m := Mechanism{Type: KindX509}
		require.ErrorIs(t, m.Validate(), interfaces.ErrInvalidAttestation)
	})

	t.Run("garbage certificate rejected", func(t *testing.T) {
		_, err := NewX509LeafMechanism(cryptoutils.DeviceCert("not pem"))
		require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)
	})
}

// TestTPMMechanism covers the TPM variant.
func TestTPMMechanism(t *testing.T) {
	ek := []byte{0xAA, 0xBB, 0xCC}
	srk := []byte{0x01, 0x02}

	m, err := NewTPMMechanism(ek, srk)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	payload, err := m.ResolveTPM()
	require.NoError(t, err)
	decoded, err := payload.DecodeEndorsementKey()
	require.NoError(t, err)
	assert.Equal(t, ek, decoded)

	// Endorsement key is required
	_, err = NewTPMMechanism(nil, srk)
	require.ErrorIs(t, err, interfaces.ErrInvalidAttestation)

	// Storage root key is optional
	m2, err := NewTPMMechanism(ek, nil)
	require.NoError(t, err)
	require.NoError(t, m2.Validate())
	assert.Empty(t, m2.TPM.StorageRootKey)
}

// TestExactlyOnePayload rejects mechanisms carrying payloads from more than
// one kind.
func TestExactlyOnePayload(t *testing.T) {
	leafCert, _ := testCertMaterial(t)
	primary := base64.StdEncoding.EncodeToString([]byte("key"))

	testCases := []struct {
		name string
		m    Mechanism
	}{
		{
			name: "symmetric key with certificate",
			m: Mechanism{
				Type:         KindSymmetricKey,
				SymmetricKey: &SymmetricKey{PrimaryKey: primary},
				Certificate:  string(leafCert),
			},
		},
		{
			name: "tpm with symmetric key",
			m: Mechanism{
				Type:         KindTPM,
				TPM:          &TPM{EndorsementKey: primary},
				SymmetricKey: &SymmetricKey{PrimaryKey: primary},
			},
		},
		{
			name: "x509 with tpm",
			m: Mechanism{
				Type:        KindX509,
				Certificate: string(leafCert),
				TPM:         &TPM{EndorsementKey: primary},
			},
		},
		{
			name: "symmetric key without payload",
			m:    Mechanism{Type: KindSymmetricKey},
		},
		{
			name: "tpm without payload",
			m:    Mechanism{Type: KindTPM},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.m.Validate(), interfaces.ErrInvalidAttestation)
		})
	}
}

// TestUnknownKind checks that an unrecognized type tag is an explicit
// failure case, distinct from a malformed payload.
func TestUnknownKind(t *testing.T) {
	m := Mechanism{Type: Kind("quantumToken")}

	require.ErrorIs(t, m.Validate(), interfaces.ErrUnresolvedMechanism)

	_, err := m.ResolveSymmetricKey()
	require.ErrorIs(t, err, interfaces.ErrUnresolvedMechanism)
	_, err = m.ResolveLeafCertificate()
	require.ErrorIs(t, err, interfaces.ErrUnresolvedMechanism)
	_, err = m.ResolveSigningCertificates()
	require.ErrorIs(t, err, interfaces.ErrUnresolvedMechanism)
	_, err = m.ResolveTPM()
	require.ErrorIs(t, err, interfaces.ErrUnresolvedMechanism)

	// The two failure classes stay distinguishable
	assert.False(t, errors.Is(m.Validate(), interfaces.ErrInvalidAttestation))
}

// TestMechanismJSONRoundTrip checks the wire shape and that decoding a
// service payload preserves it byte for byte on re-encode.
func TestMechanismJSONRoundTrip(t *testing.T) {
	primary := base64.StdEncoding.EncodeToString([]byte("round-trip-key"))
	m, err := NewSymmetricKeyMechanism(primary, "")
	require.NoError(t, err)

	encoded, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"type":"symmetricKey"`)
	assert.Contains(t, string(encoded), `"primaryKey"`)
	assert.NotContains(t, string(encoded), "tpm")

	var decoded Mechanism
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.NoError(t, decoded.Validate())

	reencoded, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), string(reencoded))

	// Unknown kinds survive decoding and fail only on use
	var unknown Mechanism
	require.NoError(t, json.Unmarshal([]byte(`{"type":"futureKind"}`), &unknown))
	require.ErrorIs(t, unknown.Validate(), interfaces.ErrUnresolvedMechanism)
}
