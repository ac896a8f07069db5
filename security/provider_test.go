package security

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// TestSymmetricKeyProviderValidation verifies construction-time validation of
// registration IDs and key material.
func TestSymmetricKeyProviderValidation(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString([]byte("device shared key"))

	testCases := []struct {
		name           string
		registrationID string
		primaryKey     string
		secondaryKey   string
		wantErr        error
	}{
		{"valid primary only", "device-01", validKey, "", nil},
		{"valid with secondary", "device-01", validKey, validKey, nil},
		{"empty registration id", "", validKey, "", interfaces.ErrInvalidArgument},
		{"registration id with spaces", "device 01", validKey, "", interfaces.ErrInvalidArgument},
		{"empty primary key", "device-01", "", "", interfaces.ErrInvalidArgument},
		{"undecodable primary key", "device-01", "not!base64***", "", interfaces.ErrInvalidArgument},
		{"undecodable secondary key", "device-01", validKey, "not!base64***", interfaces.ErrInvalidArgument},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := NewSymmetricKeyProvider(tc.registrationID, tc.primaryKey, tc.secondaryKey)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.registrationID, provider.RegistrationID().String())
		})
	}
}

// TestSymmetricKeySigning verifies the signature is an HMAC-SHA256 over the
// payload with the decoded primary key.
func TestSymmetricKeySigning(t *testing.T) {
	rawKey := []byte("device shared key")
	provider, err := NewSymmetricKeyProvider("device-01", base64.StdEncoding.EncodeToString(rawKey), "")
	require.NoError(t, err)

	payload := []byte("registrations/device-01\n1700003600")
	sig, err := provider.Sign(payload)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, rawKey)
	mac.Write(payload)
	assert.Equal(t, mac.Sum(nil), sig)

	// Same payload signs to the same value.
	again, err := provider.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

// TestDeriveDeviceKey verifies group member key derivation: the device key is
// the base64 HMAC-SHA256 of the registration ID under the group master key.
func TestDeriveDeviceKey(t *testing.T) {
	groupKeyRaw := []byte("group master key material")
	groupKey := base64.StdEncoding.EncodeToString(groupKeyRaw)

	derived, err := DeriveDeviceKey(groupKey, "member-device-7")
	require.NoError(t, err)

	mac := hmac.New(sha256.New, groupKeyRaw)
	mac.Write([]byte("member-device-7"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), derived)

	// A group member provider signs with the derived key, not the master.
	member, err := NewGroupMemberProvider("member-device-7", groupKey)
	require.NoError(t, err)

	direct, err := NewSymmetricKeyProvider("member-device-7", derived, "")
	require.NoError(t, err)

	payload := []byte("payload")
	memberSig, err := member.Sign(payload)
	require.NoError(t, err)
	directSig, err := direct.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, directSig, memberSig)

	_, err = DeriveDeviceKey("not!base64***", "member-device-7")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = DeriveDeviceKey(groupKey, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestSymmetricKeyMechanism verifies the provider reports a symmetric key
// attestation payload carrying its own keys.
func TestSymmetricKeyMechanism(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString([]byte("device shared key"))
	provider, err := NewSymmetricKeyProvider("device-01", validKey, "")
	require.NoError(t, err)

	mechanism, err := provider.Mechanism()
	require.NoError(t, err)
	require.NoError(t, mechanism.Validate())
	assert.Equal(t, attestation.KindSymmetricKey, mechanism.Type)

	keys, err := mechanism.ResolveSymmetricKey()
	require.NoError(t, err)
	assert.Equal(t, validKey, keys.PrimaryKey)
}

func leafPublicKey(t *testing.T, key cryptoutils.DevicePrivkey) *ecdsa.PublicKey {
	t.Helper()
	pub, err := key.GetPublicKey()
	require.NoError(t, err)
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	require.True(t, ok)
	return ecdsaPub
}

// TestEmulatedX509Provider verifies chain synthesis from seed material: the
// derived keys are reproducible from the seed and the chain verifies from the
// synthesized root.
func TestEmulatedX509Provider(t *testing.T) {
	seed := []byte("emulated provider seed 0123456789")

	provider, err := NewEmulatedX509Provider("device-01", seed)
	require.NoError(t, err)

	cn, err := provider.Certificate().CommonName()
	require.NoError(t, err)
	assert.Equal(t, "device-01", cn)

	require.NoError(t, cryptoutils.KeyMatchesCertificate(provider.PrivateKey(), provider.Certificate()))
	require.NoError(t, provider.RootCertificate().VerifyCertificate(provider.Certificate(), provider.IntermediateChain()))

	// Same seed reproduces the same leaf key; certificates are re-issued so
	// their DER may differ.
	replay, err := NewEmulatedX509Provider("device-01", seed)
	require.NoError(t, err)
	assert.True(t, leafPublicKey(t, provider.PrivateKey()).Equal(leafPublicKey(t, replay.PrivateKey())))

	other, err := NewEmulatedX509Provider("device-01", []byte("a different seed value entirely"))
	require.NoError(t, err)
	assert.False(t, leafPublicKey(t, provider.PrivateKey()).Equal(leafPublicKey(t, other.PrivateKey())))

	_, err = NewEmulatedX509Provider("device-01", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestSoftwareX509ProviderMaterial verifies the material-backed constructor
// validates its inputs and refuses leaf derivation without a signing key.
func TestSoftwareX509ProviderMaterial(t *testing.T) {
	emulated, err := NewEmulatedX509Provider("device-01", []byte("material source seed value here"))
	require.NoError(t, err)

	provider, err := NewSoftwareX509Provider("device-01",
		emulated.Certificate(), emulated.PrivateKey(), emulated.IntermediateChain())
	require.NoError(t, err)
	assert.Equal(t, "device-01", provider.RegistrationID().String())

	// Key that does not match the certificate is rejected.
	mismatched, err := NewEmulatedX509Provider("device-01", []byte("some other seed for a bad key!!"))
	require.NoError(t, err)
	_, err = NewSoftwareX509Provider("device-01",
		emulated.Certificate(), mismatched.PrivateKey(), emulated.IntermediateChain())
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	// No retained signing key: leaf derivation is unsupported.
	_, err = provider.DeriveLeaf("unit-42")
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedOperation)
}

// TestDeriveLeaf verifies leaf derivation on an emulated provider: the derived
// certificate replaces the current leaf, carries the requested CN, and its key
// is re-derivable from the same inputs.
func TestDeriveLeaf(t *testing.T) {
	seed := []byte("derive leaf seed 0123456789abcd")

	provider, err := NewEmulatedX509Provider("device-01", seed)
	require.NoError(t, err)
	originalKey := leafPublicKey(t, provider.PrivateKey())

	derived, err := provider.DeriveLeaf("unit-42")
	require.NoError(t, err)

	cn, err := derived.CommonName()
	require.NoError(t, err)
	assert.Equal(t, "unit-42", cn)

	// The provider now presents the derived leaf.
	assert.True(t, provider.Certificate().Equal(derived))
	require.NoError(t, cryptoutils.KeyMatchesCertificate(provider.PrivateKey(), provider.Certificate()))
	require.NoError(t, provider.RootCertificate().VerifyCertificate(derived, provider.IntermediateChain()))

	// The derived key differs from the original and is reproducible.
	derivedKey := leafPublicKey(t, provider.PrivateKey())
	assert.False(t, originalKey.Equal(derivedKey))

	replay, err := NewEmulatedX509Provider("device-01", seed)
	require.NoError(t, err)
	_, err = replay.DeriveLeaf("unit-42")
	require.NoError(t, err)
	assert.True(t, derivedKey.Equal(leafPublicKey(t, replay.PrivateKey())))

	_, err = provider.DeriveLeaf("")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestDiceEmulatorValidation verifies the common name rules: all three names
// set and pairwise distinct.
func TestDiceEmulatorValidation(t *testing.T) {
	seed := []byte("dice seed material 0123456789ab")
	measurement := []byte("firmware measurement value")

	testCases := []struct {
		name     string
		aliasCN  string
		signerCN string
		rootCN   string
		wantErr  bool
	}{
		{"valid", "device-alias", "device-signer", "device-root", false},
		{"empty alias", "", "device-signer", "device-root", true},
		{"empty signer", "device-alias", "", "device-root", true},
		{"empty root", "device-alias", "device-signer", "", true},
		{"alias equals signer", "device-ca", "device-ca", "device-root", true},
		{"alias equals root", "device-ca", "device-signer", "device-ca", true},
		{"signer equals root", "device-alias", "device-ca", "device-ca", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			emulator, err := NewDiceEmulator("device-01", tc.aliasCN, tc.signerCN, tc.rootCN, seed, measurement)
			if tc.wantErr {
				require.ErrorIs(t, err, interfaces.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			cn, err := emulator.Certificate().CommonName()
			require.NoError(t, err)
			assert.Equal(t, tc.aliasCN, cn)
		})
	}

	_, err := NewDiceEmulator("device-01", "a", "s", "r", nil, measurement)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	_, err = NewDiceEmulator("device-01", "a", "s", "r", seed, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestDiceEmulatorDerivation verifies the alias key depends on both seed and
// measurement and that the synthesized chain verifies from the root.
func TestDiceEmulatorDerivation(t *testing.T) {
	seed := []byte("dice seed material 0123456789ab")
	measurement := []byte("firmware measurement value")

	emulator, err := NewDiceEmulator("device-01", "device-alias", "device-signer", "device-root", seed, measurement)
	require.NoError(t, err)

	require.NoError(t, cryptoutils.KeyMatchesCertificate(emulator.PrivateKey(), emulator.Certificate()))
	require.NoError(t, emulator.RootCert().VerifyCertificate(emulator.Certificate(), emulator.IntermediateChain()))

	replay, err := NewDiceEmulator("device-01", "device-alias", "device-signer", "device-root", seed, measurement)
	require.NoError(t, err)
	assert.True(t, leafPublicKey(t, emulator.PrivateKey()).Equal(leafPublicKey(t, replay.PrivateKey())))

	remeasured, err := NewDiceEmulator("device-01", "device-alias", "device-signer", "device-root", seed, []byte("patched firmware measurement"))
	require.NoError(t, err)
	assert.False(t, leafPublicKey(t, emulator.PrivateKey()).Equal(leafPublicKey(t, remeasured.PrivateKey())))

	// Root and signer keys come from the seed alone, so the first emulator's
	// root still anchors the remeasured device's chain.
	require.NoError(t, emulator.RootCert().VerifyCertificate(remeasured.Certificate(), remeasured.IntermediateChain()))
}

// TestDiceEmulatorTLSConfig verifies the emulator derives a client TLS context
// presenting the alias certificate with its signer chain.
func TestDiceEmulatorTLSConfig(t *testing.T) {
	emulator, err := NewDiceEmulator("device-01", "device-alias", "device-signer", "device-root",
		[]byte("dice seed material 0123456789ab"), []byte("firmware measurement value"))
	require.NoError(t, err)

	tlsConfig, err := emulator.TLSConfig()
	require.NoError(t, err)
	require.Len(t, tlsConfig.Certificates, 1)
	assert.Len(t, tlsConfig.Certificates[0].Certificate, 2)
}

// TestDiceEmulatorMechanisms verifies the leaf and signing attestation forms.
func TestDiceEmulatorMechanisms(t *testing.T) {
	emulator, err := NewDiceEmulator("device-01", "device-alias", "device-signer", "device-root",
		[]byte("dice seed material 0123456789ab"), []byte("firmware measurement value"))
	require.NoError(t, err)

	leaf, err := emulator.Mechanism()
	require.NoError(t, err)
	require.NoError(t, leaf.Validate())
	assert.True(t, leaf.HasLeafCertificate())

	group, err := emulator.GroupMechanism()
	require.NoError(t, err)
	require.NoError(t, group.Validate())
	assert.True(t, group.HasSigningCertificates())

	chain, err := group.ResolveSigningCertificates()
	require.NoError(t, err)
	certs, err := chain.GetX509Certs()
	require.NoError(t, err)
	assert.Len(t, certs, 2)
}

// TestTPMProviderConstruction verifies argument validation without a module
// present.
func TestTPMProviderConstruction(t *testing.T) {
	_, err := NewTPMProvider("device-01", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewTPMProvider("", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = OpenTPMProvider("device-01", "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
