package enrollment

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// testMechanisms builds one mechanism of each kind from freshly issued
// certificate material.
func testMechanisms(t *testing.T) (symmetric, leaf, signing, tpm attestation.Mechanism) {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootCert, err := cryptoutils.CreateRootCertificate(rootKey, "fleet-root")
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafCert, err := cryptoutils.CreateLeafCertificate(rootCert, rootKey, &leafKey.PublicKey, "device-01")
	require.NoError(t, err)

	symmetric, err = attestation.NewSymmetricKeyMechanism(
		base64.StdEncoding.EncodeToString([]byte("primary key material")), "")
	require.NoError(t, err)

	leaf, err = attestation.NewX509LeafMechanism(leafCert)
	require.NoError(t, err)

	signing, err = attestation.NewX509SigningMechanism(cryptoutils.CertChain(rootCert))
	require.NoError(t, err)

	tpm, err = attestation.NewTPMMechanism([]byte("endorsement key blob"), []byte("storage root key blob"))
	require.NoError(t, err)

	return symmetric, leaf, signing, tpm
}

// TestValidateAttestationPolicy verifies the per-kind policy: individual
// accepts any consistent mechanism, group accepts only the signing form.
func TestValidateAttestationPolicy(t *testing.T) {
	symmetric, leaf, signing, tpm := testMechanisms(t)

	for name, mechanism := range map[string]attestation.Mechanism{
		"symmetric": symmetric,
		"leaf":      leaf,
		"signing":   signing,
		"tpm":       tpm,
	} {
		t.Run("individual "+name, func(t *testing.T) {
			assert.NoError(t, ValidateAttestation(KindIndividual, mechanism))
		})
	}

	require.NoError(t, ValidateAttestation(KindGroup, signing))

	for name, mechanism := range map[string]attestation.Mechanism{
		"symmetric": symmetric,
		"leaf":      leaf,
		"tpm":       tpm,
	} {
		t.Run("group "+name, func(t *testing.T) {
			err := ValidateAttestation(KindGroup, mechanism)
			require.ErrorIs(t, err, interfaces.ErrInvalidArgument)
			assert.Contains(t, err.Error(), "attestation for group enrollment shall be X509 signing/root certificate")
		})
	}

	// Internal inconsistency is caught before the policy for both kinds.
	broken := symmetric
	broken.Certificate = "stray payload"
	assert.ErrorIs(t, ValidateAttestation(KindIndividual, broken), interfaces.ErrInvalidAttestation)
	assert.ErrorIs(t, ValidateAttestation(KindGroup, broken), interfaces.ErrInvalidAttestation)
}

// TestEntityKindRecordKind verifies the mapping onto storage namespaces.
func TestEntityKindRecordKind(t *testing.T) {
	kind, err := KindIndividual.RecordKind()
	require.NoError(t, err)
	assert.Equal(t, interfaces.IndividualRecord, kind)

	kind, err = KindGroup.RecordKind()
	require.NoError(t, err)
	assert.Equal(t, interfaces.GroupRecord, kind)

	_, err = EntityKind(42).RecordKind()
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestIndividualEnrollmentRoundTrip verifies a service-shaped payload
// decodes, validates, and re-encodes with every field, including the
// server-assigned opaque ones, unchanged.
func TestIndividualEnrollmentRoundTrip(t *testing.T) {
	payload := `{
		"registrationId": "device-01",
		"deviceId": "assigned-device-01",
		"attestation": {
			"type": "symmetricKey",
			"symmetricKey": {
				"primaryKey": "cHJpbWFyeSBrZXkgbWF0ZXJpYWw=",
				"secondaryKey": "c2Vjb25kYXJ5IGtleSBtYXRlcmlhbA=="
			}
		},
		"iotHubHostName": "ContosoIoTHub.azure-devices.net",
		"initialTwin": {
			"tags": {"environment": "production"},
			"properties": {"desired": {"firmware": "1.2.3"}}
		},
		"provisioningStatus": "enabled",
		"createdDateTimeUtc": "2024-01-15T10:30:00Z",
		"lastUpdatedDateTimeUtc": "2024-02-01T08:00:00Z",
		"etag": "a1b2c3d4"
	}`

	var e IndividualEnrollment
	require.NoError(t, json.Unmarshal([]byte(payload), &e))
	require.NoError(t, e.Validate())

	assert.Equal(t, "device-01", e.RegistrationID.String())
	assert.Equal(t, "assigned-device-01", e.DeviceID)
	assert.Equal(t, attestation.KindSymmetricKey, e.Attestation.Type)
	assert.Equal(t, StatusEnabled, e.ProvisioningStatus)
	assert.Equal(t, "2024-01-15T10:30:00Z", e.CreatedDateTimeUTC)
	assert.Equal(t, "a1b2c3d4", e.ETag.String())

	reencoded, err := json.Marshal(&e)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(reencoded))
}

// TestEnrollmentGroupRoundTrip verifies the group wire shape is stable
// across decode and re-encode.
func TestEnrollmentGroupRoundTrip(t *testing.T) {
	_, _, signing, _ := testMechanisms(t)

	group, err := NewEnrollmentGroup("fleet-a", signing)
	require.NoError(t, err)
	group.IoTHubHostName = "ContosoIoTHub.azure-devices.net"
	group.CreatedDateTimeUTC = "2024-01-15T10:30:00Z"
	group.LastUpdatedDateTimeUTC = "2024-01-15T10:30:00Z"
	group.ETag = "e5f6a7b8"

	encoded, err := json.Marshal(group)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"enrollmentGroupId":"fleet-a"`)
	assert.Contains(t, string(encoded), `"type":"x509"`)

	var decoded EnrollmentGroup
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.NoError(t, decoded.Validate())
	assert.Equal(t, *group, decoded)

	reencoded, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

// TestEnrollmentConstructors verifies policy is applied at construction.
func TestEnrollmentConstructors(t *testing.T) {
	symmetric, leaf, signing, _ := testMechanisms(t)

	individual, err := NewIndividualEnrollment("device-01", symmetric)
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, individual.ProvisioningStatus)
	assert.True(t, individual.Enabled())

	_, err = NewIndividualEnrollment("", symmetric)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewIndividualEnrollment("bad id with spaces", symmetric)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	group, err := NewEnrollmentGroup("fleet-a", signing)
	require.NoError(t, err)
	assert.True(t, group.Enabled())

	_, err = NewEnrollmentGroup("fleet-a", leaf)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewEnrollmentGroup("fleet-a", symmetric)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestDescriptorValidation verifies field-level checks on decoded
// descriptors.
func TestDescriptorValidation(t *testing.T) {
	symmetric, _, _, _ := testMechanisms(t)

	e, err := NewIndividualEnrollment("device-01", symmetric)
	require.NoError(t, err)

	e.IoTHubHostName = "nodots"
	assert.ErrorIs(t, e.Validate(), interfaces.ErrInvalidArgument)
	e.IoTHubHostName = ""

	e.ProvisioningStatus = "paused"
	assert.ErrorIs(t, e.Validate(), interfaces.ErrInvalidArgument)
	e.ProvisioningStatus = StatusDisabled
	require.NoError(t, e.Validate())
	assert.False(t, e.Enabled())

	e.ETag = interfaces.ETag([]byte{0xff, 0xfe})
	assert.ErrorIs(t, e.Validate(), interfaces.ErrInvalidArgument)
}

// TestGroupKeyEscrow verifies split and recovery of a group master key.
func TestGroupKeyEscrow(t *testing.T) {
	groupKey := base64.StdEncoding.EncodeToString([]byte("fleet master key material 32b!!!"))

	shares, err := SplitGroupKey(groupKey, 5, 3)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	recovered, err := RecoverGroupKey(shares[:3])
	require.NoError(t, err)
	assert.Equal(t, groupKey, recovered)

	// Any threshold-sized subset works.
	recovered, err = RecoverGroupKey([]string{shares[4], shares[1], shares[3]})
	require.NoError(t, err)
	assert.Equal(t, groupKey, recovered)

	// Below the threshold the combination yields a different value.
	wrong, err := RecoverGroupKey(shares[:2])
	require.NoError(t, err)
	assert.NotEqual(t, groupKey, wrong)
}

// TestGroupKeyEscrowValidation verifies argument checks on both sides.
func TestGroupKeyEscrowValidation(t *testing.T) {
	groupKey := base64.StdEncoding.EncodeToString([]byte("fleet master key material 32b!!!"))

	_, err := SplitGroupKey(groupKey, 5, 1)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = SplitGroupKey(groupKey, 2, 3)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = SplitGroupKey("not!base64***", 5, 3)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = SplitGroupKey("", 5, 3)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = RecoverGroupKey([]string{"b25seSBvbmU="})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = RecoverGroupKey([]string{"not!base64***", "bW9yZQ=="})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
