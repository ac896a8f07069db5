package auth

import (
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/security"
)

func testScope(t *testing.T) Scope {
	t.Helper()
	hostname, err := interfaces.NewHostname("ContosoIoTHub.azure-devices.net")
	require.NoError(t, err)
	deviceID, err := interfaces.NewRegistrationID("device-01")
	require.NoError(t, err)
	return Scope{Hostname: hostname, DeviceID: deviceID}
}

// TestBuildTokenFixedSigner pins the exact wire format for a signer that
// returns the fixed bytes 0x01 0x02.
func TestBuildTokenFixedSigner(t *testing.T) {
	signer := new(security.MockKeySigner)
	signer.On("Sign", mock.Anything).Return([]byte{0x01, 0x02}, nil)

	now := time.Unix(1700000000, 0)
	token, err := BuildToken(signer, testScope(t), time.Hour, "", now)
	require.NoError(t, err)

	encodedScope := url.QueryEscape("ContosoIoTHub.azure-devices.net/devices/device-01")
	assert.Equal(t, "SharedAccessSignature sr="+encodedScope+"&sig=AQI%3D&se=1700003600", token.Value)
	assert.Equal(t, int64(1700003600), token.Expiry)

	// The signable string is the encoded scope joined with the expiry.
	signer.AssertCalled(t, "Sign", []byte(encodedScope+"\n1700003600"))

	assert.False(t, token.IsExpiredAt(now))
	assert.False(t, token.IsExpiredAt(now.Add(3599*time.Second)))
	assert.True(t, token.IsExpiredAt(now.Add(3600*time.Second)))
	assert.True(t, token.IsExpiredAt(now.Add(3601*time.Second)))
}

// TestBuildTokenKeyName verifies the optional policy name rides along as
// skn.
func TestBuildTokenKeyName(t *testing.T) {
	signer := new(security.MockKeySigner)
	signer.On("Sign", mock.Anything).Return([]byte{0x01, 0x02}, nil)

	token, err := BuildToken(signer, testScope(t), time.Hour, "registryWrite", time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Contains(t, token.Value, "&skn=registryWrite")

	parsed, err := ParseToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "registryWrite", parsed.KeyName)
}

// TestBuildTokenFailures verifies signer and argument failures never
// produce a token.
func TestBuildTokenFailures(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("signer error", func(t *testing.T) {
		signer := new(security.MockKeySigner)
		signer.On("Sign", mock.Anything).Return([]byte(nil), errors.New("module offline"))
		_, err := BuildToken(signer, testScope(t), time.Hour, "", now)
		assert.ErrorIs(t, err, interfaces.ErrSigningFailed)
	})

	t.Run("empty signature", func(t *testing.T) {
		signer := new(security.MockKeySigner)
		signer.On("Sign", mock.Anything).Return([]byte{}, nil)
		_, err := BuildToken(signer, testScope(t), time.Hour, "", now)
		assert.ErrorIs(t, err, interfaces.ErrSigningFailed)
	})

	t.Run("nil signer", func(t *testing.T) {
		_, err := BuildToken(nil, testScope(t), time.Hour, "", now)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("zero ttl", func(t *testing.T) {
		signer := new(security.MockKeySigner)
		_, err := BuildToken(signer, testScope(t), 0, "", now)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("invalid scope", func(t *testing.T) {
		signer := new(security.MockKeySigner)
		_, err := BuildToken(signer, Scope{}, time.Hour, "", now)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})
}

// TestTokenRoundTrip builds a token with a real symmetric signer, parses
// it back and verifies it against the shared key.
func TestTokenRoundTrip(t *testing.T) {
	rawKey := []byte("device shared key")
	provider, err := security.NewSymmetricKeyProvider("device-01", base64.StdEncoding.EncodeToString(rawKey), "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	token, err := BuildToken(provider, testScope(t), time.Hour, "", now)
	require.NoError(t, err)

	parsed, err := ParseToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "ContosoIoTHub.azure-devices.net/devices/device-01", parsed.Scope)
	assert.Equal(t, token.Expiry, parsed.Expiry)
	assert.Empty(t, parsed.KeyName)

	require.NoError(t, parsed.Verify(rawKey, now))
	require.NoError(t, parsed.Verify(rawKey, now.Add(3599*time.Second)))

	assert.ErrorIs(t, parsed.Verify([]byte("some other key"), now), ErrTokenSignature)
	assert.ErrorIs(t, parsed.Verify(rawKey, now.Add(3600*time.Second)), ErrTokenExpired)
	assert.ErrorIs(t, parsed.Verify(nil, now), interfaces.ErrInvalidArgument)
}

// TestParseTokenStructure verifies structural violations fail with
// ErrInvalidArgument and decoding violations with ErrEncodingFailed.
func TestParseTokenStructure(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"missing prefix", "Bearer sr=a&sig=AQI%3D&se=1", interfaces.ErrInvalidArgument},
		{"missing sr", "SharedAccessSignature sig=AQI%3D&se=1", interfaces.ErrInvalidArgument},
		{"missing sig", "SharedAccessSignature sr=a&se=1", interfaces.ErrInvalidArgument},
		{"missing se", "SharedAccessSignature sr=a&sig=AQI%3D", interfaces.ErrInvalidArgument},
		{"empty sr", "SharedAccessSignature sr=&sig=AQI%3D&se=1", interfaces.ErrInvalidArgument},
		{"field without value", "SharedAccessSignature srabc", interfaces.ErrInvalidArgument},
		{"duplicate field", "SharedAccessSignature sr=a&sr=b&sig=AQI%3D&se=1", interfaces.ErrInvalidArgument},
		{"unparsable expiry", "SharedAccessSignature sr=a&sig=AQI%3D&se=soon", interfaces.ErrInvalidArgument},
		{"bad percent encoding", "SharedAccessSignature sr=%zz&sig=AQI%3D&se=1", interfaces.ErrEncodingFailed},
		{"bad signature base64", "SharedAccessSignature sr=a&sig=not-base64!&se=1", interfaces.ErrEncodingFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseToken(tc.raw)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
