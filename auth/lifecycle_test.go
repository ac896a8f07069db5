package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/security"
)

// TestTokenManagerCaching verifies a fresh token is served from cache and
// the signer runs again only once the token expires.
func TestTokenManagerCaching(t *testing.T) {
	signer := new(security.MockKeySigner)
	signer.On("Sign", mock.Anything).Return([]byte{0x01, 0x02}, nil)

	manager, err := NewTokenManager(signer, testScope(t), time.Hour, "")
	require.NoError(t, err)

	current := time.Unix(1700000000, 0)
	manager.now = func() time.Time { return current }

	first, err := manager.Token()
	require.NoError(t, err)
	assert.Equal(t, int64(1700003600), first.Expiry)

	second, err := manager.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	signer.AssertNumberOfCalls(t, "Sign", 1)

	// One second before expiry the cached token is still served.
	current = time.Unix(1700003599, 0)
	third, err := manager.Token()
	require.NoError(t, err)
	assert.Equal(t, first, third)
	signer.AssertNumberOfCalls(t, "Sign", 1)

	// At the expiry second the token is stale and re-signed.
	current = time.Unix(1700003600, 0)
	renewed, err := manager.Token()
	require.NoError(t, err)
	assert.Equal(t, int64(1700003600+3600), renewed.Expiry)
	assert.NotEqual(t, first.Value, renewed.Value)
	signer.AssertNumberOfCalls(t, "Sign", 2)
}

// TestTokenManagerValidation verifies constructor argument checks.
func TestTokenManagerValidation(t *testing.T) {
	signer := new(security.MockKeySigner)

	_, err := NewTokenManager(nil, testScope(t), time.Hour, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewTokenManager(signer, Scope{}, time.Hour, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewTokenManager(signer, testScope(t), 0, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewTokenManager(signer, testScope(t), -time.Minute, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

// TestTokenManagerSignerFailure verifies a failed renewal leaves no cached
// token behind, so the next call tries the signer again.
func TestTokenManagerSignerFailure(t *testing.T) {
	signer := new(security.MockKeySigner)
	signer.On("Sign", mock.Anything).Return([]byte(nil), errors.New("module offline"))

	manager, err := NewTokenManager(signer, testScope(t), time.Hour, "")
	require.NoError(t, err)

	_, err = manager.Token()
	assert.ErrorIs(t, err, interfaces.ErrSigningFailed)

	_, err = manager.Token()
	assert.ErrorIs(t, err, interfaces.ErrSigningFailed)
	signer.AssertNumberOfCalls(t, "Sign", 2)
}
