package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// SymmetricKeyProvider authenticates a device with a shared HMAC key. The
// primary key signs; the secondary key slot exists for rotation and rides
// along in the attestation payload.
type SymmetricKeyProvider struct {
	registrationID interfaces.RegistrationID
	primaryKey     []byte
	secondaryKey   []byte

	primaryKeyB64   string
	secondaryKeyB64 string
}

// NewSymmetricKeyProvider creates a provider from base64-encoded key
// material. The primary key is required, the secondary key optional.
func NewSymmetricKeyProvider(registrationID, primaryKey, secondaryKey string) (*SymmetricKeyProvider, error) {
	regID, err := interfaces.NewRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}

	if primaryKey == "" {
		return nil, fmt.Errorf("%w: primary key is empty", interfaces.ErrInvalidArgument)
	}
	primary, err := base64.StdEncoding.DecodeString(primaryKey)
	if err != nil {
		return nil, fmt.Errorf("%w: primary key is not valid base64: %v", interfaces.ErrInvalidArgument, err)
	}

	var secondary []byte
	if secondaryKey != "" {
		secondary, err = base64.StdEncoding.DecodeString(secondaryKey)
		if err != nil {
			return nil, fmt.Errorf("%w: secondary key is not valid base64: %v", interfaces.ErrInvalidArgument, err)
		}
	}

	return &SymmetricKeyProvider{
		registrationID:  regID,
		primaryKey:      primary,
		secondaryKey:    secondary,
		primaryKeyB64:   primaryKey,
		secondaryKeyB64: secondaryKey,
	}, nil
}

// NewGroupMemberProvider creates a provider for a member of a symmetric key
// enrollment group. The device key is derived from the group master key and
// the device's registration ID.
func NewGroupMemberProvider(registrationID, groupKey string) (*SymmetricKeyProvider, error) {
	deviceKey, err := DeriveDeviceKey(groupKey, registrationID)
	if err != nil {
		return nil, err
	}
	return NewSymmetricKeyProvider(registrationID, deviceKey, "")
}

// DeriveDeviceKey computes a group member's individual key: the HMAC-SHA256
// of the registration ID under the base64-encoded group master key, encoded
// back to base64.
func DeriveDeviceKey(groupKey, registrationID string) (string, error) {
	if registrationID == "" {
		return "", fmt.Errorf("%w: registration id is empty", interfaces.ErrInvalidArgument)
	}
	master, err := base64.StdEncoding.DecodeString(groupKey)
	if err != nil {
		return "", fmt.Errorf("%w: group key is not valid base64: %v", interfaces.ErrInvalidArgument, err)
	}
	if len(master) == 0 {
		return "", fmt.Errorf("%w: group key is empty", interfaces.ErrInvalidArgument)
	}

	mac := hmac.New(sha256.New, master)
	mac.Write([]byte(registrationID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// RegistrationID returns the identity the provider authenticates as.
func (p *SymmetricKeyProvider) RegistrationID() interfaces.RegistrationID {
	return p.registrationID
}

// Sign computes the HMAC-SHA256 of the payload under the primary key.
func (p *SymmetricKeyProvider) Sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, p.primaryKey)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Mechanism returns the attestation payload for this provider's keys.
func (p *SymmetricKeyProvider) Mechanism() (attestation.Mechanism, error) {
	return attestation.NewSymmetricKeyMechanism(p.primaryKeyB64, p.secondaryKeyB64)
}
