package security

import (
	"crypto/tls"

	"github.com/stretchr/testify/mock"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// MockKeySigner mocks the KeySigner interface
type MockKeySigner struct {
	mock.Mock
}

// RegistrationID mocks the RegistrationID method
func (m *MockKeySigner) RegistrationID() interfaces.RegistrationID {
	args := m.Called()
	return args.Get(0).(interfaces.RegistrationID)
}

// Sign mocks the Sign method
func (m *MockKeySigner) Sign(payload []byte) ([]byte, error) {
	args := m.Called(payload)
	return args.Get(0).([]byte), args.Error(1)
}

// MockTPMSigner mocks the TPMSigner interface
type MockTPMSigner struct {
	mock.Mock
}

// RegistrationID mocks the RegistrationID method
func (m *MockTPMSigner) RegistrationID() interfaces.RegistrationID {
	args := m.Called()
	return args.Get(0).(interfaces.RegistrationID)
}

// SignWithIdentity mocks the SignWithIdentity method
func (m *MockTPMSigner) SignWithIdentity(payload []byte) ([]byte, error) {
	args := m.Called(payload)
	return args.Get(0).([]byte), args.Error(1)
}

// EndorsementKey mocks the EndorsementKey method
func (m *MockTPMSigner) EndorsementKey() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

// StorageRootKey mocks the StorageRootKey method
func (m *MockTPMSigner) StorageRootKey() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

// TLSConfig mocks the TLSConfig method
func (m *MockTPMSigner) TLSConfig() (*tls.Config, error) {
	args := m.Called()
	return args.Get(0).(*tls.Config), args.Error(1)
}
