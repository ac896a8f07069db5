package security

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// maxDigestBuffer is the minimum TPM2B_MAX_BUFFER size every module must
// support; see Part 3, Commands, section 17.4.1.
const maxDigestBuffer = 1024

// TPMProvider authenticates a device with keys resident in a TPM 2.0
// module. The identity key is an HMAC primary under the endorsement
// hierarchy, recreated from the module seed on every use, so nothing needs
// to be persisted. The mutex serializes module access; TPM resources are
// too scarce for concurrent sequences.
type TPMProvider struct {
	registrationID interfaces.RegistrationID
	device         transport.TPMCloser
	mu             sync.Mutex
}

// NewTPMProvider creates a provider over an open TPM transport.
func NewTPMProvider(registrationID string, device transport.TPMCloser) (*TPMProvider, error) {
	regID, err := interfaces.NewRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("%w: tpm device is nil", interfaces.ErrInvalidArgument)
	}
	return &TPMProvider{registrationID: regID, device: device}, nil
}

// OpenTPMProvider opens the TPM character device at the given path, for
// example /dev/tpmrm0, and wraps it in a provider.
func OpenTPMProvider(registrationID, devicePath string) (*TPMProvider, error) {
	if devicePath == "" {
		return nil, fmt.Errorf("%w: tpm device path is empty", interfaces.ErrInvalidArgument)
	}

	device, err := transport.OpenTPM(devicePath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", interfaces.ErrSecurityProviderFailure, devicePath, err)
	}
	return NewTPMProvider(registrationID, device)
}

// RegistrationID returns the identity the provider authenticates as.
func (p *TPMProvider) RegistrationID() interfaces.RegistrationID {
	return p.registrationID
}

// Close releases the TPM transport.
func (p *TPMProvider) Close() error {
	return p.device.Close()
}

func identityKeyTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgKeyedHash,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			SignEncrypt:         true,
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
		},
		Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgKeyedHash,
			&tpm2.TPMSKeyedHashParms{
				Scheme: tpm2.TPMTKeyedHashScheme{
					Scheme: tpm2.TPMAlgHMAC,
					Details: tpm2.NewTPMUSchemeKeyedHash(tpm2.TPMAlgHMAC,
						&tpm2.TPMSSchemeHMAC{
							HashAlg: tpm2.TPMAlgSHA256,
						}),
				},
			}),
	}
}

func rsaKeyTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			SignEncrypt:         true,
		},
		Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Scheme: tpm2.TPMTRSAScheme{
					Scheme: tpm2.TPMAlgRSASSA,
					Details: tpm2.NewTPMUAsymScheme(tpm2.TPMAlgRSASSA,
						&tpm2.TPMSSigSchemeRSASSA{HashAlg: tpm2.TPMAlgSHA256}),
				},
				KeyBits: tpm2.TPMKeyBits(2048),
			},
		),
	}
}

// SignWithIdentity computes the HMAC of the payload with the module's
// identity key. The module never returns an empty signature as success;
// any module failure wraps ErrSecurityProviderFailure.
func (p *TPMProvider) SignWithIdentity(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", interfaces.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	auth, closeSession, err := tpm2.HMACSession(p.device, tpm2.TPMAlgSHA256, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: create authorization session: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	defer func() { _ = closeSession() }()

	keyResp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHEndorsement,
			Auth:   auth,
		},
		InPublic: tpm2.New2B(identityKeyTemplate()),
	}.Execute(p.device)
	if err != nil {
		return nil, fmt.Errorf("%w: create identity key: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	keyHandle, keyName := keyResp.ObjectHandle, keyResp.Name
	defer func() {
		_, _ = (tpm2.FlushContext{FlushHandle: keyHandle}).Execute(p.device)
	}()

	sequenceAuth := make([]byte, 16)
	if _, err := rand.Read(sequenceAuth); err != nil {
		return nil, fmt.Errorf("%w: generating sequence auth: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	startResp, err := tpm2.HmacStart{
		Handle: tpm2.AuthHandle{
			Handle: keyHandle,
			Name:   keyName,
			Auth:   auth,
		},
		Auth: tpm2.TPM2BAuth{
			Buffer: sequenceAuth,
		},
		// Null hash selects the algorithm from the key scheme; see Part 3,
		// Commands, section 17.2.1.
		HashAlg: tpm2.TPMAlgNull,
	}.Execute(p.device)
	if err != nil {
		return nil, fmt.Errorf("%w: starting hmac sequence: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	sequenceHandle := tpm2.AuthHandle{
		Handle: startResp.SequenceHandle,
		Auth:   tpm2.PasswordAuth(sequenceAuth),
	}

	for offset := 0; offset < len(payload); offset += maxDigestBuffer {
		end := offset + maxDigestBuffer
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := (tpm2.SequenceUpdate{
			SequenceHandle: sequenceHandle,
			Buffer: tpm2.TPM2BMaxBuffer{
				Buffer: payload[offset:end],
			},
		}).Execute(p.device); err != nil {
			return nil, fmt.Errorf("%w: updating hmac sequence: %v", interfaces.ErrSecurityProviderFailure, err)
		}
	}

	completeResp, err := tpm2.SequenceComplete{
		SequenceHandle: sequenceHandle,
		Hierarchy:      tpm2.TPMRHEndorsement,
	}.Execute(p.device)
	if err != nil {
		return nil, fmt.Errorf("%w: completing hmac sequence: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	signature := completeResp.Result.Buffer
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: module returned an empty signature", interfaces.ErrSecurityProviderFailure)
	}
	return signature, nil
}

// EndorsementKey returns the module's endorsement public key as PKIX DER.
func (p *TPMProvider) EndorsementKey() ([]byte, error) {
	return p.primaryPublicBlob(tpm2.TPMRHEndorsement)
}

// StorageRootKey returns the module's storage root public key as PKIX DER.
func (p *TPMProvider) StorageRootKey() ([]byte, error) {
	return p.primaryPublicBlob(tpm2.TPMRHOwner)
}

// primaryPublicBlob recreates the well-known primary under the hierarchy
// and reads back its public area. Seed plus template always regenerate the
// same key, so the blob is stable across calls and reboots.
func (p *TPMProvider) primaryPublicBlob(hierarchy tpm2.TPMHandle) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keyResp, err := tpm2.CreatePrimary{
		PrimaryHandle: hierarchy,
		InPublic:      tpm2.New2B(rsaKeyTemplate()),
	}.Execute(p.device)
	if err != nil {
		return nil, fmt.Errorf("%w: create primary key: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	defer func() {
		_, _ = (tpm2.FlushContext{FlushHandle: keyResp.ObjectHandle}).Execute(p.device)
	}()

	readResp, err := tpm2.ReadPublic{ObjectHandle: keyResp.ObjectHandle}.Execute(p.device)
	if err != nil {
		return nil, fmt.Errorf("%w: reading public area: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	data, err := readResp.OutPublic.Contents()
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshaling public area: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	rsaDetail, err := data.Parameters.RSADetail()
	if err != nil {
		return nil, fmt.Errorf("%w: rsa params: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	rsaUnique, err := data.Unique.RSA()
	if err != nil {
		return nil, fmt.Errorf("%w: rsa pubkey: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	pubkey, err := tpm2.RSAPub(rsaDetail, rsaUnique)
	if err != nil {
		return nil, fmt.Errorf("%w: assembling rsa.PublicKey: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	blob, err := x509.MarshalPKIXPublicKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling public key: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	return blob, nil
}

// TLSConfig returns the module's transport configuration. Trust anchors are
// fixed by the module; callers must not inject additional roots.
func (p *TPMProvider) TLSConfig() (*tls.Config, error) {
	return &tls.Config{MinVersion: tls.VersionTLS12}, nil
}

// Mechanism returns the TPM attestation payload built from the module's
// endorsement and storage root public blobs.
func (p *TPMProvider) Mechanism() (attestation.Mechanism, error) {
	ek, err := p.EndorsementKey()
	if err != nil {
		return attestation.Mechanism{}, err
	}
	srk, err := p.StorageRootKey()
	if err != nil {
		return attestation.Mechanism{}, err
	}
	return attestation.NewTPMMechanism(ek, srk)
}
