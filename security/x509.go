package security

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// SoftwareX509Provider authenticates a device with certificate material held
// in memory. The material either comes from the caller (loaded PEM files) or
// is synthesized deterministically from seed material for emulation; only
// the emulated form retains signing keys and can derive new leaves.
type SoftwareX509Provider struct {
	registrationID interfaces.RegistrationID
	cert           cryptoutils.DeviceCert
	key            cryptoutils.DevicePrivkey
	chain          cryptoutils.CertChain

	// set only on emulated providers
	seed       []byte
	signerCert cryptoutils.CACert
	signerKey  *ecdsa.PrivateKey
	rootCert   cryptoutils.CACert
}

// NewSoftwareX509Provider creates a provider from existing certificate
// material. The key must match the certificate; the intermediate chain is
// optional. Providers built this way hold no signing keys, so DeriveLeaf is
// unavailable.
func NewSoftwareX509Provider(registrationID string, cert cryptoutils.DeviceCert, key cryptoutils.DevicePrivkey, chain cryptoutils.CertChain) (*SoftwareX509Provider, error) {
	regID, err := interfaces.NewRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}

	if err := cert.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	if len(chain) > 0 {
		if err := chain.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
		}
	}
	if err := cryptoutils.KeyMatchesCertificate(key, cert); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}

	return &SoftwareX509Provider{
		registrationID: regID,
		cert:           cert,
		key:            key,
		chain:          chain,
	}, nil
}

// NewEmulatedX509Provider synthesizes a root, intermediate and leaf chain
// deterministically from the seed. The leaf common name is the registration
// ID; the same seed and registration ID always reproduce the same keys.
func NewEmulatedX509Provider(registrationID string, seed []byte) (*SoftwareX509Provider, error) {
	regID, err := interfaces.NewRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: emulation seed is empty", interfaces.ErrInvalidArgument)
	}

	rootKey, err := cryptoutils.DeriveP256Key(seed, nil, "x509-emulated-root")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	signerKey, err := cryptoutils.DeriveP256Key(seed, nil, "x509-emulated-signer")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafKey, err := cryptoutils.DeriveP256Key(seed, nil, "x509-emulated-leaf:"+registrationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	rootCert, err := cryptoutils.CreateRootCertificate(rootKey, registrationID+"-root")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	signerCert, err := cryptoutils.CreateIntermediateCertificate(rootCert, rootKey, signerKey, registrationID+"-signer")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafCert, err := cryptoutils.CreateLeafCertificate(signerCert, signerKey, &leafKey.PublicKey, registrationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafPEM, err := cryptoutils.MarshalPrivkey(leafKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	chain, err := cryptoutils.NewCertChain(append([]byte{}, signerCert...))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	return &SoftwareX509Provider{
		registrationID: regID,
		cert:           leafCert,
		key:            leafPEM,
		chain:          chain,
		seed:           seed,
		signerCert:     signerCert,
		signerKey:      signerKey,
		rootCert:       rootCert,
	}, nil
}

// RegistrationID returns the identity the provider authenticates as.
func (p *SoftwareX509Provider) RegistrationID() interfaces.RegistrationID {
	return p.registrationID
}

// Certificate returns the current leaf certificate.
func (p *SoftwareX509Provider) Certificate() cryptoutils.DeviceCert {
	return p.cert
}

// PrivateKey returns the key matching the current leaf.
func (p *SoftwareX509Provider) PrivateKey() cryptoutils.DevicePrivkey {
	return p.key
}

// IntermediateChain returns the intermediate certificates presented with
// the leaf. May be empty for material-backed providers.
func (p *SoftwareX509Provider) IntermediateChain() cryptoutils.CertChain {
	return p.chain
}

// RootCertificate returns the synthesized root on emulated providers and
// nil otherwise.
func (p *SoftwareX509Provider) RootCertificate() cryptoutils.CACert {
	return p.rootCert
}

// DeriveLeaf replaces the provider's leaf with one derived for the given
// identifier and returns the new certificate. Derivation is deterministic:
// the same seed and identifier reproduce the same key and subject, though
// each call is a fresh issuance. Only emulated providers can derive.
func (p *SoftwareX509Provider) DeriveLeaf(uniqueID string) (cryptoutils.DeviceCert, error) {
	if uniqueID == "" {
		return nil, fmt.Errorf("%w: leaf identifier is empty", interfaces.ErrInvalidArgument)
	}
	if p.signerKey == nil {
		return nil, fmt.Errorf("%w: provider holds no signing material", interfaces.ErrUnsupportedOperation)
	}

	leafKey, err := cryptoutils.DeriveP256Key(p.seed, nil, "x509-emulated-leaf:"+uniqueID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafCert, err := cryptoutils.CreateLeafCertificate(p.signerCert, p.signerKey, &leafKey.PublicKey, uniqueID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafPEM, err := cryptoutils.MarshalPrivkey(leafKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	p.cert = leafCert
	p.key = leafPEM
	return leafCert, nil
}

// Mechanism returns the individual-enrollment attestation payload: the
// current leaf in bare-certificate form.
func (p *SoftwareX509Provider) Mechanism() (attestation.Mechanism, error) {
	return attestation.NewX509LeafMechanism(p.cert)
}
