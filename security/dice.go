package security

import (
	"crypto/ecdsa"
	"crypto/tls"
	"fmt"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// DiceEmulator emulates a hardware root-of-trust following the device
// identity composition pattern. The root and signer identities derive from
// the seed alone; the alias identity additionally binds the firmware
// measurement, so a changed measurement yields a different device identity
// under the same root.
type DiceEmulator struct {
	registrationID interfaces.RegistrationID
	aliasCN        string
	signerCN       string
	rootCN         string
	seed           []byte
	measurement    []byte

	aliasCert  cryptoutils.DeviceCert
	aliasKey   cryptoutils.DevicePrivkey
	signerCert cryptoutils.CACert
	signerKey  *ecdsa.PrivateKey
	rootCert   cryptoutils.CACert
}

// NewDiceEmulator creates an emulator with the given certificate common
// names, seed and measurement. The three common names must be non-empty and
// pairwise distinct; seed and measurement are required so identities stay
// caller-controlled and reproducible.
func NewDiceEmulator(registrationID, aliasCN, signerCN, rootCN string, seed, measurement []byte) (*DiceEmulator, error) {
	regID, err := interfaces.NewRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}

	if aliasCN == "" || signerCN == "" || rootCN == "" {
		return nil, fmt.Errorf("%w: alias, signer and root common names must all be set", interfaces.ErrInvalidArgument)
	}
	if aliasCN == signerCN || aliasCN == rootCN || signerCN == rootCN {
		return nil, fmt.Errorf("%w: alias, signer and root common names must be unique", interfaces.ErrInvalidArgument)
	}
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: seed is empty", interfaces.ErrInvalidArgument)
	}
	if len(measurement) == 0 {
		return nil, fmt.Errorf("%w: measurement is empty", interfaces.ErrInvalidArgument)
	}

	rootKey, err := cryptoutils.DeriveP256Key(seed, nil, "dice-root")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	signerKey, err := cryptoutils.DeriveP256Key(seed, nil, "dice-signer")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	aliasKey, err := cryptoutils.DeriveP256Key(seed, measurement, "dice-alias")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	rootCert, err := cryptoutils.CreateRootCertificate(rootKey, rootCN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	signerCert, err := cryptoutils.CreateIntermediateCertificate(rootCert, rootKey, signerKey, signerCN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	aliasCert, err := cryptoutils.CreateLeafCertificate(signerCert, signerKey, &aliasKey.PublicKey, aliasCN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	aliasPEM, err := cryptoutils.MarshalPrivkey(aliasKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	return &DiceEmulator{
		registrationID: regID,
		aliasCN:        aliasCN,
		signerCN:       signerCN,
		rootCN:         rootCN,
		seed:           seed,
		measurement:    measurement,
		aliasCert:      aliasCert,
		aliasKey:       aliasPEM,
		signerCert:     signerCert,
		signerKey:      signerKey,
		rootCert:       rootCert,
	}, nil
}

// RegistrationID returns the identity the emulator authenticates as.
func (d *DiceEmulator) RegistrationID() interfaces.RegistrationID {
	return d.registrationID
}

// Certificate returns the alias certificate, the device's client identity.
func (d *DiceEmulator) Certificate() cryptoutils.DeviceCert {
	return d.aliasCert
}

// PrivateKey returns the alias private key.
func (d *DiceEmulator) PrivateKey() cryptoutils.DevicePrivkey {
	return d.aliasKey
}

// IntermediateChain returns the signer certificate presented between the
// alias and the root.
func (d *DiceEmulator) IntermediateChain() cryptoutils.CertChain {
	return cryptoutils.CertChain(d.signerCert)
}

// SignerCert returns the intermediate signing certificate.
func (d *DiceEmulator) SignerCert() cryptoutils.CACert {
	return d.signerCert
}

// RootCert returns the emulated root-of-trust certificate.
func (d *DiceEmulator) RootCert() cryptoutils.CACert {
	return d.rootCert
}

// DeriveLeaf replaces the alias with a leaf derived for the given
// identifier and returns the new certificate. The derived key binds seed
// and measurement like the alias; an empty identifier is rejected.
func (d *DiceEmulator) DeriveLeaf(uniqueID string) (cryptoutils.DeviceCert, error) {
	if uniqueID == "" {
		return nil, fmt.Errorf("%w: leaf identifier is empty", interfaces.ErrInvalidArgument)
	}
	if uniqueID == d.signerCN || uniqueID == d.rootCN {
		return nil, fmt.Errorf("%w: leaf identifier collides with a chain common name", interfaces.ErrInvalidArgument)
	}

	leafKey, err := cryptoutils.DeriveP256Key(d.seed, d.measurement, "dice-leaf:"+uniqueID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafCert, err := cryptoutils.CreateLeafCertificate(d.signerCert, d.signerKey, &leafKey.PublicKey, uniqueID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	leafPEM, err := cryptoutils.MarshalPrivkey(leafKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}

	d.aliasCN = uniqueID
	d.aliasCert = leafCert
	d.aliasKey = leafPEM
	return leafCert, nil
}

// TLSConfig derives the client TLS configuration from the current alias
// identity. Trust anchors stay on the system pool; the emulated module does
// not accept caller-injected roots.
func (d *DiceEmulator) TLSConfig() (*tls.Config, error) {
	cfg, err := cryptoutils.ClientTLSConfig(d.aliasCert, d.aliasKey, d.IntermediateChain(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	return cfg, nil
}

// Mechanism returns the individual-enrollment attestation payload: the
// current alias certificate in bare-leaf form.
func (d *DiceEmulator) Mechanism() (attestation.Mechanism, error) {
	return attestation.NewX509LeafMechanism(d.aliasCert)
}

// GroupMechanism returns the group-enrollment attestation payload: the
// signer and root certificates in signing-chain form. Every device sharing
// the seed chains up to this material.
func (d *DiceEmulator) GroupMechanism() (attestation.Mechanism, error) {
	combined := make([]byte, 0, len(d.signerCert)+len(d.rootCert))
	combined = append(combined, d.signerCert...)
	combined = append(combined, d.rootCert...)

	chain, err := cryptoutils.NewCertChain(combined)
	if err != nil {
		return attestation.Mechanism{}, fmt.Errorf("%w: %v", interfaces.ErrSecurityProviderFailure, err)
	}
	return attestation.NewX509SigningMechanism(chain)
}
