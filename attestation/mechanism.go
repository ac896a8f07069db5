// Package attestation defines the attestation mechanism carried by
// enrollment records: a tagged variant over the supported proof kinds with
// exactly one payload, consistent with its kind. Mechanisms are built from
// local credential material or decoded from service responses, validated,
// and never modified afterwards.
package attestation

import (
	"encoding/base64"
	"fmt"

	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// Kind tags the attestation mechanism variant.
type Kind string

const (
	// KindSymmetricKey authenticates with a shared HMAC key.
	KindSymmetricKey Kind = "symmetricKey"
	// KindX509 authenticates with client certificate material.
	KindX509 Kind = "x509"
	// KindTPM authenticates with TPM endorsement key material.
	KindTPM Kind = "tpm"
)

// Known reports whether the kind is one this implementation understands.
// Unknown kinds are an explicit case: records decoded from a newer service
// carry them through Resolve* as ErrUnresolvedMechanism.
func (k Kind) Known() bool {
	switch k {
	case KindSymmetricKey, KindX509, KindTPM:
		return true
	default:
		return false
	}
}

// String returns the kind's wire tag.
func (k Kind) String() string {
	return string(k)
}

// SymmetricKey is the shared-key attestation payload. Keys are base64
// encoded; the secondary key is optional.
type SymmetricKey struct {
	PrimaryKey   string `json:"primaryKey"`
	SecondaryKey string `json:"secondaryKey,omitempty"`
}

// TPM is the TPM attestation payload, carrying the module's public blobs in
// base64. The storage root key is optional.
type TPM struct {
	EndorsementKey string `json:"endorsementKey"`
	StorageRootKey string `json:"storageRootKey,omitempty"`
}

// Mechanism is the attestation variant attached to an enrollment. Exactly
// one payload field is populated, matching Type; for x509 the payload is
// either a bare leaf certificate or a signing certificate chain, never
// both. Certificate material is carried in PEM.
type Mechanism struct {
	Type                Kind          `json:"type"`
	SymmetricKey        *SymmetricKey `json:"symmetricKey,omitempty"`
	Certificate         string        `json:"certificate,omitempty"`
	SigningCertificates string        `json:"signingCertificates,omitempty"`
	TPM                 *TPM          `json:"tpm,omitempty"`
}

// NewSymmetricKeyMechanism creates a symmetric key mechanism. The primary
// key is required; both keys must be valid base64.
func NewSymmetricKeyMechanism(primaryKey, secondaryKey string) (Mechanism, error) {
	if primaryKey == "" {
		return Mechanism{}, fmt.Errorf("%w: symmetric key attestation requires a primary key", interfaces.ErrInvalidAttestation)
	}
	if _, err := base64.StdEncoding.DecodeString(primaryKey); err != nil {
		return Mechanism{}, fmt.Errorf("%w: primary key is not valid base64: %v", interfaces.ErrInvalidAttestation, err)
	}
	if secondaryKey != "" {
		if _, err := base64.StdEncoding.DecodeString(secondaryKey); err != nil {
			return Mechanism{}, fmt.Errorf("%w: secondary key is not valid base64: %v", interfaces.ErrInvalidAttestation, err)
		}
	}

	return Mechanism{
		Type:         KindSymmetricKey,
		SymmetricKey: &SymmetricKey{PrimaryKey: primaryKey, SecondaryKey: secondaryKey},
	}, nil
}

// NewX509LeafMechanism creates an x509 mechanism in the bare-leaf form used
// by individual enrollments.
func NewX509LeafMechanism(cert cryptoutils.DeviceCert) (Mechanism, error) {
	if err := cert.Validate(); err != nil {
		return Mechanism{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidAttestation, err)
	}
	return Mechanism{
		Type:        KindX509,
		Certificate: string(cert),
	}, nil
}

// NewX509SigningMechanism creates an x509 mechanism in the signing/root
// chain form required by enrollment groups.
func NewX509SigningMechanism(chain cryptoutils.CertChain) (Mechanism, error) {
	if err := chain.Validate(); err != nil {
		return Mechanism{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidAttestation, err)
	}
	return Mechanism{
		Type:                KindX509,
		SigningCertificates: string(chain),
	}, nil
}

// NewTPMMechanism creates a TPM mechanism from the module's public blobs.
// The endorsement key is required.
func NewTPMMechanism(endorsementKey, storageRootKey []byte) (Mechanism, error) {
	if len(endorsementKey) == 0 {
		return Mechanism{}, fmt.Errorf("%w: tpm attestation requires an endorsement key", interfaces.ErrInvalidAttestation)
	}

	m := Mechanism{
		Type: KindTPM,
		TPM:  &TPM{EndorsementKey: base64.StdEncoding.EncodeToString(endorsementKey)},
	}
	if len(storageRootKey) > 0 {
		m.TPM.StorageRootKey = base64.StdEncoding.EncodeToString(storageRootKey)
	}
	return m, nil
}

// Validate checks the kind and payload for consistency: the payload matching
// Type must be populated and well formed and every other payload absent. An
// unknown Type fails with ErrUnresolvedMechanism.
func (m Mechanism) Validate() error {
	switch m.Type {
	case KindSymmetricKey:
		if m.SymmetricKey == nil {
			return fmt.Errorf("%w: symmetric key payload is missing", interfaces.ErrInvalidAttestation)
		}
		if m.Certificate != "" || m.SigningCertificates != "" || m.TPM != nil {
			return fmt.Errorf("%w: symmetric key mechanism carries extra payloads", interfaces.ErrInvalidAttestation)
		}
		if m.SymmetricKey.PrimaryKey == "" {
			return fmt.Errorf("%w: symmetric key attestation requires a primary key", interfaces.ErrInvalidAttestation)
		}
		if _, err := base64.StdEncoding.DecodeString(m.SymmetricKey.PrimaryKey); err != nil {
			return fmt.Errorf("%w: primary key is not valid base64: %v", interfaces.ErrInvalidAttestation, err)
		}
		if m.SymmetricKey.SecondaryKey != "" {
			if _, err := base64.StdEncoding.DecodeString(m.SymmetricKey.SecondaryKey); err != nil {
				return fmt.Errorf("%w: secondary key is not valid base64: %v", interfaces.ErrInvalidAttestation, err)
			}
		}
		return nil

	case KindX509:
		if m.SymmetricKey != nil || m.TPM != nil {
			return fmt.Errorf("%w: x509 mechanism carries extra payloads", interfaces.ErrInvalidAttestation)
		}
		hasLeaf := m.Certificate != ""
		hasSigning := m.SigningCertificates != ""
		if hasLeaf == hasSigning {
			return fmt.Errorf("%w: x509 mechanism requires exactly one of certificate or signingCertificates", interfaces.ErrInvalidAttestation)
		}
		if hasLeaf {
			if _, err := cryptoutils.NewDeviceCert([]byte(m.Certificate)); err != nil {
				return fmt.Errorf("%w: %v", interfaces.ErrInvalidAttestation, err)
			}
			return nil
		}
		if _, err := cryptoutils.NewCertChain([]byte(m.SigningCertificates)); err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrInvalidAttestation, err)
		}
		return nil

	case KindTPM:
		if m.TPM == nil {
			return fmt.Errorf("%w: tpm payload is missing", interfaces.ErrInvalidAttestation)
		}
		if m.SymmetricKey != nil || m.Certificate != "" || m.SigningCertificates != "" {
			return fmt.Errorf("%w: tpm mechanism carries extra payloads", interfaces.ErrInvalidAttestation)
		}
		if m.TPM.EndorsementKey == "" {
			return fmt.Errorf("%w: tpm attestation requires an endorsement key", interfaces.ErrInvalidAttestation)
		}
		if _, err := base64.StdEncoding.DecodeString(m.TPM.EndorsementKey); err != nil {
			return fmt.Errorf("%w: endorsement key is not valid base64: %v", interfaces.ErrInvalidAttestation, err)
		}
		if m.TPM.StorageRootKey != "" {
			if _, err := base64.StdEncoding.DecodeString(m.TPM.StorageRootKey); err != nil {
				return fmt.Errorf("%w: storage root key is not valid base64: %v", interfaces.ErrInvalidAttestation, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown attestation type %q", interfaces.ErrUnresolvedMechanism, string(m.Type))
	}
}

// HasLeafCertificate reports whether the mechanism is x509 in the bare-leaf
// form.
func (m Mechanism) HasLeafCertificate() bool {
	return m.Type == KindX509 && m.Certificate != ""
}

// HasSigningCertificates reports whether the mechanism is x509 in the
// signing/root chain form.
func (m Mechanism) HasSigningCertificates() bool {
	return m.Type == KindX509 && m.SigningCertificates != ""
}

// ResolveSymmetricKey returns the symmetric key payload. An unknown Type
// fails with ErrUnresolvedMechanism, a different known Type with
// ErrInvalidAttestation.
func (m Mechanism) ResolveSymmetricKey() (SymmetricKey, error) {
	if !m.Type.Known() {
		return SymmetricKey{}, fmt.Errorf("%w: unknown attestation type %q", interfaces.ErrUnresolvedMechanism, string(m.Type))
	}
	if m.Type != KindSymmetricKey || m.SymmetricKey == nil {
		return SymmetricKey{}, fmt.Errorf("%w: mechanism is not a symmetric key attestation", interfaces.ErrInvalidAttestation)
	}
	return *m.SymmetricKey, nil
}

// ResolveLeafCertificate returns the leaf certificate of an x509 mechanism
// in bare-leaf form.
func (m Mechanism) ResolveLeafCertificate() (cryptoutils.DeviceCert, error) {
	if !m.Type.Known() {
		return nil, fmt.Errorf("%w: unknown attestation type %q", interfaces.ErrUnresolvedMechanism, string(m.Type))
	}
	if !m.HasLeafCertificate() {
		return nil, fmt.Errorf("%w: mechanism does not carry a leaf certificate", interfaces.ErrInvalidAttestation)
	}
	return cryptoutils.NewDeviceCert([]byte(m.Certificate))
}

// ResolveSigningCertificates returns the signing chain of an x509 mechanism
// in signing/root form.
func (m Mechanism) ResolveSigningCertificates() (cryptoutils.CertChain, error) {
	if !m.Type.Known() {
		return nil, fmt.Errorf("%w: unknown attestation type %q", interfaces.ErrUnresolvedMechanism, string(m.Type))
	}
	if !m.HasSigningCertificates() {
		return nil, fmt.Errorf("%w: mechanism does not carry signing certificates", interfaces.ErrInvalidAttestation)
	}
	return cryptoutils.NewCertChain([]byte(m.SigningCertificates))
}

// ResolveTPM returns the TPM payload.
func (m Mechanism) ResolveTPM() (TPM, error) {
	if !m.Type.Known() {
		return TPM{}, fmt.Errorf("%w: unknown attestation type %q", interfaces.ErrUnresolvedMechanism, string(m.Type))
	}
	if m.Type != KindTPM || m.TPM == nil {
		return TPM{}, fmt.Errorf("%w: mechanism is not a tpm attestation", interfaces.ErrInvalidAttestation)
	}
	return *m.TPM, nil
}

// DecodeEndorsementKey returns the raw endorsement key bytes.
func (p TPM) DecodeEndorsementKey() ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(p.EndorsementKey)
	if err != nil {
		return nil, fmt.Errorf("%w: endorsement key is not valid base64: %v", interfaces.ErrEncodingFailed, err)
	}
	return blob, nil
}
