package enrollment

import (
	"fmt"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// EntityKind distinguishes the two enrollment record shapes for policy
// decisions.
type EntityKind int

const (
	KindIndividual EntityKind = iota
	KindGroup
)

// String returns the kind name used in logs and storage namespaces.
func (k EntityKind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("entitykind(%d)", int(k))
	}
}

// RecordKind maps the entity kind onto the storage namespace.
func (k EntityKind) RecordKind() (interfaces.RecordKind, error) {
	switch k {
	case KindIndividual:
		return interfaces.IndividualRecord, nil
	case KindGroup:
		return interfaces.GroupRecord, nil
	default:
		return 0, fmt.Errorf("%w: unknown entity kind %d", interfaces.ErrInvalidArgument, int(k))
	}
}

// ValidateAttestation checks the mechanism's internal consistency, then
// applies the per-kind policy. Individual enrollments accept any
// consistent mechanism. Group enrollments accept only the x509
// signing/root certificate form; everything else, including a bare leaf
// certificate, fails with ErrInvalidArgument.
func ValidateAttestation(kind EntityKind, mechanism attestation.Mechanism) error {
	if err := mechanism.Validate(); err != nil {
		return err
	}

	switch kind {
	case KindIndividual:
		return nil
	case KindGroup:
		if !mechanism.HasSigningCertificates() {
			return fmt.Errorf("%w: attestation for group enrollment shall be X509 signing/root certificate", interfaces.ErrInvalidArgument)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown entity kind %d", interfaces.ErrInvalidArgument, int(kind))
	}
}

// ValidateID checks an enrollment identifier against the service grammar.
func ValidateID(id string) error {
	_, err := interfaces.NewRegistrationID(id)
	return err
}

// ValidateHostname checks a hub hostname: at least two non-empty
// dot-separated labels.
func ValidateHostname(hostname string) error {
	_, err := interfaces.NewHostname(hostname)
	return err
}
