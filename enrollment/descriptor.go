package enrollment

import (
	"fmt"

	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// ProvisioningStatus controls whether an enrollment may be used to
// register devices.
type ProvisioningStatus string

const (
	StatusEnabled  ProvisioningStatus = "enabled"
	StatusDisabled ProvisioningStatus = "disabled"
)

// Validate accepts the two wire values and empty, which the service
// normalizes to enabled.
func (s ProvisioningStatus) Validate() error {
	switch s {
	case StatusEnabled, StatusDisabled, "":
		return nil
	default:
		return fmt.Errorf("%w: invalid provisioning status %q", interfaces.ErrInvalidArgument, string(s))
	}
}

// TwinProperties carries the desired half of a device twin.
type TwinProperties struct {
	Desired map[string]interface{} `json:"desired,omitempty"`
}

// TwinState is the initial twin document applied to a device at
// registration.
type TwinState struct {
	Tags       map[string]interface{} `json:"tags,omitempty"`
	Properties *TwinProperties        `json:"properties,omitempty"`
}

// IndividualEnrollment authorizes a single device to provision against a
// hub. Etag and the two timestamps are service-assigned, opaque to
// clients, and must round-trip unchanged.
type IndividualEnrollment struct {
	RegistrationID         interfaces.RegistrationID `json:"registrationId"`
	DeviceID               string                    `json:"deviceId,omitempty"`
	Attestation            attestation.Mechanism     `json:"attestation"`
	IoTHubHostName         interfaces.Hostname       `json:"iotHubHostName,omitempty"`
	InitialTwin            *TwinState                `json:"initialTwin,omitempty"`
	ProvisioningStatus     ProvisioningStatus        `json:"provisioningStatus,omitempty"`
	CreatedDateTimeUTC     string                    `json:"createdDateTimeUtc,omitempty"`
	LastUpdatedDateTimeUTC string                    `json:"lastUpdatedDateTimeUtc,omitempty"`
	ETag                   interfaces.ETag           `json:"etag,omitempty"`
}

// NewIndividualEnrollment creates an enabled enrollment for the device
// with the given attestation mechanism.
func NewIndividualEnrollment(registrationID string, mechanism attestation.Mechanism) (*IndividualEnrollment, error) {
	regID, err := interfaces.NewRegistrationID(registrationID)
	if err != nil {
		return nil, err
	}
	if err := ValidateAttestation(KindIndividual, mechanism); err != nil {
		return nil, err
	}

	return &IndividualEnrollment{
		RegistrationID:     regID,
		Attestation:        mechanism,
		ProvisioningStatus: StatusEnabled,
	}, nil
}

// Validate checks the identifier grammar, the attestation policy for
// individual enrollments, and the optional service-assigned fields.
func (e *IndividualEnrollment) Validate() error {
	if err := e.RegistrationID.Validate(); err != nil {
		return err
	}
	if err := ValidateAttestation(KindIndividual, e.Attestation); err != nil {
		return err
	}
	if e.IoTHubHostName != "" {
		if err := e.IoTHubHostName.Validate(); err != nil {
			return err
		}
	}
	if err := e.ProvisioningStatus.Validate(); err != nil {
		return err
	}
	if e.ETag != "" {
		if err := e.ETag.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Enabled reports whether the enrollment may register devices. An unset
// status counts as enabled.
func (e *IndividualEnrollment) Enabled() bool {
	return e.ProvisioningStatus != StatusDisabled
}

// EnrollmentGroup authorizes a fleet of devices sharing a signing
// certificate chain. Group attestation is restricted to the x509
// signing/root form.
type EnrollmentGroup struct {
	EnrollmentGroupID      interfaces.GroupID    `json:"enrollmentGroupId"`
	Attestation            attestation.Mechanism `json:"attestation"`
	IoTHubHostName         interfaces.Hostname   `json:"iotHubHostName,omitempty"`
	InitialTwin            *TwinState            `json:"initialTwin,omitempty"`
	ProvisioningStatus     ProvisioningStatus    `json:"provisioningStatus,omitempty"`
	CreatedDateTimeUTC     string                `json:"createdDateTimeUtc,omitempty"`
	LastUpdatedDateTimeUTC string                `json:"lastUpdatedDateTimeUtc,omitempty"`
	ETag                   interfaces.ETag       `json:"etag,omitempty"`
}

// NewEnrollmentGroup creates an enabled group enrollment. The mechanism
// must carry signing certificates.
func NewEnrollmentGroup(groupID string, mechanism attestation.Mechanism) (*EnrollmentGroup, error) {
	id, err := interfaces.NewGroupID(groupID)
	if err != nil {
		return nil, err
	}
	if err := ValidateAttestation(KindGroup, mechanism); err != nil {
		return nil, err
	}

	return &EnrollmentGroup{
		EnrollmentGroupID:  id,
		Attestation:        mechanism,
		ProvisioningStatus: StatusEnabled,
	}, nil
}

// Validate checks the identifier grammar, the group attestation policy,
// and the optional service-assigned fields.
func (g *EnrollmentGroup) Validate() error {
	if err := g.EnrollmentGroupID.Validate(); err != nil {
		return err
	}
	if err := ValidateAttestation(KindGroup, g.Attestation); err != nil {
		return err
	}
	if g.IoTHubHostName != "" {
		if err := g.IoTHubHostName.Validate(); err != nil {
			return err
		}
	}
	if err := g.ProvisioningStatus.Validate(); err != nil {
		return err
	}
	if g.ETag != "" {
		if err := g.ETag.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Enabled reports whether the group may register devices. An unset status
// counts as enabled.
func (g *EnrollmentGroup) Enabled() bool {
	return g.ProvisioningStatus != StatusDisabled
}
