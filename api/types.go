package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// Route patterns served by the registry handler. Path parameters use chi
// placeholder syntax.
const (
	IndividualEnrollmentRoute = "/api/enrollments/individual/{registrationId}"
	EnrollmentGroupRoute      = "/api/enrollments/groups/{enrollmentGroupId}"
	RegisterRoute             = "/api/register/{registrationId}"
)

// StatusAssigned is the registration state reported in a successful
// assignment.
const StatusAssigned = "assigned"

// IndividualEnrollmentPath returns the request path for an individual
// enrollment.
func IndividualEnrollmentPath(id interfaces.RegistrationID) string {
	return fmt.Sprintf("/api/enrollments/individual/%s", url.PathEscape(id.String()))
}

// EnrollmentGroupPath returns the request path for an enrollment group.
func EnrollmentGroupPath(id interfaces.GroupID) string {
	return fmt.Sprintf("/api/enrollments/groups/%s", url.PathEscape(id.String()))
}

// RegisterPath returns the request path for a device registration.
func RegisterPath(id interfaces.RegistrationID) string {
	return fmt.Sprintf("/api/register/%s", url.PathEscape(id.String()))
}

// RegistrationRequest is the device registration request body. The body is
// optional; when present its registration ID must match the URL.
type RegistrationRequest struct {
	RegistrationID string `json:"registrationId,omitempty"`

	// Payload is opaque application data forwarded to the assigned hub.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// DeviceAssignment contains the provisioning result returned after a
// successful device registration.
type DeviceAssignment struct {
	RegistrationID         string `json:"registrationId"`
	DeviceID               string `json:"deviceId"`
	AssignedHub            string `json:"assignedHub,omitempty"`
	Status                 string `json:"status"`
	ETag                   string `json:"etag,omitempty"`
	CreatedDateTimeUTC     string `json:"createdDateTimeUtc,omitempty"`
	LastUpdatedDateTimeUTC string `json:"lastUpdatedDateTimeUtc,omitempty"`
}

// RegistrationProvider defines the interface for registering a device
// against a provisioning registry.
type RegistrationProvider interface {
	// Register authenticates the device and returns its assignment.
	Register(ctx context.Context, registrationID interfaces.RegistrationID, request *RegistrationRequest) (*DeviceAssignment, error)
}

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is matching.
func (e *RequestError) Unwrap() error {
	return e.Err
}
