package interfaces

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
)

type DeviceCert = cryptoutils.DeviceCert
type DevicePrivkey = cryptoutils.DevicePrivkey
type CACert = cryptoutils.CACert
type CertChain = cryptoutils.CertChain

// idRegex is the grammar shared by registration and enrollment group
// identifiers. One to 128 characters from the allowed alphanumeric and
// punctuation set.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9\-:.+%_#*?!(),=@;$']{1,128}$`)

// RegistrationID identifies a device registration.
type RegistrationID string

// NewRegistrationID creates a registration ID with validation.
func NewRegistrationID(id string) (RegistrationID, error) {
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("%w: registration id %q does not match the id grammar", ErrInvalidArgument, id)
	}
	return RegistrationID(id), nil
}

// String returns the registration ID as a string.
func (id RegistrationID) String() string {
	return string(id)
}

// Validate checks the registration ID against the shared id grammar.
func (id RegistrationID) Validate() error {
	_, err := NewRegistrationID(string(id))
	return err
}

// GroupID identifies an enrollment group. It shares the registration ID
// grammar.
type GroupID string

// NewGroupID creates an enrollment group ID with validation.
func NewGroupID(id string) (GroupID, error) {
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("%w: enrollment group id %q does not match the id grammar", ErrInvalidArgument, id)
	}
	return GroupID(id), nil
}

// String returns the group ID as a string.
func (id GroupID) String() string {
	return string(id)
}

// Validate checks the group ID against the shared id grammar.
func (id GroupID) Validate() error {
	_, err := NewGroupID(string(id))
	return err
}

// Hostname is an assigned hub hostname.
type Hostname string

// NewHostname creates a hostname with validation. A hostname must consist of
// at least two non-empty dot-separated labels.
func NewHostname(host string) (Hostname, error) {
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("%w: hostname %q must have at least two dot-separated labels", ErrInvalidArgument, host)
	}
	for _, label := range labels {
		if label == "" {
			return "", fmt.Errorf("%w: hostname %q contains an empty label", ErrInvalidArgument, host)
		}
	}
	return Hostname(host), nil
}

// String returns the hostname as a string.
func (h Hostname) String() string {
	return string(h)
}

// Validate checks the hostname format.
func (h Hostname) Validate() error {
	_, err := NewHostname(string(h))
	return err
}

// ETag is an opaque record version tag assigned by the service. Callers
// never interpret it; it only has to round-trip unchanged.
type ETag string

// NewETag creates an etag with validation. The value is opaque but must be
// valid UTF-8.
func NewETag(tag string) (ETag, error) {
	if tag == "" {
		return "", fmt.Errorf("%w: etag is empty", ErrInvalidArgument)
	}
	if !utf8.ValidString(tag) {
		return "", fmt.Errorf("%w: etag is not valid utf-8", ErrInvalidArgument)
	}
	return ETag(tag), nil
}

// String returns the etag as a string.
func (t ETag) String() string {
	return string(t)
}

// Validate checks that the etag is non-empty valid UTF-8.
func (t ETag) Validate() error {
	_, err := NewETag(string(t))
	return err
}
