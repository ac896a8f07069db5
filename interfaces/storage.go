package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// RecordKind indicates the enrollment record namespace.
type RecordKind int

const (
	// IndividualRecord for individual enrollment records
	IndividualRecord RecordKind = iota
	// GroupRecord for enrollment group records
	GroupRecord
)

// String returns the kind name. It doubles as the storage namespace segment,
// so backends lay records out the same way across schemes.
func (rk RecordKind) String() string {
	switch rk {
	case IndividualRecord:
		return "individual"
	case GroupRecord:
		return "group"
	default:
		return "unknown"
	}
}

// Validate checks that the kind is one of the known record namespaces.
func (rk RecordKind) Validate() error {
	switch rk {
	case IndividualRecord, GroupRecord:
		return nil
	default:
		return fmt.Errorf("%w: unknown record kind %d", ErrInvalidArgument, int(rk))
	}
}

// StoreLocation represents URI for a record store backend.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStoreLocation creates a new store location from a URI string with
// validation.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "mem", "file", "s3", "vault":
		// Valid scheme
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported store scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrRecordNotFound is returned when the requested record does not exist
	// in the store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable is returned when a record store is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages.
	ErrBackendUnavailable = errors.New("record store unavailable")

	// ErrInvalidLocationURI is returned when a store location URI is
	// malformed or unsupported. URIs follow the format:
	// [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// RecordStore provides keyed storage for serialized enrollment records.
// Records are namespaced by kind and addressed by identifier; the payload is
// the record's JSON encoding.
type RecordStore interface {
	// Fetch retrieves a record by kind and identifier.
	Fetch(ctx context.Context, kind RecordKind, id string) ([]byte, error)

	// Store saves a record under the given kind and identifier, replacing
	// any previous version.
	Store(ctx context.Context, kind RecordKind, id string, data []byte) error

	// Delete removes a record. Deleting an absent record returns
	// ErrRecordNotFound.
	Delete(ctx context.Context, kind RecordKind, id string) error

	// List returns the identifiers present under a kind.
	List(ctx context.Context, kind RecordKind) ([]string, error)

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}

// RecordStoreFactory creates record stores.
type RecordStoreFactory interface {
	// RecordStoreFor creates a store from a URI.
	// Supports mem://, file://, s3://, vault://
	RecordStoreFor(location StoreLocation) (RecordStore, error)
}
