package interfaces

import "errors"

// Failure taxonomy shared by every component. Errors are wrapped with
// fmt.Errorf("...: %w", ...) and classified with errors.Is; collaborator
// errors never cross a package boundary untranslated.
var (
	// ErrInvalidArgument indicates a caller-supplied value failed validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidAttestation indicates an attestation mechanism whose kind and
	// payload are inconsistent or incomplete.
	ErrInvalidAttestation = errors.New("invalid attestation mechanism")

	// ErrSigningFailed indicates a signer produced no usable signature.
	ErrSigningFailed = errors.New("signing failed")

	// ErrSecurityProviderFailure indicates an underlying security module
	// (TPM or emulator) failed during an operation.
	ErrSecurityProviderFailure = errors.New("security provider failure")

	// ErrEncodingFailed indicates data could not be encoded or decoded
	// (base64 key material, JSON records, token percent-encoding).
	ErrEncodingFailed = errors.New("encoding failed")

	// ErrUnresolvedMechanism indicates an attestation mechanism whose type
	// tag is not recognized by this implementation.
	ErrUnresolvedMechanism = errors.New("unresolved attestation mechanism")

	// ErrUnsupportedOperation indicates an operation that is not available
	// on the chosen provider variant.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrIOFailure indicates credential material could not be turned into a
	// usable transport context.
	ErrIOFailure = errors.New("io failure")
)
