// Package interfaces defines the core interfaces and types for the device
// provisioning authentication system, separating interface definitions from
// implementations.
//
// # Security Provider Interfaces
//
// SecurityProvider: Base capability carried by every hardware or software
// credential backend, exposing the device registration ID.
//
// KeySigner: Symmetric-key signing capability (HMAC over caller-supplied
// payloads) used for SAS token generation.
//
// TPMSigner: TPM-backed identity signing plus endorsement and storage root
// key access for TPM attestation payloads.
//
// X509Provider: Client certificate, private key and intermediate chain
// access for X.509-authenticated devices.
//
// TLSContextProvider: Implemented by providers that derive their own TLS
// client configuration (hardware-rooted trust that callers must not
// override).
//
// # Storage Interfaces
//
// RecordStore: Keyed storage for enrollment records across multiple backend
// types (memory, file, S3, Vault).
//
// # Identifier Types
//
// The package defines the validated identifier types used throughout the
// system:
//
//   - RegistrationID: Device registration identifier (shared ID grammar)
//   - GroupID: Enrollment group identifier (same grammar)
//   - Hostname: Hub hostname, at least two dot-separated labels
//   - ETag: Opaque record version tag, validated UTF-8
//
// Certificate and key material is carried in the PEM types aliased from the
// cryptoutils package.
//
// # Error Types
//
// The error sentinels in errors.go form the failure taxonomy of the whole
// module; every component wraps its failures in one of them so callers can
// classify with errors.Is.
package interfaces
