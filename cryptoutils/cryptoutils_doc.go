// Package cryptoutils provides the certificate and key primitives for
// device credential management.
//
// This package defines the validated PEM credential types carried through
// the rest of the system and the operations that produce them: certificate
// chain creation for emulated device identities, certificate and key
// verification, client TLS configuration assembly and deterministic key
// derivation.
//
// # Credential Types
//
// Credential material is carried as PEM byte slices with validating
// constructors, so a populated value is always structurally sound:
//
//   - DeviceCert: an end-entity client certificate
//   - DevicePrivkey: the matching private key (PKCS8 or EC)
//   - CACert: a certificate authority certificate (IsCA enforced)
//   - CertChain: one or more concatenated certificates, leaf-nearest first
//
// # Certificate Creation
//
// CreateRootCertificate, CreateIntermediateCertificate and
// CreateLeafCertificate build the three-level chains used by emulated
// hardware identities. Roots are self-signed with a path length of one,
// intermediates can only sign end-entity certificates, and leaves carry
// both client and server authentication usages.
//
// # Deterministic Derivation
//
// DeriveP256Key turns secret material and a derivation label into a P-256
// private key. The key is drawn from an HKDF-SHA256 stream with rejection
// sampling over the group order, so equal inputs always yield the same
// uniformly distributed scalar. Emulated providers use it to re-derive
// device identities from seed and measurement values.
package cryptoutils
