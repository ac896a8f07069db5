// Package enrollment models the provisioning service's enrollment records
// and the policy that gates them.
//
// IndividualEnrollment authorizes one device; EnrollmentGroup authorizes a
// fleet sharing a signing certificate chain. Both carry an attestation
// mechanism, an optional initial twin, and service-assigned bookkeeping
// fields (etag, timestamps) that are opaque to clients and round-trip
// unchanged. The JSON field names match the provisioning service wire
// format.
//
// ValidateAttestation enforces the per-kind policy: individual enrollments
// accept any internally consistent mechanism, group enrollments accept
// only the x509 signing/root certificate form. Symmetric-key, TPM and
// bare-leaf x509 mechanisms are rejected for groups.
//
// SplitGroupKey and RecoverGroupKey escrow a group's master key as Shamir
// shares so no single operator holds fleet-wide signing capability.
package enrollment
