// Package security implements the concrete security providers behind the
// authentication layer. A provider owns (or fronts) the credential material
// a device authenticates with and exposes it through the narrow capability
// interfaces defined in the interfaces package.
//
// # Providers
//
// SymmetricKeyProvider signs payloads with a shared HMAC-SHA256 key held in
// memory. Group enrollment members derive their individual key from the
// group master key with DeriveDeviceKey.
//
// SoftwareX509Provider fronts leaf certificate material loaded from PEM, or
// synthesizes a full root, intermediate and leaf chain deterministically
// from seed material for emulation and testing. Emulated providers can
// re-derive a uniquely named leaf with DeriveLeaf.
//
// DiceEmulator emulates a hardware root-of-trust following the device
// identity composition pattern: the alias, signer and root certificates are
// derived from constructor-supplied seed and measurement values, and the
// alias identity changes whenever the measurement does.
//
// TPMProvider delegates signing to a TPM 2.0 module through an HMAC key
// sequence under the endorsement hierarchy and exposes the module's
// endorsement and storage root public blobs for attestation payloads.
// Module failures wrap ErrSecurityProviderFailure.
//
// Every provider validates its parameters at construction; a constructed
// provider never signs with unchecked material.
package security
