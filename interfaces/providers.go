package interfaces

import "crypto/tls"

// SecurityProvider is the base capability carried by every credential
// backend, hardware or software. Concrete backends additionally implement
// one of the signer or certificate capabilities below; consumers type-assert
// for the capability they need and reject providers that lack it.
type SecurityProvider interface {
	// RegistrationID returns the device registration identity this provider
	// authenticates as.
	RegistrationID() RegistrationID
}

// KeySigner signs payloads with a symmetric device key. Implementations
// return an error, never an empty signature, when signing fails.
type KeySigner interface {
	Sign(payload []byte) ([]byte, error)
}

// TPMSigner signs payloads with a TPM-resident identity key and exposes the
// module's endorsement and storage root public blobs for attestation
// payloads. Module failures surface as ErrSecurityProviderFailure.
type TPMSigner interface {
	SignWithIdentity(payload []byte) ([]byte, error)
	EndorsementKey() ([]byte, error)
	StorageRootKey() ([]byte, error)
}

// X509Provider exposes the client certificate material of an
// X.509-authenticated device. Material is validated at construction, so the
// accessors do not fail.
type X509Provider interface {
	Certificate() DeviceCert
	PrivateKey() DevicePrivkey
	IntermediateChain() CertChain
}

// TLSContextProvider is implemented by providers whose trust anchors are
// fixed by the underlying module. Callers use the returned config as-is and
// must not inject additional trusted roots.
type TLSContextProvider interface {
	TLSConfig() (*tls.Config, error)
}
