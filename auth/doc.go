// Package auth turns security provider capabilities into ready-to-use
// transport credentials: shared access signature (SAS) tokens and TLS
// client configurations.
//
// # SAS tokens
//
// A SAS token authorizes requests against a scope, the hostname plus
// device path the token is minted for. The signable string is the
// URL-encoded scope joined with the expiry by a newline; the signature is
// produced by a KeySigner and carried base64- then URL-encoded. The wire
// format is fixed:
//
//	SharedAccessSignature sr=<scope>&sig=<signature>&se=<expiry>[&skn=<keyname>]
//
// BuildToken mints tokens, ParseToken and Verify validate them on the
// service side. The raw encoded scope is retained through parsing so the
// signable string is reconstructed byte-exactly.
//
// # Renewal
//
// TokenManager owns one token and renews it lazily: Token returns the
// cached value while fresh and synchronously re-signs once expired. There
// are no background timers; staleness is detected at the next call. A
// single mutex serializes the check-then-regenerate section.
//
// # Providers
//
// Provider is the surface transport code consumes. SASProvider serves the
// software signer path with caller-configurable trust roots.
// HardwareSASProvider and HardwareX509Provider wrap hardware-backed
// security providers; their trust material is fixed at provisioning time,
// so SetTrustedCertificate and SetTrustedCertificatePath fail with
// ErrUnsupportedOperation.
package auth
