// Package main (cmd/enrollctl) implements the enrollment management client
// for the provisioning registry.
//
// The tool creates, fetches and deletes individual enrollments and
// enrollment groups over the registry's management API. Management calls
// are authenticated with a service SAS token minted locally from the
// shared access key given with --service-key; against a registry without a
// configured service policy the token flags can be omitted.
//
// Individual enrollments accept one credential per record: a symmetric key
// pair, a leaf certificate, a signing CA chain, or TPM endorsement
// material. When no credential flag is given a fresh symmetric key pair is
// generated and echoed back in the created record. Enrollment groups
// always attest with a signing CA chain.
//
// The key commands operate locally without contacting the registry:
//
//	generate-key      - mint a random symmetric key pair for an enrollment
//	derive-device-key - derive a device key from an enrollment group key
//	split-key         - escrow a group key as Shamir shares
//	recover-key       - reassemble a group key from a share quorum
//
// Splitting a group master key across operators keeps any single share
// useless on its own while a threshold of shares recovers the key, so the
// escrow never weakens the fleet credential.
package main
