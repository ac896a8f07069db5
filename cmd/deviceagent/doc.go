// Package main (cmd/deviceagent) implements the device-side provisioning
// client.
//
// The agent registers a device against a provisioning server and prints
// the resulting hub assignment. It authenticates the way the device is
// enrolled:
//
//	register --symmetric-key ... - sign a SAS token with the device key
//	register --group-key ...     - derive the device key from the
//	                               enrollment group key, then sign
//	register --cert-file ...     - present a TLS client certificate,
//	                               chained through --chain-file when the
//	                               enrollment pins a signing CA
//
// The provisioning endpoint is either given directly with --server-addr
// or discovered through a DNS SRV lookup of _iotprov._tcp.<domain> when
// --srv-domain is set. The token command mints the device SAS token
// without contacting the server, which helps when wiring the device to
// other transports manually.
package main
