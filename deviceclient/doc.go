// Package deviceclient is the device-side registration client.
//
// A device constructs a Client over the auth provider matching its
// enrollment: token-capable providers attach a SAS token to the request,
// X.509-backed providers present their client certificate through the TLS
// context. Register sends the request and returns the granted device
// assignment, including the hub the device should connect to.
package deviceclient
