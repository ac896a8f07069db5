// Package main (cmd/registryserver) implements the provisioning registry server.
//
// The registry server provides HTTP endpoints for enrollment management and
// device registration with credential verification. Enrollment records are
// kept in a pluggable store selected by a location URI (file://, s3://,
// vault:// or mem:// for testing).
//
// Devices registering against the server authenticate either with a SAS
// token signed by their enrolled symmetric key or with a TLS client
// certificate matched against the enrolled leaf fingerprint or signing CA
// chain. Devices without a matching individual enrollment are evaluated
// against enrollment groups.
//
// Enrollment management calls (PUT/GET/DELETE on enrollment records) are
// gated behind a service shared access policy when a service key is
// configured. Without one the management surface is open, which is only
// reasonable for local development.
//
// The server implements graceful shutdown on receiving termination signals
// (SIGINT/SIGTERM) and supports health checks, metrics collection, and
// optional profiling endpoints. Serving over TLS with client certificate
// requests enabled requires both --tls-cert-file and --tls-key-file.
//
// Example usage:
//
//	registry-server --listen-addr=0.0.0.0:8443 \
//	    --assigned-hub=hub.example.com \
//	    --store=file:///var/lib/provisioning/enrollments \
//	    --service-key=c2VydmljZS1rZXktbWF0ZXJpYWw= \
//	    --tls-cert-file=server.crt --tls-key-file=server.key
package main
