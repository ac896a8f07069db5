// Package storage provides persistence for enrollment records with pluggable backends.
//
// The storage package offers a unified interface for storing and retrieving
// individual enrollments and enrollment groups across multiple backends:
//
//   - In-memory storage for tests and single-process deployments
//   - File system storage for local development and small installations
//   - S3-compatible storage for cloud deployments
//   - Vault KV v2 storage for installations that already run HashiCorp Vault
//
// # Storage URI Format
//
// Record stores are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - mem://
//   - file:///var/lib/provisioning/records/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.example.com:8200/secret/enrollments
//
// # Record Namespacing
//
// Every backend keeps individual enrollments and enrollment groups in separate
// namespaces derived from interfaces.RecordKind, so an individual enrollment
// and a group may share an identifier without colliding. Record identifiers
// are percent-encoded before they become file names, object keys or Vault
// path segments.
//
// # Vault Storage
//
// The VaultStore keeps records in a KV v2 secrets engine using the path format
// {mount}/data/{path}/{kind}/{id}. The Vault token is taken from the location
// URI's token parameter or from the VAULT_TOKEN environment variable.
//
// # Usage Example
//
//	factory := storage.NewRecordStoreFactory(logger)
//
//	location, err := interfaces.NewStoreLocation("file:///var/lib/provisioning/records/")
//	if err != nil {
//	    log.Fatalf("Invalid storage location: %v", err)
//	}
//
//	store, err := factory.RecordStoreFor(location)
//	if err != nil {
//	    log.Fatalf("Failed to create record store: %v", err)
//	}
package storage
