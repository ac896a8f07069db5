// Package common holds process-wide build metadata and logger setup shared
// by the service and CLI entrypoints.
package common

// PackageName is the namespace prepended to metric names.
const PackageName = "iot_provisioning_auth"

// Version is overridden at build time via ldflags.
var Version = "dev"
