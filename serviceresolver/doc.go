// Package serviceresolver discovers provisioning service endpoints through
// DNS SRV records.
//
// Devices ship with a stable service domain rather than a host list. Before
// registering, a device resolves the domain's SRV record set and walks the
// returned endpoints in priority order until one accepts the connection.
// This keeps endpoint rollover a pure DNS operation; no device-side
// configuration changes when registry instances move.
//
// # SRV Resolution
//
// Queries go to a configurable DNS server (the systemd-resolved stub
// resolver by default) for the conventional owner name
//
//	_iotprov._tcp.<domain>
//
// built with ServiceName. Each SRV answer contributes one Endpoint carrying
// the target host, port, priority and weight. Endpoints are sorted by
// priority first (lower preferred), then weight (higher preferred), so
// callers can try them front to back.
//
// # Usage Example
//
//	resolver := &serviceresolver.Resolver{}
//	endpoints, err := resolver.Resolve(ctx,
//		serviceresolver.ServiceName("iotprov", "tcp", "example.com"))
//	if err != nil {
//		log.Fatalf("Failed to resolve service: %v", err)
//	}
//
//	// Try endpoints[0].Addr() first, fall through on connect errors.
package serviceresolver
