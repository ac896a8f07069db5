/*
Package httpserver runs the provisioning registry's HTTP server.

It wraps a chi router around a route registrar (the registry handler), adds
request logging and operational endpoints, and pairs the API listener with
a Prometheus metrics listener on a separate port.

# Endpoints

The route registrar mounts the API surface; the server itself contributes:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# TLS

When configured with a certificate and key the server listens for HTTPS and
requests (without requiring) TLS client certificates, so x509-enrolled
devices can present their leaf chain during registration. SAS-only
deployments may run plain HTTP behind a terminating proxy.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		Log:         logger,
		TLSCertFile: "/etc/registry/tls.crt",
		TLSKeyFile:  "/etc/registry/tls.key",

		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	handler := registryhandler.NewHandler(store, assignedHub, policy, logger)
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
