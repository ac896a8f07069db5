package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api"
	"github.com/IgorGanapolsky/iot-provisioning-auth/auth"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/deviceclient"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/security"
	"github.com/IgorGanapolsky/iot-provisioning-auth/serviceresolver"
	"github.com/urfave/cli/v2"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "https://127.0.0.1:8443",
	Usage: "provisioning server address, ignored when --srv-domain is set",
}
var flagSRVDomain *cli.StringFlag = &cli.StringFlag{
	Name:  "srv-domain",
	Usage: "domain to resolve the provisioning endpoint from via DNS SRV",
}
var flagDNSServer *cli.StringFlag = &cli.StringFlag{
	Name:  "dns-server",
	Value: serviceresolver.DefaultServerAddr,
	Usage: "DNS server answering SRV lookups",
}
var flagRegistrationID *cli.StringFlag = &cli.StringFlag{
	Name:     "registration-id",
	Required: true,
	Usage:    "device registration identifier",
}
var flagSymmetricKey *cli.StringFlag = &cli.StringFlag{
	Name:  "symmetric-key",
	Usage: "base64 device symmetric key",
}
var flagGroupKey *cli.StringFlag = &cli.StringFlag{
	Name:  "group-key",
	Usage: "base64 enrollment group key to derive the device key from",
}
var flagCertFile *cli.StringFlag = &cli.StringFlag{
	Name:  "cert-file",
	Usage: "PEM file with the device client certificate",
}
var flagKeyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "key-file",
	Usage: "PEM file with the device private key",
}
var flagChainFile *cli.StringFlag = &cli.StringFlag{
	Name:  "chain-file",
	Usage: "PEM file with intermediate certificates to present alongside the leaf",
}
var flagCAFile *cli.StringFlag = &cli.StringFlag{
	Name:  "ca-file",
	Usage: "PEM file with the provisioning server CA, system roots if unset",
}
var flagPayload *cli.StringFlag = &cli.StringFlag{
	Name:  "payload",
	Usage: "JSON object forwarded to the assigned hub with the registration",
}
var flagTTLSeconds *cli.Int64Flag = &cli.Int64Flag{
	Name:  "ttl-seconds",
	Value: 3600,
	Usage: "SAS token lifetime",
}

func main() {
	app := &cli.App{
		Name:  "device-agent",
		Usage: "Register a device against a provisioning server",
		Commands: []*cli.Command{
			&cli.Command{
				Name:  "register",
				Usage: "Authenticate and request a hub assignment",
				Flags: []cli.Flag{
					flagServerAddr,
					flagSRVDomain,
					flagDNSServer,
					flagRegistrationID,
					flagSymmetricKey,
					flagGroupKey,
					flagCertFile,
					flagKeyFile,
					flagChainFile,
					flagCAFile,
					flagPayload,
					flagTTLSeconds,
				},
				Action: func(cCtx *cli.Context) error {
					a, err := NewAgentConfig(cCtx)
					if err != nil {
						return err
					}
					return a.Register(cCtx)
				},
			},
			&cli.Command{
				Name:  "token",
				Usage: "Mint the device SAS token and print it",
				Flags: []cli.Flag{
					flagServerAddr,
					flagSRVDomain,
					flagDNSServer,
					flagRegistrationID,
					flagSymmetricKey,
					flagGroupKey,
					flagTTLSeconds,
				},
				Action: func(cCtx *cli.Context) error {
					a, err := NewAgentConfig(cCtx)
					if err != nil {
						return err
					}
					return a.Token(cCtx)
				},
			},
			&cli.Command{
				Name:  "resolve",
				Usage: "Resolve the provisioning endpoints for a domain",
				Flags: []cli.Flag{
					flagSRVDomain,
					flagDNSServer,
				},
				Action: func(cCtx *cli.Context) error {
					domain := cCtx.String(flagSRVDomain.Name)
					if domain == "" {
						return fmt.Errorf("resolve requires --%s", flagSRVDomain.Name)
					}
					resolver := &serviceresolver.Resolver{ServerAddr: cCtx.String(flagDNSServer.Name)}
					endpoints, err := resolver.Resolve(context.Background(), serviceresolver.ServiceName("iotprov", "tcp", domain))
					if err != nil {
						return err
					}
					for _, endpoint := range endpoints {
						fmt.Println(endpoint.Addr())
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Agent struct {
	ServerAddr     string
	RegistrationID interfaces.RegistrationID
	Scope          auth.Scope
}

func NewAgentConfig(cCtx *cli.Context) (*Agent, error) {
	registrationID, err := interfaces.NewRegistrationID(cCtx.String(flagRegistrationID.Name))
	if err != nil {
		return nil, err
	}

	serverAddr := cCtx.String(flagServerAddr.Name)
	if domain := cCtx.String(flagSRVDomain.Name); domain != "" {
		resolver := &serviceresolver.Resolver{ServerAddr: cCtx.String(flagDNSServer.Name)}
		endpoints, err := resolver.Resolve(context.Background(), serviceresolver.ServiceName("iotprov", "tcp", domain))
		if err != nil {
			return nil, fmt.Errorf("could not resolve provisioning endpoint: %w", err)
		}
		serverAddr = "https://" + endpoints[0].Addr()
	}

	parsed, err := url.Parse(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("could not parse server address: %w", err)
	}
	host, err := interfaces.NewHostname(parsed.Hostname())
	if err != nil {
		return nil, fmt.Errorf("server host cannot scope a SAS token: %w", err)
	}

	return &Agent{
		ServerAddr:     serverAddr,
		RegistrationID: registrationID,
		Scope:          auth.Scope{Hostname: host, DeviceID: registrationID},
	}, nil
}

// signer builds the symmetric key signer from either the device key or the
// enrollment group key.
func (a *Agent) signer(cCtx *cli.Context) (interfaces.KeySigner, error) {
	if groupKey := cCtx.String(flagGroupKey.Name); groupKey != "" {
		return security.NewGroupMemberProvider(a.RegistrationID.String(), groupKey)
	}
	if symmetricKey := cCtx.String(flagSymmetricKey.Name); symmetricKey != "" {
		return security.NewSymmetricKeyProvider(a.RegistrationID.String(), symmetricKey, "")
	}
	return nil, fmt.Errorf("%w: one of --%s or --%s is required", interfaces.ErrInvalidArgument, flagSymmetricKey.Name, flagGroupKey.Name)
}

// provider assembles the transport auth provider from the credential flags.
// Symmetric keys yield a SAS token provider, certificate files a client
// certificate provider.
func (a *Agent) provider(cCtx *cli.Context) (auth.Provider, error) {
	if certFile := cCtx.String(flagCertFile.Name); certFile != "" {
		return a.certProvider(cCtx, certFile)
	}

	signer, err := a.signer(cCtx)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cCtx.Int64(flagTTLSeconds.Name)) * time.Second
	provider, err := auth.NewSASProvider(signer, a.Scope, ttl)
	if err != nil {
		return nil, err
	}
	if caFile := cCtx.String(flagCAFile.Name); caFile != "" {
		if err := provider.SetTrustedCertificatePath(caFile); err != nil {
			return nil, err
		}
	}
	return provider, nil
}

func (a *Agent) certProvider(cCtx *cli.Context, certFile string) (auth.Provider, error) {
	keyFile := cCtx.String(flagKeyFile.Name)
	if keyFile == "" {
		return nil, fmt.Errorf("--%s requires --%s", flagCertFile.Name, flagKeyFile.Name)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("could not read certificate file: %w", err)
	}
	cert, err := cryptoutils.NewDeviceCert(certPEM)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("could not read key file: %w", err)
	}
	key, err := cryptoutils.NewDevicePrivkey(keyPEM)
	if err != nil {
		return nil, err
	}

	var chain cryptoutils.CertChain
	if chainFile := cCtx.String(flagChainFile.Name); chainFile != "" {
		chainPEM, err := os.ReadFile(chainFile)
		if err != nil {
			return nil, fmt.Errorf("could not read chain file: %w", err)
		}
		chain, err = cryptoutils.NewCertChain(chainPEM)
		if err != nil {
			return nil, err
		}
	}

	var roots *x509.CertPool
	if caFile := cCtx.String(flagCAFile.Name); caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("could not read CA file: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
	}

	tlsConfig, err := cryptoutils.ClientTLSConfig(cert, key, chain, roots)
	if err != nil {
		return nil, err
	}
	return &staticTLSProvider{tlsConfig: tlsConfig}, nil
}

// staticTLSProvider serves a TLS config assembled once from files. Trust
// changes after construction are rejected; the CA is a startup flag.
type staticTLSProvider struct {
	tlsConfig *tls.Config
}

func (p *staticTLSProvider) GetTLSConfig() (*tls.Config, error) {
	return p.tlsConfig, nil
}

func (p *staticTLSProvider) SetTrustedCertificate(ca cryptoutils.CACert) error {
	return fmt.Errorf("%w: trust roots are fixed at startup", interfaces.ErrUnsupportedOperation)
}

func (p *staticTLSProvider) SetTrustedCertificatePath(path string) error {
	return fmt.Errorf("%w: trust roots are fixed at startup", interfaces.ErrUnsupportedOperation)
}

func (a *Agent) Register(cCtx *cli.Context) error {
	provider, err := a.provider(cCtx)
	if err != nil {
		return err
	}

	var request *api.RegistrationRequest
	if payload := cCtx.String(flagPayload.Name); payload != "" {
		request = &api.RegistrationRequest{RegistrationID: a.RegistrationID.String()}
		if err := json.Unmarshal([]byte(payload), &request.Payload); err != nil {
			return fmt.Errorf("could not parse payload: %w", err)
		}
	}

	client := &deviceclient.Client{
		ServerAddr: a.ServerAddr,
		Provider:   provider,
		Timeout:    30 * time.Second,
	}
	assignment, err := client.Register(context.Background(), a.RegistrationID, request)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	encoded, _ := json.Marshal(assignment)
	fmt.Println(string(encoded))
	return nil
}

func (a *Agent) Token(cCtx *cli.Context) error {
	signer, err := a.signer(cCtx)
	if err != nil {
		return err
	}

	ttl := time.Duration(cCtx.Int64(flagTTLSeconds.Name)) * time.Second
	token, err := auth.BuildToken(signer, a.Scope, ttl, "", time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token.Value)
	return nil
}
