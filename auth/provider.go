package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// Provider is the capability surface transport code consumes to secure a
// connection. Implementations cache their TLS config; hardware-backed ones
// refuse trust reconfiguration with ErrUnsupportedOperation.
type Provider interface {
	GetTLSConfig() (*tls.Config, error)
	SetTrustedCertificate(ca cryptoutils.CACert) error
	SetTrustedCertificatePath(path string) error
}

// TokenProvider extends Provider for backends that authenticate requests
// with SAS tokens rather than client certificates.
type TokenProvider interface {
	Provider
	Token() (Token, error)
}

// SASProvider authenticates with SAS tokens minted by a software signer.
// The TLS config carries trust material only; by default the system root
// pool is used, SetTrustedCertificate installs a private root instead.
type SASProvider struct {
	manager *TokenManager

	mu        sync.Mutex
	roots     *x509.CertPool
	tlsConfig *tls.Config
}

// NewSASProvider creates a device-scoped SAS provider over a software
// signer.
func NewSASProvider(signer interfaces.KeySigner, scope Scope, ttl time.Duration) (*SASProvider, error) {
	return NewServiceSASProvider(signer, scope, ttl, "")
}

// NewServiceSASProvider creates a SAS provider whose tokens carry the
// named service policy as skn. Service tokens authorize enrollment
// management calls rather than a single device.
func NewServiceSASProvider(signer interfaces.KeySigner, scope Scope, ttl time.Duration, keyName string) (*SASProvider, error) {
	manager, err := NewTokenManager(signer, scope, ttl, keyName)
	if err != nil {
		return nil, err
	}
	return &SASProvider{manager: manager}, nil
}

// Token returns the current SAS token, renewing it if expired.
func (p *SASProvider) Token() (Token, error) {
	return p.manager.Token()
}

// GetTLSConfig returns the cached TLS config, building it on first use.
func (p *SASProvider) GetTLSConfig() (*tls.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tlsConfig == nil {
		p.tlsConfig = &tls.Config{
			// nil RootCAs selects the system pool
			RootCAs:    p.roots,
			MinVersion: tls.VersionTLS12,
		}
	}
	return p.tlsConfig, nil
}

// SetTrustedCertificate replaces the trust roots with the given CA and
// drops the cached TLS config so the next GetTLSConfig rebuilds it.
func (p *SASProvider) SetTrustedCertificate(ca cryptoutils.CACert) error {
	if err := ca.Validate(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return fmt.Errorf("%w: no certificates in trust bundle", interfaces.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = pool
	p.tlsConfig = nil
	return nil
}

// SetTrustedCertificatePath loads a CA certificate from disk and installs
// it as the trust root.
func (p *SASProvider) SetTrustedCertificatePath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", interfaces.ErrIOFailure, path, err)
	}
	ca, err := cryptoutils.NewCACert(data)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	return p.SetTrustedCertificate(ca)
}

// tpmKeySigner adapts a module-resident identity key to the KeySigner
// surface TokenManager consumes.
type tpmKeySigner struct {
	module interfaces.TPMSigner
}

func (s tpmKeySigner) Sign(payload []byte) ([]byte, error) {
	return s.module.SignWithIdentity(payload)
}

// HardwareSASProvider authenticates with SAS tokens signed inside a
// hardware module. The TLS context comes from the module and its trust
// material is fixed at provisioning time.
type HardwareSASProvider struct {
	manager *TokenManager
	module  interfaces.TLSContextProvider

	mu        sync.Mutex
	tlsConfig *tls.Config
}

// NewHardwareSASProvider creates a provider over a module that both signs
// with its identity key and derives its own TLS context. A module without
// the TLS capability is rejected with ErrInvalidArgument.
func NewHardwareSASProvider(module interfaces.TPMSigner, scope Scope, ttl time.Duration) (*HardwareSASProvider, error) {
	if module == nil {
		return nil, fmt.Errorf("%w: module is nil", interfaces.ErrInvalidArgument)
	}
	tlsModule, ok := module.(interfaces.TLSContextProvider)
	if !ok {
		return nil, fmt.Errorf("%w: module does not derive a TLS context", interfaces.ErrInvalidArgument)
	}

	manager, err := NewTokenManager(tpmKeySigner{module: module}, scope, ttl, "")
	if err != nil {
		return nil, err
	}
	return &HardwareSASProvider{manager: manager, module: tlsModule}, nil
}

// Token returns the current SAS token, renewing it through the module if
// expired.
func (p *HardwareSASProvider) Token() (Token, error) {
	return p.manager.Token()
}

// GetTLSConfig returns the module's TLS context, derived once and cached
// for the provider's lifetime. Module failures wrap ErrIOFailure.
func (p *HardwareSASProvider) GetTLSConfig() (*tls.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tlsConfig != nil {
		return p.tlsConfig, nil
	}

	tlsConfig, err := p.module.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: deriving module TLS context: %v", interfaces.ErrIOFailure, err)
	}
	p.tlsConfig = tlsConfig
	return tlsConfig, nil
}

// SetTrustedCertificate fails: module trust material is fixed at
// provisioning time.
func (p *HardwareSASProvider) SetTrustedCertificate(ca cryptoutils.CACert) error {
	return fmt.Errorf("%w: module trust material is fixed", interfaces.ErrUnsupportedOperation)
}

// SetTrustedCertificatePath fails: module trust material is fixed at
// provisioning time.
func (p *HardwareSASProvider) SetTrustedCertificatePath(path string) error {
	return fmt.Errorf("%w: module trust material is fixed", interfaces.ErrUnsupportedOperation)
}

// HardwareX509Provider authenticates with the client certificate of a
// hardware-backed X.509 provider. The TLS config presents the provider's
// leaf and intermediate chain and is built once.
type HardwareX509Provider struct {
	provider interfaces.X509Provider
	module   interfaces.TLSContextProvider

	mu        sync.Mutex
	tlsConfig *tls.Config
}

// NewHardwareX509Provider creates a provider from a security provider that
// must expose the X.509 capability; anything else is rejected with
// ErrInvalidArgument.
func NewHardwareX509Provider(provider interfaces.SecurityProvider) (*HardwareX509Provider, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is nil", interfaces.ErrInvalidArgument)
	}
	x509Provider, ok := provider.(interfaces.X509Provider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose X.509 material", interfaces.ErrInvalidArgument)
	}

	p := &HardwareX509Provider{provider: x509Provider}
	if module, ok := provider.(interfaces.TLSContextProvider); ok {
		p.module = module
	}
	return p, nil
}

// GetTLSConfig builds the client-certificate TLS config from the
// provider's material, once, and caches it. Providers that derive their
// own context (a hardware root of trust) are used directly. Failures wrap
// ErrIOFailure.
func (p *HardwareX509Provider) GetTLSConfig() (*tls.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tlsConfig != nil {
		return p.tlsConfig, nil
	}

	if p.module != nil {
		tlsConfig, err := p.module.TLSConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: deriving module TLS context: %v", interfaces.ErrIOFailure, err)
		}
		p.tlsConfig = tlsConfig
		return tlsConfig, nil
	}

	tlsConfig, err := cryptoutils.ClientTLSConfig(
		p.provider.Certificate(), p.provider.PrivateKey(), p.provider.IntermediateChain(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building TLS context: %v", interfaces.ErrIOFailure, err)
	}
	p.tlsConfig = tlsConfig
	return tlsConfig, nil
}

// SetTrustedCertificate fails: hardware-backed identity is immutable after
// construction.
func (p *HardwareX509Provider) SetTrustedCertificate(ca cryptoutils.CACert) error {
	return fmt.Errorf("%w: hardware identity trust material is fixed", interfaces.ErrUnsupportedOperation)
}

// SetTrustedCertificatePath fails: hardware-backed identity is immutable
// after construction.
func (p *HardwareX509Provider) SetTrustedCertificatePath(path string) error {
	return fmt.Errorf("%w: hardware identity trust material is fixed", interfaces.ErrUnsupportedOperation)
}
