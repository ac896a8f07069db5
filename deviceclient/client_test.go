package deviceclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api"
	"github.com/IgorGanapolsky/iot-provisioning-auth/api/registryhandler"
	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/auth"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/enrollment"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/security"
	"github.com/IgorGanapolsky/iot-provisioning-auth/storage"
)

const testKeyB64 = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRegistry runs a real registry over TLS and returns the server plus a
// management client wired to it.
func startRegistry(t *testing.T) (*httptest.Server, *registryhandler.Client) {
	t.Helper()

	handler := registryhandler.NewHandler(storage.NewMemStore(), "hub.example.com", nil, testLogger())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	srv := httptest.NewUnstartedServer(router)
	srv.TLS = &tls.Config{ClientAuth: tls.RequestClientCert}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	mgmt := registryhandler.NewClient(srv.URL)
	mgmt.SetHTTPClient(srv.Client())
	return srv, mgmt
}

// serverCA returns the test server's certificate as a trust anchor.
func serverCA(t *testing.T, srv *httptest.Server) cryptoutils.CACert {
	t.Helper()

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	ca, err := cryptoutils.NewCACert(pemBytes)
	require.NoError(t, err)
	return ca
}

func sasProvider(t *testing.T, srv *httptest.Server, registrationID, keyB64 string) *auth.SASProvider {
	t.Helper()

	signer, err := security.NewSymmetricKeyProvider(registrationID, keyB64, "")
	require.NoError(t, err)
	scope := auth.Scope{Hostname: "hub.example.com", DeviceID: interfaces.RegistrationID(registrationID)}
	provider, err := auth.NewSASProvider(signer, scope, time.Hour)
	require.NoError(t, err)
	require.NoError(t, provider.SetTrustedCertificate(serverCA(t, srv)))
	return provider
}

// TestRegisterWithSASToken runs the full symmetric key flow against a live
// registry: enroll through the management client, register with a SAS
// token minted by the device's provider.
func TestRegisterWithSASToken(t *testing.T) {
	srv, mgmt := startRegistry(t)

	mechanism, err := attestation.NewSymmetricKeyMechanism(testKeyB64, "")
	require.NoError(t, err)
	record := &enrollment.IndividualEnrollment{
		RegistrationID: "device-01",
		DeviceID:       "sensor-1",
		Attestation:    mechanism,
	}
	_, err = mgmt.UpsertIndividualEnrollment(context.Background(), record, "")
	require.NoError(t, err)

	client := &Client{ServerAddr: srv.URL, Provider: sasProvider(t, srv, "device-01", testKeyB64)}
	assignment, err := client.Register(context.Background(), "device-01", nil)
	require.NoError(t, err)

	assert.Equal(t, "device-01", assignment.RegistrationID)
	assert.Equal(t, "sensor-1", assignment.DeviceID)
	assert.Equal(t, "hub.example.com", assignment.AssignedHub)
	assert.Equal(t, api.StatusAssigned, assignment.Status)
}

// staticProvider serves a fixed TLS config; it stands in for the
// X.509-backed providers whose trust material is fixed at provisioning.
type staticProvider struct {
	tlsConfig *tls.Config
}

func (p *staticProvider) GetTLSConfig() (*tls.Config, error)                { return p.tlsConfig, nil }
func (p *staticProvider) SetTrustedCertificate(ca cryptoutils.CACert) error { return nil }
func (p *staticProvider) SetTrustedCertificatePath(path string) error       { return nil }

// TestRegisterWithClientCertificate runs the group flow: the device
// presents a leaf chained to the fleet root enrolled with the group.
func TestRegisterWithClientCertificate(t *testing.T) {
	srv, mgmt := startRegistry(t)

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	fleetRoot, err := cryptoutils.CreateRootCertificate(caKey, "Fleet Root")
	require.NoError(t, err)

	mechanism, err := attestation.NewX509SigningMechanism(cryptoutils.CertChain(fleetRoot))
	require.NoError(t, err)
	group := &enrollment.EnrollmentGroup{
		EnrollmentGroupID: "fleet-a",
		Attestation:       mechanism,
		IoTHubHostName:    "hub-a.example.com",
	}
	_, err = mgmt.UpsertEnrollmentGroup(context.Background(), group, "")
	require.NoError(t, err)

	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leaf, err := cryptoutils.CreateLeafCertificate(fleetRoot, caKey, &deviceKey.PublicKey, "device-7")
	require.NoError(t, err)
	keyPEM, err := cryptoutils.MarshalPrivkey(deviceKey)
	require.NoError(t, err)
	clientCert, err := tls.X509KeyPair(leaf, keyPEM)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	provider := &staticProvider{tlsConfig: &tls.Config{
		RootCAs:      roots,
		Certificates: []tls.Certificate{clientCert},
		MinVersion:   tls.VersionTLS12,
	}}

	client := &Client{ServerAddr: srv.URL, Provider: provider}
	assignment, err := client.Register(context.Background(), "device-7", nil)
	require.NoError(t, err)

	assert.Equal(t, "device-7", assignment.DeviceID)
	assert.Equal(t, "hub-a.example.com", assignment.AssignedHub)
}

// TestRegisterDenied verifies service denials surface with the response
// status attached.
func TestRegisterDenied(t *testing.T) {
	srv, mgmt := startRegistry(t)

	mechanism, err := attestation.NewSymmetricKeyMechanism(testKeyB64, "")
	require.NoError(t, err)
	record := &enrollment.IndividualEnrollment{RegistrationID: "device-01", Attestation: mechanism}
	_, err = mgmt.UpsertIndividualEnrollment(context.Background(), record, "")
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		wrongKey := base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
		client := &Client{ServerAddr: srv.URL, Provider: sasProvider(t, srv, "device-01", wrongKey)}
		_, err := client.Register(context.Background(), "device-01", nil)

		var reqErr *api.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	})

	t.Run("unknown registration id", func(t *testing.T) {
		client := &Client{ServerAddr: srv.URL, Provider: sasProvider(t, srv, "device-99", testKeyB64)}
		_, err := client.Register(context.Background(), "device-99", nil)

		var reqErr *api.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
		assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	})
}

func TestRegisterValidation(t *testing.T) {
	provider := &staticProvider{tlsConfig: &tls.Config{}}

	t.Run("empty server address", func(t *testing.T) {
		client := &Client{Provider: provider}
		_, err := client.Register(context.Background(), "device-01", nil)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("nil provider", func(t *testing.T) {
		client := &Client{ServerAddr: "https://registry.example.com"}
		_, err := client.Register(context.Background(), "device-01", nil)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("invalid registration id", func(t *testing.T) {
		client := &Client{ServerAddr: "https://registry.example.com", Provider: provider}
		_, err := client.Register(context.Background(), "", nil)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})
}
