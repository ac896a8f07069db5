package deviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api"
	"github.com/IgorGanapolsky/iot-provisioning-auth/auth"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// Client registers a device with the provisioning registry over HTTPS. It
// implements api.RegistrationProvider.
type Client struct {
	// ServerAddr is the base URL of the provisioning registry.
	ServerAddr string

	// Provider supplies the transport credentials the device's enrollment
	// prescribes. Token-capable providers contribute a SAS token in the
	// Authorization header; X.509-backed providers contribute the client
	// certificate through their TLS config.
	Provider auth.Provider

	// Timeout bounds each registration request including the response body
	// read. Zero leaves only the context deadline in charge.
	Timeout time.Duration
}

// Register sends a registration request for the device and returns the
// granted assignment. A nil request sends an empty body. Service denials
// surface as *api.RequestError carrying the response status; a 404
// additionally matches interfaces.ErrRecordNotFound.
func (c *Client) Register(ctx context.Context, registrationID interfaces.RegistrationID, request *api.RegistrationRequest) (*api.DeviceAssignment, error) {
	if c.ServerAddr == "" {
		return nil, fmt.Errorf("%w: server address is empty", interfaces.ErrInvalidArgument)
	}
	if c.Provider == nil {
		return nil, fmt.Errorf("%w: auth provider is nil", interfaces.ErrInvalidArgument)
	}
	if err := registrationID.Validate(); err != nil {
		return nil, err
	}

	var body []byte
	if request != nil {
		var err error
		body, err = json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("could not encode registration request: %w", err)
		}
	}

	url := strings.TrimSuffix(c.ServerAddr, "/") + api.RegisterPath(registrationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if tokenProvider, ok := c.Provider.(auth.TokenProvider); ok {
		token, err := tokenProvider.Token()
		if err != nil {
			return nil, fmt.Errorf("could not mint SAS token: %w", err)
		}
		req.Header.Set("Authorization", token.Value)
	}

	tlsConfig, err := c.Provider.GetTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("could not build TLS context: %w", err)
	}
	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   c.Timeout,
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request registration endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		cause := errors.New(msg)
		if resp.StatusCode == http.StatusNotFound {
			cause = fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, msg)
		}
		return nil, &api.RequestError{StatusCode: resp.StatusCode, Err: cause}
	}

	var assignment api.DeviceAssignment
	if err := json.Unmarshal(respBody, &assignment); err != nil {
		return nil, fmt.Errorf("could not parse registration response: %w", err)
	}
	return &assignment, nil
}

// MockRegistrationProvider implements api.RegistrationProvider for testing.
type MockRegistrationProvider struct {
	mock.Mock
}

// Register implements the api.RegistrationProvider interface for testing.
// The behavior is determined by how the mock is configured in tests.
func (m *MockRegistrationProvider) Register(ctx context.Context, registrationID interfaces.RegistrationID, request *api.RegistrationRequest) (*api.DeviceAssignment, error) {
	args := m.Called(ctx, registrationID, request)
	return args.Get(0).(*api.DeviceAssignment), args.Error(1)
}
