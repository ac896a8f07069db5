package registryhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api"
	"github.com/IgorGanapolsky/iot-provisioning-auth/enrollment"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// Client is an HTTP client for the registry's enrollment management
// surface. Operators and back-office tooling use it to maintain enrollment
// records; devices register through the deviceclient package instead.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
}

// NewClient creates a management client for the registry at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
}

// SetHTTPClient overrides the HTTP client used for requests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetServiceToken sets the service SAS token sent in the Authorization
// header of every request. Required when the registry gates its management
// surface with a shared-access policy.
func (c *Client) SetServiceToken(token string) {
	c.serviceToken = token
}

// UpsertIndividualEnrollment creates or replaces an individual enrollment
// and returns the stored record with its service-assigned etag and
// timestamps. A non-empty etag is sent as If-Match for optimistic
// concurrency.
func (c *Client) UpsertIndividualEnrollment(ctx context.Context, record *enrollment.IndividualEnrollment, etag string) (*enrollment.IndividualEnrollment, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("could not encode enrollment: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPut, api.IndividualEnrollmentPath(record.RegistrationID), body, etag)
	if err != nil {
		return nil, err
	}

	var stored enrollment.IndividualEnrollment
	if err := json.Unmarshal(respBody, &stored); err != nil {
		return nil, fmt.Errorf("could not parse enrollment response: %w", err)
	}
	return &stored, nil
}

// GetIndividualEnrollment fetches an individual enrollment by registration
// ID. Absent records yield an error matching interfaces.ErrRecordNotFound.
func (c *Client) GetIndividualEnrollment(ctx context.Context, id interfaces.RegistrationID) (*enrollment.IndividualEnrollment, error) {
	respBody, err := c.do(ctx, http.MethodGet, api.IndividualEnrollmentPath(id), nil, "")
	if err != nil {
		return nil, err
	}

	var record enrollment.IndividualEnrollment
	if err := json.Unmarshal(respBody, &record); err != nil {
		return nil, fmt.Errorf("could not parse enrollment response: %w", err)
	}
	return &record, nil
}

// DeleteIndividualEnrollment removes an individual enrollment. A non-empty
// etag is sent as If-Match.
func (c *Client) DeleteIndividualEnrollment(ctx context.Context, id interfaces.RegistrationID, etag string) error {
	_, err := c.do(ctx, http.MethodDelete, api.IndividualEnrollmentPath(id), nil, etag)
	return err
}

// UpsertEnrollmentGroup creates or replaces an enrollment group and returns
// the stored record with its service-assigned etag and timestamps.
func (c *Client) UpsertEnrollmentGroup(ctx context.Context, record *enrollment.EnrollmentGroup, etag string) (*enrollment.EnrollmentGroup, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("could not encode enrollment group: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPut, api.EnrollmentGroupPath(record.EnrollmentGroupID), body, etag)
	if err != nil {
		return nil, err
	}

	var stored enrollment.EnrollmentGroup
	if err := json.Unmarshal(respBody, &stored); err != nil {
		return nil, fmt.Errorf("could not parse enrollment group response: %w", err)
	}
	return &stored, nil
}

// GetEnrollmentGroup fetches an enrollment group by ID.
func (c *Client) GetEnrollmentGroup(ctx context.Context, id interfaces.GroupID) (*enrollment.EnrollmentGroup, error) {
	respBody, err := c.do(ctx, http.MethodGet, api.EnrollmentGroupPath(id), nil, "")
	if err != nil {
		return nil, err
	}

	var record enrollment.EnrollmentGroup
	if err := json.Unmarshal(respBody, &record); err != nil {
		return nil, fmt.Errorf("could not parse enrollment group response: %w", err)
	}
	return &record, nil
}

// DeleteEnrollmentGroup removes an enrollment group. A non-empty etag is
// sent as If-Match.
func (c *Client) DeleteEnrollmentGroup(ctx context.Context, id interfaces.GroupID, etag string) error {
	_, err := c.do(ctx, http.MethodDelete, api.EnrollmentGroupPath(id), nil, etag)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, etag string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", c.serviceToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach registry: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		cause := errors.New(msg)
		if resp.StatusCode == http.StatusNotFound {
			cause = fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, msg)
		}
		return nil, &api.RequestError{StatusCode: resp.StatusCode, Err: cause}
	}

	return respBody, nil
}
