package registryhandler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api"
	"github.com/IgorGanapolsky/iot-provisioning-auth/attestation"
	"github.com/IgorGanapolsky/iot-provisioning-auth/auth"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cryptoutils"
	"github.com/IgorGanapolsky/iot-provisioning-auth/enrollment"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/metrics"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// ServicePolicy names a shared-access policy and carries its key. When set
// on the handler, management calls must present a service SAS token minted
// with this policy (the token's skn field must name it).
type ServicePolicy struct {
	KeyName string
	Key     []byte
}

// Handler processes HTTP requests for the provisioning registry.
// It persists enrollment records through a RecordStore and authenticates
// device registrations against the stored attestation material.
type Handler struct {
	store       interfaces.RecordStore
	assignedHub interfaces.Hostname
	policy      *ServicePolicy
	log         *slog.Logger
	now         func() time.Time
}

// NewHandler creates a registry request handler.
//
// assignedHub is granted to registering devices whose enrollment does not
// pin an iotHubHostName. A nil policy leaves the management surface ungated.
func NewHandler(store interfaces.RecordStore, assignedHub interfaces.Hostname, policy *ServicePolicy, log *slog.Logger) *Handler {
	return &Handler{
		store:       store,
		assignedHub: assignedHub,
		policy:      policy,
		log:         log,
		now:         time.Now,
	}
}

// RegisterRoutes configures the HTTP router with registry endpoints.
// It registers the following routes:
//   - PUT/GET/DELETE /api/enrollments/individual/{registrationId}
//   - PUT/GET/DELETE /api/enrollments/groups/{enrollmentGroupId}
//   - POST /api/register/{registrationId}
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put(api.IndividualEnrollmentRoute, h.HandleUpsertIndividual)
	r.Get(api.IndividualEnrollmentRoute, h.HandleGetIndividual)
	r.Delete(api.IndividualEnrollmentRoute, h.HandleDeleteIndividual)
	r.Put(api.EnrollmentGroupRoute, h.HandleUpsertGroup)
	r.Get(api.EnrollmentGroupRoute, h.HandleGetGroup)
	r.Delete(api.EnrollmentGroupRoute, h.HandleDeleteGroup)
	r.Post(api.RegisterRoute, h.HandleRegister)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) {
		http.Error(w, reqErr.Error(), reqErr.StatusCode)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func badRequest(err error) *api.RequestError {
	return &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
}

func unauthorized(err error) *api.RequestError {
	return &api.RequestError{StatusCode: http.StatusUnauthorized, Err: err}
}

// storeError maps record store failures onto status codes.
func storeError(err error) *api.RequestError {
	switch {
	case errors.Is(err, interfaces.ErrRecordNotFound):
		return &api.RequestError{StatusCode: http.StatusNotFound, Err: err}
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return &api.RequestError{StatusCode: http.StatusServiceUnavailable, Err: err}
	default:
		return &api.RequestError{StatusCode: http.StatusInternalServerError, Err: err}
	}
}

// authorizeManagement verifies the service SAS token when the handler is
// configured with a shared-access policy. The device registration surface is
// never gated by it.
func (h *Handler) authorizeManagement(r *http.Request) *api.RequestError {
	if h.policy == nil {
		return nil
	}

	raw := r.Header.Get("Authorization")
	if raw == "" {
		return unauthorized(errors.New("missing service token"))
	}
	token, err := auth.ParseToken(raw)
	if err != nil {
		return unauthorized(fmt.Errorf("invalid service token: %w", err))
	}
	if token.KeyName != h.policy.KeyName {
		return unauthorized(fmt.Errorf("unknown shared-access policy %q", token.KeyName))
	}
	if err := token.Verify(h.policy.Key, h.now()); err != nil {
		return unauthorized(fmt.Errorf("service token rejected: %w", err))
	}
	return nil
}

func readBody(r *http.Request) ([]byte, *api.RequestError) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, badRequest(fmt.Errorf("failed to read request body: %w", err))
	}
	return body, nil
}

func recordETag(data []byte) (string, error) {
	var envelope struct {
		ETag string `json:"etag"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", err
	}
	return envelope.ETag, nil
}

// HandleUpsertIndividual creates or replaces an individual enrollment.
//
// URL format: PUT /api/enrollments/individual/{registrationId}
//
// The If-Match header enforces optimistic concurrency: when present it must
// equal the stored record's etag (mismatch or absent record → 412). The
// service assigns a fresh etag and RFC3339 UTC timestamps on every write.
//
// Response: the stored enrollment, JSON-encoded.
func (h *Handler) HandleUpsertIndividual(w http.ResponseWriter, r *http.Request) {
	if reqErr := h.authorizeManagement(r); reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	id, err := interfaces.NewRegistrationID(r.PathValue("registrationId"))
	if err != nil {
		h.log.Error("Invalid registration ID", "err", err, "id", r.PathValue("registrationId"))
		http.Error(w, "Invalid registration ID", http.StatusBadRequest)
		return
	}

	body, reqErr := readBody(r)
	if reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	var record enrollment.IndividualEnrollment
	if err := json.Unmarshal(body, &record); err != nil {
		h.log.Error("Failed to decode enrollment", "err", err, "id", id.String())
		http.Error(w, "Invalid enrollment document", http.StatusBadRequest)
		return
	}

	stored, reqErr := h.upsertIndividual(r.Context(), id, &record, r.Header.Get("If-Match"))
	if reqErr != nil {
		h.log.Error("Enrollment upsert failed", "err", reqErr, "id", id.String())
		h.writeError(w, reqErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stored); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) upsertIndividual(ctx context.Context, id interfaces.RegistrationID, record *enrollment.IndividualEnrollment, ifMatch string) (*enrollment.IndividualEnrollment, *api.RequestError) {
	if record.RegistrationID == "" {
		record.RegistrationID = id
	}
	if record.RegistrationID != id {
		return nil, badRequest(fmt.Errorf("%w: body registration ID %q does not match URL", interfaces.ErrInvalidArgument, record.RegistrationID))
	}
	if record.ProvisioningStatus == "" {
		record.ProvisioningStatus = enrollment.StatusEnabled
	}
	if err := record.Validate(); err != nil {
		return nil, badRequest(err)
	}

	now := h.now().UTC().Format(time.RFC3339)

	existing, err := h.store.Fetch(ctx, interfaces.IndividualRecord, id.String())
	switch {
	case err == nil:
		currentETag, etagErr := recordETag(existing)
		if etagErr != nil {
			return nil, storeError(fmt.Errorf("%w: stored record is corrupt: %v", interfaces.ErrEncodingFailed, etagErr))
		}
		if ifMatch != "" && ifMatch != currentETag {
			return nil, &api.RequestError{StatusCode: http.StatusPreconditionFailed, Err: fmt.Errorf("etag mismatch: record is at %s", currentETag)}
		}
		var current enrollment.IndividualEnrollment
		if err := json.Unmarshal(existing, &current); err == nil {
			record.CreatedDateTimeUTC = current.CreatedDateTimeUTC
		}
	case errors.Is(err, interfaces.ErrRecordNotFound):
		if ifMatch != "" {
			return nil, &api.RequestError{StatusCode: http.StatusPreconditionFailed, Err: errors.New("etag given for a record that does not exist")}
		}
		record.CreatedDateTimeUTC = now
	default:
		return nil, storeError(err)
	}

	record.LastUpdatedDateTimeUTC = now
	record.ETag = interfaces.ETag(uuid.New().String())

	data, err := json.Marshal(record)
	if err != nil {
		return nil, storeError(fmt.Errorf("%w: %v", interfaces.ErrEncodingFailed, err))
	}
	if err := h.store.Store(ctx, interfaces.IndividualRecord, id.String(), data); err != nil {
		return nil, storeError(err)
	}

	metrics.IncEnrollmentWrite(interfaces.IndividualRecord.String())
	return record, nil
}

// HandleGetIndividual returns a stored individual enrollment.
//
// URL format: GET /api/enrollments/individual/{registrationId}
func (h *Handler) HandleGetIndividual(w http.ResponseWriter, r *http.Request) {
	if reqErr := h.authorizeManagement(r); reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	id, err := interfaces.NewRegistrationID(r.PathValue("registrationId"))
	if err != nil {
		http.Error(w, "Invalid registration ID", http.StatusBadRequest)
		return
	}

	data, err := h.store.Fetch(r.Context(), interfaces.IndividualRecord, id.String())
	if err != nil {
		h.writeError(w, storeError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// HandleDeleteIndividual removes an individual enrollment, honoring
// If-Match.
//
// URL format: DELETE /api/enrollments/individual/{registrationId}
func (h *Handler) HandleDeleteIndividual(w http.ResponseWriter, r *http.Request) {
	if reqErr := h.authorizeManagement(r); reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	id, err := interfaces.NewRegistrationID(r.PathValue("registrationId"))
	if err != nil {
		http.Error(w, "Invalid registration ID", http.StatusBadRequest)
		return
	}

	if reqErr := h.deleteRecord(r.Context(), interfaces.IndividualRecord, id.String(), r.Header.Get("If-Match")); reqErr != nil {
		h.log.Error("Enrollment delete failed", "err", reqErr, "id", id.String())
		h.writeError(w, reqErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpsertGroup creates or replaces an enrollment group. Group
// attestation is restricted to the x509 signing/root certificate form.
//
// URL format: PUT /api/enrollments/groups/{enrollmentGroupId}
func (h *Handler) HandleUpsertGroup(w http.ResponseWriter, r *http.Request) {
	if reqErr := h.authorizeManagement(r); reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	id, err := interfaces.NewGroupID(r.PathValue("enrollmentGroupId"))
	if err != nil {
		h.log.Error("Invalid enrollment group ID", "err", err, "id", r.PathValue("enrollmentGroupId"))
		http.Error(w, "Invalid enrollment group ID", http.StatusBadRequest)
		return
	}

	body, reqErr := readBody(r)
	if reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	var record enrollment.EnrollmentGroup
	if err := json.Unmarshal(body, &record); err != nil {
		h.log.Error("Failed to decode enrollment group", "err", err, "id", id.String())
		http.Error(w, "Invalid enrollment document", http.StatusBadRequest)
		return
	}

	stored, reqErr := h.upsertGroup(r.Context(), id, &record, r.Header.Get("If-Match"))
	if reqErr != nil {
		h.log.Error("Enrollment group upsert failed", "err", reqErr, "id", id.String())
		h.writeError(w, reqErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stored); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) upsertGroup(ctx context.Context, id interfaces.GroupID, record *enrollment.EnrollmentGroup, ifMatch string) (*enrollment.EnrollmentGroup, *api.RequestError) {
	if record.EnrollmentGroupID == "" {
		record.EnrollmentGroupID = id
	}
	if record.EnrollmentGroupID != id {
		return nil, badRequest(fmt.Errorf("%w: body enrollment group ID %q does not match URL", interfaces.ErrInvalidArgument, record.EnrollmentGroupID))
	}
	if record.ProvisioningStatus == "" {
		record.ProvisioningStatus = enrollment.StatusEnabled
	}
	if err := record.Validate(); err != nil {
		return nil, badRequest(err)
	}

	now := h.now().UTC().Format(time.RFC3339)

	existing, err := h.store.Fetch(ctx, interfaces.GroupRecord, id.String())
	switch {
	case err == nil:
		currentETag, etagErr := recordETag(existing)
		if etagErr != nil {
			return nil, storeError(fmt.Errorf("%w: stored record is corrupt: %v", interfaces.ErrEncodingFailed, etagErr))
		}
		if ifMatch != "" && ifMatch != currentETag {
			return nil, &api.RequestError{StatusCode: http.StatusPreconditionFailed, Err: fmt.Errorf("etag mismatch: record is at %s", currentETag)}
		}
		var current enrollment.EnrollmentGroup
		if err := json.Unmarshal(existing, &current); err == nil {
			record.CreatedDateTimeUTC = current.CreatedDateTimeUTC
		}
	case errors.Is(err, interfaces.ErrRecordNotFound):
		if ifMatch != "" {
			return nil, &api.RequestError{StatusCode: http.StatusPreconditionFailed, Err: errors.New("etag given for a record that does not exist")}
		}
		record.CreatedDateTimeUTC = now
	default:
		return nil, storeError(err)
	}

	record.LastUpdatedDateTimeUTC = now
	record.ETag = interfaces.ETag(uuid.New().String())

	data, err := json.Marshal(record)
	if err != nil {
		return nil, storeError(fmt.Errorf("%w: %v", interfaces.ErrEncodingFailed, err))
	}
	if err := h.store.Store(ctx, interfaces.GroupRecord, id.String(), data); err != nil {
		return nil, storeError(err)
	}

	metrics.IncEnrollmentWrite(interfaces.GroupRecord.String())
	return record, nil
}

// HandleGetGroup returns a stored enrollment group.
//
// URL format: GET /api/enrollments/groups/{enrollmentGroupId}
func (h *Handler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	if reqErr := h.authorizeManagement(r); reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	id, err := interfaces.NewGroupID(r.PathValue("enrollmentGroupId"))
	if err != nil {
		http.Error(w, "Invalid enrollment group ID", http.StatusBadRequest)
		return
	}

	data, err := h.store.Fetch(r.Context(), interfaces.GroupRecord, id.String())
	if err != nil {
		h.writeError(w, storeError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// HandleDeleteGroup removes an enrollment group, honoring If-Match.
//
// URL format: DELETE /api/enrollments/groups/{enrollmentGroupId}
func (h *Handler) HandleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if reqErr := h.authorizeManagement(r); reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	id, err := interfaces.NewGroupID(r.PathValue("enrollmentGroupId"))
	if err != nil {
		http.Error(w, "Invalid enrollment group ID", http.StatusBadRequest)
		return
	}

	if reqErr := h.deleteRecord(r.Context(), interfaces.GroupRecord, id.String(), r.Header.Get("If-Match")); reqErr != nil {
		h.log.Error("Enrollment group delete failed", "err", reqErr, "id", id.String())
		h.writeError(w, reqErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRecord(ctx context.Context, kind interfaces.RecordKind, id, ifMatch string) *api.RequestError {
	data, err := h.store.Fetch(ctx, kind, id)
	if err != nil {
		return storeError(err)
	}

	if ifMatch != "" {
		etag, err := recordETag(data)
		if err != nil {
			return storeError(fmt.Errorf("%w: stored record is corrupt: %v", interfaces.ErrEncodingFailed, err))
		}
		if ifMatch != etag {
			return &api.RequestError{StatusCode: http.StatusPreconditionFailed, Err: fmt.Errorf("etag mismatch: record is at %s", etag)}
		}
	}

	if err := h.store.Delete(ctx, kind, id); err != nil {
		return storeError(err)
	}
	metrics.IncEnrollmentDelete(kind.String())
	return nil
}

// HandleRegister processes device registration requests.
// The device authenticates with the credentials its enrollment prescribes:
// a SAS token in Authorization signed with the enrollment's symmetric key,
// or a TLS client certificate for x509 enrollments (exact leaf match for
// individual enrollments, chain to the signing certificates for groups).
//
// URL format: POST /api/register/{registrationId}
//
// Request body (optional): JSON-encoded api.RegistrationRequest.
//
// Response: JSON-encoded api.DeviceAssignment.
//
// Status codes:
//   - 200 OK: device authenticated, assignment returned
//   - 400 Bad Request: malformed registration ID or body
//   - 401 Unauthorized: missing, malformed, expired or mismatched credentials
//   - 403 Forbidden: the covering enrollment is disabled
//   - 404 Not Found: no enrollment covers the registration ID
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.NewRegistrationID(r.PathValue("registrationId"))
	if err != nil {
		h.log.Error("Invalid registration ID", "err", err, "id", r.PathValue("registrationId"))
		http.Error(w, "Invalid registration ID", http.StatusBadRequest)
		return
	}

	body, reqErr := readBody(r)
	if reqErr != nil {
		h.writeError(w, reqErr)
		return
	}

	var request api.RegistrationRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &request); err != nil {
			h.log.Error("Failed to decode registration request", "err", err, "id", id.String())
			http.Error(w, "Invalid registration request", http.StatusBadRequest)
			return
		}
	}
	if request.RegistrationID != "" && request.RegistrationID != id.String() {
		http.Error(w, "Registration ID in body does not match URL", http.StatusBadRequest)
		return
	}

	assignment, reqErr := h.register(r.Context(), id, r)
	if reqErr != nil {
		if reqErr.StatusCode == http.StatusUnauthorized || reqErr.StatusCode == http.StatusForbidden {
			metrics.IncRegistrationDenied()
		}
		h.log.Error("Registration rejected", "err", reqErr, "registrationId", id.String())
		h.writeError(w, reqErr)
		return
	}

	metrics.IncRegistrationSuccess()
	h.log.Info("Device registered",
		slog.String("registrationId", id.String()),
		slog.String("assignedHub", assignment.AssignedHub))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(assignment); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// register authenticates the device against the matching individual
// enrollment first, then against enrollment groups.
func (h *Handler) register(ctx context.Context, id interfaces.RegistrationID, r *http.Request) (*api.DeviceAssignment, *api.RequestError) {
	data, err := h.store.Fetch(ctx, interfaces.IndividualRecord, id.String())
	if err == nil {
		var record enrollment.IndividualEnrollment
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, storeError(fmt.Errorf("%w: stored record is corrupt: %v", interfaces.ErrEncodingFailed, err))
		}
		return h.registerIndividual(id, &record, r)
	}
	if !errors.Is(err, interfaces.ErrRecordNotFound) {
		return nil, storeError(err)
	}

	return h.registerThroughGroups(ctx, id, r)
}

func (h *Handler) registerIndividual(id interfaces.RegistrationID, record *enrollment.IndividualEnrollment, r *http.Request) (*api.DeviceAssignment, *api.RequestError) {
	if !record.Enabled() {
		return nil, &api.RequestError{StatusCode: http.StatusForbidden, Err: fmt.Errorf("enrollment %s is disabled", id)}
	}

	switch {
	case record.Attestation.Type == attestation.KindSymmetricKey:
		if reqErr := h.verifySASRegistration(id, record, r); reqErr != nil {
			return nil, reqErr
		}
	case record.Attestation.HasLeafCertificate():
		if reqErr := verifyLeafRegistration(record, r); reqErr != nil {
			return nil, reqErr
		}
	case record.Attestation.HasSigningCertificates():
		if reqErr := verifyChainRegistration(record.Attestation, r); reqErr != nil {
			return nil, reqErr
		}
	default:
		return nil, unauthorized(fmt.Errorf("%w: %s registration is not supported over this transport", interfaces.ErrUnsupportedOperation, record.Attestation.Type))
	}

	return h.assignment(id, record.DeviceID, record.IoTHubHostName, record.ETag, record.CreatedDateTimeUTC, record.LastUpdatedDateTimeUTC), nil
}

// verifySASRegistration re-verifies the device's SAS token against the
// enrollment's symmetric keys. The secondary key is accepted so keys can be
// rotated without a registration gap.
func (h *Handler) verifySASRegistration(id interfaces.RegistrationID, record *enrollment.IndividualEnrollment, r *http.Request) *api.RequestError {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return unauthorized(errors.New("missing SAS token"))
	}

	token, err := auth.ParseToken(raw)
	if err != nil {
		return unauthorized(fmt.Errorf("malformed SAS token: %w", err))
	}
	if !strings.HasSuffix(token.Scope, "/devices/"+id.String()) {
		return unauthorized(fmt.Errorf("token scope %q does not cover device %s", token.Scope, id))
	}

	symmetricKey, err := record.Attestation.ResolveSymmetricKey()
	if err != nil {
		return unauthorized(err)
	}

	keys := []string{symmetricKey.PrimaryKey}
	if symmetricKey.SecondaryKey != "" {
		keys = append(keys, symmetricKey.SecondaryKey)
	}

	var lastErr error
	for _, encoded := range keys {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			lastErr = fmt.Errorf("%w: enrollment key is not valid base64: %v", interfaces.ErrEncodingFailed, err)
			continue
		}
		if err := token.Verify(key, h.now()); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return unauthorized(fmt.Errorf("SAS token rejected: %w", lastErr))
}

func peerCertificates(r *http.Request) ([]*x509.Certificate, *api.RequestError) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, unauthorized(errors.New("enrollment requires a TLS client certificate"))
	}
	return r.TLS.PeerCertificates, nil
}

// verifyLeafRegistration requires the TLS client certificate to be exactly
// the enrolled leaf, compared by DER fingerprint.
func verifyLeafRegistration(record *enrollment.IndividualEnrollment, r *http.Request) *api.RequestError {
	peer, reqErr := peerCertificates(r)
	if reqErr != nil {
		return reqErr
	}

	enrolled, err := record.Attestation.ResolveLeafCertificate()
	if err != nil {
		return unauthorized(err)
	}
	expected, err := enrolled.Fingerprint()
	if err != nil {
		return unauthorized(err)
	}

	sum := sha256.Sum256(peer[0].Raw)
	if hex.EncodeToString(sum[:]) != expected {
		return unauthorized(errors.New("client certificate does not match the enrolled certificate"))
	}
	return nil
}

// verifyChainRegistration requires the TLS client certificate to chain to
// the mechanism's signing certificates.
func verifyChainRegistration(mechanism attestation.Mechanism, r *http.Request) *api.RequestError {
	peer, reqErr := peerCertificates(r)
	if reqErr != nil {
		return reqErr
	}

	signing, err := mechanism.ResolveSigningCertificates()
	if err != nil {
		return unauthorized(err)
	}
	if err := verifyPeerChain(peer, signing); err != nil {
		return unauthorized(fmt.Errorf("client certificate does not chain to the enrolled signing certificates: %w", err))
	}
	return nil
}

// verifyPeerChain checks that the peer's leaf chains to any of the signing
// certificates, using the peer's extra certificates as intermediates.
func verifyPeerChain(peer []*x509.Certificate, signing cryptoutils.CertChain) error {
	roots, err := signing.CertPool()
	if err != nil {
		return err
	}

	intermediates := x509.NewCertPool()
	for _, cert := range peer[1:] {
		intermediates.AddCert(cert)
	}

	_, err = peer[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// registerThroughGroups walks the enrollment groups looking for one whose
// signing certificates anchor the device's client certificate chain. The
// certificate subject must name the registering device.
func (h *Handler) registerThroughGroups(ctx context.Context, id interfaces.RegistrationID, r *http.Request) (*api.DeviceAssignment, *api.RequestError) {
	groupIDs, err := h.store.List(ctx, interfaces.GroupRecord)
	if err != nil {
		return nil, storeError(err)
	}
	if len(groupIDs) == 0 {
		return nil, &api.RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("%w: no enrollment covers %s", interfaces.ErrRecordNotFound, id)}
	}

	peer, reqErr := peerCertificates(r)
	if reqErr != nil {
		return nil, reqErr
	}

	for _, groupID := range groupIDs {
		data, err := h.store.Fetch(ctx, interfaces.GroupRecord, groupID)
		if err != nil {
			continue
		}
		var group enrollment.EnrollmentGroup
		if err := json.Unmarshal(data, &group); err != nil {
			h.log.Error("Skipping corrupt group record", "err", err, "groupId", groupID)
			continue
		}
		signing, err := group.Attestation.ResolveSigningCertificates()
		if err != nil {
			continue
		}
		if verifyPeerChain(peer, signing) != nil {
			continue
		}

		if !group.Enabled() {
			return nil, &api.RequestError{StatusCode: http.StatusForbidden, Err: fmt.Errorf("enrollment group %s is disabled", group.EnrollmentGroupID)}
		}
		if peer[0].Subject.CommonName != id.String() {
			return nil, unauthorized(fmt.Errorf("certificate subject %q does not match registration ID", peer[0].Subject.CommonName))
		}

		return h.assignment(id, id.String(), group.IoTHubHostName, group.ETag, group.CreatedDateTimeUTC, group.LastUpdatedDateTimeUTC), nil
	}

	return nil, &api.RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("%w: no enrollment covers %s", interfaces.ErrRecordNotFound, id)}
}

func (h *Handler) assignment(id interfaces.RegistrationID, deviceID string, hub interfaces.Hostname, etag interfaces.ETag, created, updated string) *api.DeviceAssignment {
	if deviceID == "" {
		deviceID = id.String()
	}
	if hub == "" {
		hub = h.assignedHub
	}

	return &api.DeviceAssignment{
		RegistrationID:         id.String(),
		DeviceID:               deviceID,
		AssignedHub:            hub.String(),
		Status:                 api.StatusAssigned,
		ETag:                   etag.String(),
		CreatedDateTimeUTC:     created,
		LastUpdatedDateTimeUTC: updated,
	}
}
