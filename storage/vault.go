package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// VaultStore implements record storage in a HashiCorp Vault KV v2 secrets
// engine. Records are written under {mount}/data/{path}/{kind}/{id} with the
// serialized record carried in the "record" field.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// VaultStoreConfig carries the connection settings for a Vault record store.
type VaultStoreConfig struct {
	// Address is the Vault server URL, e.g. https://vault.example.com:8200.
	Address string

	// Token authenticates the client. When empty the client falls back to
	// the VAULT_TOKEN environment variable.
	Token string

	// MountPath is the KV v2 mount, e.g. "secret".
	MountPath string

	// DataPath is the path prefix under the mount. May be empty.
	DataPath string
}

// NewVaultStore creates a record store backed by Vault KV v2.
func NewVaultStore(cfg VaultStoreConfig, log *slog.Logger) (*VaultStore, error) {
	if cfg.Address == "" || cfg.MountPath == "" {
		return nil, fmt.Errorf("%w: vault address and mount path are required", interfaces.ErrInvalidArgument)
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "https://"), "http://")

	return &VaultStore{
		client:      client,
		mountPath:   cfg.MountPath,
		dataPath:    cfg.DataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s", host, path.Join(cfg.MountPath, cfg.DataPath)),
	}, nil
}

func (v *VaultStore) recordPath(kind interfaces.RecordKind, id string) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty record id", interfaces.ErrInvalidArgument)
	}
	return path.Join(v.mountPath, "data", v.dataPath, kind.String(), recordSegment(id)), nil
}

func (v *VaultStore) metadataPath(kind interfaces.RecordKind, id string) string {
	return path.Join(v.mountPath, "metadata", v.dataPath, kind.String(), recordSegment(id))
}

// Fetch retrieves a record from Vault.
func (v *VaultStore) Fetch(ctx context.Context, kind interfaces.RecordKind, id string) ([]byte, error) {
	secretPath, err := v.recordPath(kind, id)
	if err != nil {
		return nil, err
	}

	secret, err := v.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", secretPath)
	}
	record, ok := data["record"].(string)
	if !ok {
		return nil, fmt.Errorf("record content missing at %s", secretPath)
	}

	v.log.Debug("Fetched record from vault",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return []byte(record), nil
}

// Store saves a record to Vault, replacing any previous version.
func (v *VaultStore) Store(ctx context.Context, kind interfaces.RecordKind, id string, data []byte) error {
	secretPath, err := v.recordPath(kind, id)
	if err != nil {
		return err
	}

	_, err = v.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{
			"record": string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	v.log.Debug("Stored record in vault",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return nil
}

// Delete removes a record and its version history from Vault.
func (v *VaultStore) Delete(ctx context.Context, kind interfaces.RecordKind, id string) error {
	secretPath, err := v.recordPath(kind, id)
	if err != nil {
		return err
	}

	secret, err := v.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
	}

	if _, err := v.client.Logical().DeleteWithContext(ctx, v.metadataPath(kind, id)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	v.log.Debug("Deleted record from vault",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return nil
}

// List returns the identifiers stored under a kind, sorted.
func (v *VaultStore) List(ctx context.Context, kind interfaces.RecordKind) ([]string, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	listPath := path.Join(v.mountPath, "metadata", v.dataPath, kind.String())
	secret, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		name, ok := key.(string)
		if !ok {
			continue
		}
		id, err := decodeRecordSegment(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Available checks that the Vault server is reachable, initialized and
// unsealed.
func (v *VaultStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := v.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns identifier for logging.
func (v *VaultStore) Name() string {
	if v.dataPath == "" {
		return fmt.Sprintf("vault-%s", v.mountPath)
	}
	return fmt.Sprintf("vault-%s-%s", v.mountPath, v.dataPath)
}

// LocationURI returns URI identifying this store.
func (v *VaultStore) LocationURI() string {
	return v.locationURI
}
