package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// RecordStoreFactory creates record store backends from location URIs. It
// implements interfaces.RecordStoreFactory.
type RecordStoreFactory struct {
	log *slog.Logger
}

// NewRecordStoreFactory creates a factory for record store backends.
func NewRecordStoreFactory(log *slog.Logger) *RecordStoreFactory {
	return &RecordStoreFactory{log: log}
}

// RecordStoreFor creates the store a location URI describes.
func (sf *RecordStoreFactory) RecordStoreFor(location interfaces.StoreLocation) (interfaces.RecordStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "mem":
		sf.log.Debug("Creating in-memory record store")
		return NewMemStore(), nil
	case "file":
		return sf.createFileStore(location)
	case "s3":
		return sf.createS3Store(location)
	case "vault":
		return sf.createVaultStore(location)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

func (sf *RecordStoreFactory) createFileStore(location interfaces.StoreLocation) (interfaces.RecordStore, error) {
	baseDir := location.Path
	if location.Host != "" {
		baseDir = location.Host + baseDir
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: file store requires a directory path", interfaces.ErrInvalidLocationURI)
	}

	sf.log.Debug("Creating file record store", slog.String("dir", baseDir))
	return NewFileStore(baseDir, sf.log)
}

func (sf *RecordStoreFactory) createS3Store(location interfaces.StoreLocation) (interfaces.RecordStore, error) {
	if location.Host == "" {
		return nil, fmt.Errorf("%w: s3 store requires a bucket name", interfaces.ErrInvalidLocationURI)
	}

	accessKey, secretKey := splitAuth(location.Auth)
	cfg := S3StoreConfig{
		Bucket:    location.Host,
		Prefix:    strings.Trim(location.Path, "/"),
		Region:    location.GetParam("region"),
		Endpoint:  location.GetParam("endpoint"),
		AccessKey: accessKey,
		SecretKey: secretKey,
	}

	sf.log.Debug("Creating s3 record store",
		slog.String("bucket", cfg.Bucket),
		slog.String("prefix", cfg.Prefix))
	return NewS3Store(cfg, sf.log)
}

func (sf *RecordStoreFactory) createVaultStore(location interfaces.StoreLocation) (interfaces.RecordStore, error) {
	if location.Host == "" {
		return nil, fmt.Errorf("%w: vault store requires a server address", interfaces.ErrInvalidLocationURI)
	}

	mountPath, dataPath := splitVaultPath(location.Path)
	if mountPath == "" {
		return nil, fmt.Errorf("%w: vault store requires a KV mount path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if location.GetParamBool("insecure") {
		scheme = "http"
	}

	cfg := VaultStoreConfig{
		Address:   fmt.Sprintf("%s://%s", scheme, location.Host),
		Token:     location.GetParam("token"),
		MountPath: mountPath,
		DataPath:  dataPath,
	}

	sf.log.Debug("Creating vault record store",
		slog.String("address", cfg.Address),
		slog.String("mount", cfg.MountPath))
	return NewVaultStore(cfg, sf.log)
}

// splitVaultPath splits a location path into the KV mount and the data path
// beneath it.
func splitVaultPath(locationPath string) (string, string) {
	trimmed := strings.Trim(locationPath, "/")
	if trimmed == "" {
		return "", ""
	}
	mount, rest, _ := strings.Cut(trimmed, "/")
	return mount, rest
}

// splitAuth splits URI userinfo into username and password parts.
func splitAuth(auth string) (string, string) {
	if auth == "" {
		return "", ""
	}
	user, pass, _ := strings.Cut(auth, ":")
	if decoded, err := url.PathUnescape(user); err == nil {
		user = decoded
	}
	if decoded, err := url.PathUnescape(pass); err == nil {
		pass = decoded
	}
	return user, pass
}

// recordSegment encodes a record identifier for use as a single file name,
// object key or Vault path element.
func recordSegment(id string) string {
	return url.PathEscape(id)
}

// decodeRecordSegment reverses recordSegment.
func decodeRecordSegment(segment string) (string, error) {
	return url.PathUnescape(segment)
}
