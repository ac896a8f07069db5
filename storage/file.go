package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// FileStore implements record storage on the local file system. Records live
// under <baseDir>/<kind>/<id>.json with identifiers percent-encoded so every
// character the identifier grammar allows is safe as a file name.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file system backed record store rooted at baseDir,
// creating the per-kind directories if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for _, kind := range []interfaces.RecordKind{interfaces.IndividualRecord, interfaces.GroupRecord} {
		if err := os.MkdirAll(filepath.Join(baseDir, kind.String()), 0700); err != nil {
			return nil, fmt.Errorf("failed to create record directory: %w", err)
		}
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (f *FileStore) recordPath(kind interfaces.RecordKind, id string) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty record id", interfaces.ErrInvalidArgument)
	}
	return filepath.Join(f.baseDir, kind.String(), recordSegment(id)+".json"), nil
}

// Fetch retrieves a record from the file system.
func (f *FileStore) Fetch(ctx context.Context, kind interfaces.RecordKind, id string) ([]byte, error) {
	filePath, err := f.recordPath(kind, id)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	f.log.Debug("Fetched record from file store",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return data, nil
}

// Store saves a record to the file system, replacing any previous version.
func (f *FileStore) Store(ctx context.Context, kind interfaces.RecordKind, id string, data []byte) error {
	filePath, err := f.recordPath(kind, id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	f.log.Debug("Stored record in file store",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return nil
}

// Delete removes a record file.
func (f *FileStore) Delete(ctx context.Context, kind interfaces.RecordKind, id string) error {
	filePath, err := f.recordPath(kind, id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
		}
		return fmt.Errorf("failed to delete record file: %w", err)
	}

	f.log.Debug("Deleted record from file store",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return nil
}

// List returns the identifiers stored under a kind, sorted.
func (f *FileStore) List(ctx context.Context, kind interfaces.RecordKind) ([]string, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(f.baseDir, kind.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list record directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := decodeRecordSegment(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Available checks if the base directory is accessible.
func (f *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(f.baseDir)
	return err == nil
}

// Name returns identifier for logging.
func (f *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(f.baseDir))
}

// LocationURI returns URI identifying this store.
func (f *FileStore) LocationURI() string {
	return f.locationURI
}
