package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// S3Store implements record storage in an S3 bucket. Records live under
// <prefix>/<kind>/<id> with identifiers percent-encoded.
type S3Store struct {
	client      *s3.S3
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// S3StoreConfig carries the connection settings for an S3 record store.
type S3StoreConfig struct {
	// Bucket is the bucket name.
	Bucket string

	// Prefix is the key prefix for all records. May be empty.
	Prefix string

	// Region is the AWS region. Defaults to us-east-1.
	Region string

	// Endpoint overrides the S3 endpoint for compatible services like MinIO.
	Endpoint string

	// AccessKey and SecretKey are static credentials. When empty the client
	// uses the default AWS credential chain.
	AccessKey string
	SecretKey string
}

// NewS3Store creates a record store backed by an S3 bucket.
func NewS3Store(cfg S3StoreConfig, log *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket name is required", interfaces.ErrInvalidArgument)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := aws.Config{Region: aws.String(region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")

	return &S3Store{
		client:      s3.New(sess),
		bucket:      cfg.Bucket,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("s3://%s/%s", cfg.Bucket, prefix),
	}, nil
}

func (s *S3Store) objectKey(kind interfaces.RecordKind, id string) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty record id", interfaces.ErrInvalidArgument)
	}
	return path.Join(s.prefix, kind.String(), recordSegment(id)), nil
}

func isS3NotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404")
}

// Fetch retrieves a record from the bucket.
func (s *S3Store) Fetch(ctx context.Context, kind interfaces.RecordKind, id string) ([]byte, error) {
	key, err := s.objectKey(kind, id)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	s.log.Debug("Fetched record from s3",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return data, nil
}

// Store saves a record to the bucket, replacing any previous version.
func (s *S3Store) Store(ctx context.Context, kind interfaces.RecordKind, id string, data []byte) error {
	key, err := s.objectKey(kind, id)
	if err != nil {
		return err
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.log.Debug("Stored record in s3",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return nil
}

// Delete removes a record from the bucket.
func (s *S3Store) Delete(ctx context.Context, kind interfaces.RecordKind, id string) error {
	key, err := s.objectKey(kind, id)
	if err != nil {
		return err
	}

	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
		}
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.log.Debug("Deleted record from s3",
		slog.String("kind", kind.String()),
		slog.String("id", id))
	return nil
}

// List returns the identifiers stored under a kind, sorted.
func (s *S3Store) List(ctx context.Context, kind interfaces.RecordKind) ([]string, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	keyPrefix := path.Join(s.prefix, kind.String()) + "/"
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	}

	var ids []string
	for {
		page, err := s.client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		for _, object := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(object.Key), keyPrefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			id, err := decodeRecordSegment(name)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		if !aws.BoolValue(page.IsTruncated) {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	sort.Strings(ids)
	return ids, nil
}

// Available checks if the bucket is accessible.
func (s *S3Store) Available(ctx context.Context) bool {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err == nil
}

// Name returns identifier for logging.
func (s *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", s.bucket)
}

// LocationURI returns URI identifying this store.
func (s *S3Store) LocationURI() string {
	return s.locationURI
}
