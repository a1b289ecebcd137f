package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/keywarden/keywarden/interfaces"
)

// S3Store persists account records in Amazon S3 or a compatible object store.
// Each record is one JSON object; object PUTs are atomic, which preserves the
// wholesale-rewrite requirement.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Store creates an S3-backed blob store. Credentials are required;
// records contain wrapped secret material and must never live in a
// publicly writable bucket.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)

	return &S3Store{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Fetch reads the account's record object.
func (s *S3Store) Fetch(ctx context.Context, account interfaces.AccountID) (*interfaces.WrappedSecretBlob, error) {
	key := s.objectKey(account)

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, interfaces.ErrBlobNotFound
		}
		s.log.Error("Failed to fetch from S3",
			slog.String("bucket", s.bucketName),
			slog.String("key", key),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	var blob interfaces.WrappedSecretBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return &blob, nil
}

// Store rewrites the account's record object.
func (s *S3Store) Store(ctx context.Context, account interfaces.AccountID, blob *interfaces.WrappedSecretBlob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	key := s.objectKey(account)
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		s.log.Error("Failed to store to S3",
			slog.String("bucket", s.bucketName),
			slog.String("key", key),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	return nil
}

// Available probes the bucket with a HEAD request.
func (s *S3Store) Available(ctx context.Context) bool {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	return err == nil
}

// Name returns the backend's location URI.
func (s *S3Store) Name() string {
	return s.locationURI
}

func (s *S3Store) objectKey(account interfaces.AccountID) string {
	sum := sha256.Sum256([]byte(account))
	return path.Join(s.prefix, "records", hex.EncodeToString(sum[:])+".json")
}
