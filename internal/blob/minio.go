package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds connection details for a MinIO/S3 bucket
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioStore implements Store on top of the minio-go SDK
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, wrapError(CodeEndpointUnreachable, false, errors.New("endpoint is required"))
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, errors.New("bucket is required"))
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, errors.New("credentials are required"))
	}

	// Parse endpoint URL to extract host
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("invalid endpoint URL: %w", err))
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("failed to create minio client: %w", err))
	}

	s := &MinioStore{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinioError(err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinioError(err)
	}
	return data, nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, classifyMinioError(info.Err)
		}
		out = append(out, Object{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	return out, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

// Close is a no-op, the SDK holds no persistent connection state.
func (s *MinioStore) Close() error { return nil }

// classifyMinioError converts minio-go errors to the structured Error type.
func classifyMinioError(err error) *Error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchBucket":
		return wrapError(CodeBucketNotFound, false, err)
	case "NoSuchKey":
		return wrapError(CodeObjectNotFound, false, err)
	case "AccessDenied":
		return wrapError(CodePermissionDenied, false, err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return wrapError(CodeAuthInvalid, false, err)
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return wrapError(CodeTimeout, true, err)
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return wrapError(CodeEndpointUnreachable, true, err)
	}

	return wrapError(CodeWriteFailed, true, err)
}
