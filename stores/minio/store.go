package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/microbiomeViz/Picture-library/core"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// minioAPI is the part of *minio.Client the store uses.
type minioAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type minioStore struct {
	client  minioAPI
	bucket  string
	baseURL string
}

// NewStore connects to a MinIO (or any S3-compatible) endpoint and makes sure
// the bucket exists.
func NewStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*minioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w: %v", bucket, core.ErrTransport, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w: %v", bucket, core.ErrTransport, err)
		}
		logrus.WithField("bucket", bucket).Info("Created object bucket")
	}

	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return newStore(client, bucket, fmt.Sprintf("%s://%s", scheme, endpoint)), nil
}

func newStore(client minioAPI, bucket, endpointURL string) *minioStore {
	return &minioStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(endpointURL, "/") + "/" + bucket + "/",
	}
}

func checkKey(key string) error {
	if key == "" || path.Base(key) != key || key == "." || key == ".." {
		return fmt.Errorf("invalid object key %q: %w", key, core.ErrValidation)
	}
	return nil
}

func (s *minioStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w: %v", key, core.ErrTransport, err)
	}
	return nil
}

func (s *minioStore) PublicURL(key string) string {
	return s.baseURL + key
}

func (s *minioStore) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, s.baseURL) {
		return "", false
	}
	key := strings.TrimPrefix(url, s.baseURL)
	return key, checkKey(key) == nil
}

func (s *minioStore) Remove(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w: %v", key, core.ErrTransport, err)
	}
	return nil
}
