package aws

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/microbiomeViz/Picture-library/core"
)

// s3API is the part of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Store struct {
	s3Client s3API
	bucket   string
	baseURL  string
}

// NewStore creates a new S3-backed object store. publicBaseURL is the prefix
// objects are reachable under (a CDN or website endpoint); when empty the
// virtual-hosted bucket URL is used.
func NewStore(bucketName, publicBaseURL string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName, publicBaseURL)
}

func newStore(client s3API, bucketName, publicBaseURL string) *s3Store {
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucketName)
	}
	return &s3Store{
		s3Client: client,
		bucket:   bucketName,
		baseURL:  strings.TrimRight(publicBaseURL, "/") + "/",
	}
}

func validKey(key string) error {
	// Keys are flat file names; reject anything that looks like a path.
	if key == "" || path.Base(key) != key || key == "." || key == ".." {
		return fmt.Errorf("invalid object key %q: %w", key, core.ErrValidation)
	}
	return nil
}

func (s *s3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w: %v", key, core.ErrTransport, err)
	}
	return nil
}

func (s *s3Store) PublicURL(key string) string {
	return s.baseURL + key
}

func (s *s3Store) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, s.baseURL) {
		return "", false
	}
	key := strings.TrimPrefix(url, s.baseURL)
	return key, validKey(key) == nil
}

func (s *s3Store) Remove(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w: %v", key, core.ErrTransport, err)
	}
	return nil
}
