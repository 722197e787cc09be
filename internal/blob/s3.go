package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for the S3-compatible store.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string // defaults to "auto" for R2-style endpoints
}

// S3Store implements Store against any S3-compatible endpoint.
//
// Bucket-existence results are cached in an explicit ensured set guarded by a
// mutex. Lifecycle: a bucket enters the set when EnsureBucket succeeds and
// leaves it only via InvalidateBucket (call it after any out-of-band bucket
// deletion, or on a NoSuchBucket upload failure) or process restart. The set
// is an availability optimization, not a source of truth.
type S3Store struct {
	client *s3.Client

	mu      sync.Mutex
	ensured map[string]bool
}

// NewS3Store creates a new S3Store.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Store{
		client:  client,
		ensured: make(map[string]bool),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist, caching success in
// the ensured set.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	if s.ensured[bucket] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("%w: head bucket %s: %v", ErrStorage, bucket, err)
		}
		_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			var owned *types.BucketAlreadyOwnedByYou
			if !errors.As(err, &owned) {
				return fmt.Errorf("%w: create bucket %s: %v", ErrStorage, bucket, err)
			}
		}
	}

	s.mu.Lock()
	s.ensured[bucket] = true
	s.mu.Unlock()
	return nil
}

// InvalidateBucket drops a bucket from the ensured set so the next
// EnsureBucket re-checks it against the provider.
func (s *S3Store) InvalidateBucket(bucket string) {
	s.mu.Lock()
	delete(s.ensured, bucket)
	s.mu.Unlock()
}

// Put uploads an object.
func (s *S3Store) Put(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noBucket) {
			// The bucket disappeared out-of-band; force a re-check next cycle.
			s.InvalidateBucket(bucket)
		}
		return fmt.Errorf("%w: put %s/%s: %v", ErrStorage, bucket, path, err)
	}
	return nil
}

// Remove deletes the given paths, ignoring objects that are already gone.
func (s *S3Store) Remove(ctx context.Context, bucket string, paths []string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(path),
		})
		if err != nil {
			var noKey *types.NoSuchKey
			if errors.As(err, &noKey) {
				continue
			}
			return fmt.Errorf("%w: delete %s/%s: %v", ErrStorage, bucket, path, err)
		}
	}
	return nil
}

// Get downloads an object.
func (s *S3Store) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrStorage, bucket, path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s/%s: %v", ErrStorage, bucket, path, err)
	}
	return data, nil
}
