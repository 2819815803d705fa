package bucket

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxBatchSize is the S3 limit for keys per listing page and per DeleteObjects call.
const MaxBatchSize = 1000

// Options controls seeding and emptying.
type Options struct {
	// SeedCount is the number of placeholder objects written by Seed.
	SeedCount int

	// KeyPrefix prefixes every placeholder key; the index is zero padded to 4 digits.
	KeyPrefix string

	// Body is the content of every placeholder object.
	Body []byte

	// PageSize is the listing page size and delete batch size, capped at MaxBatchSize.
	PageSize int32

	// DeleteVersions makes Empty remove noncurrent versions and delete markers too.
	DeleteVersions bool
}

// DefaultOptions returns the placeholder layout file_0000 .. file_1000 with body "Foo".
func DefaultOptions() Options {
	return Options{
		SeedCount: 1001,
		KeyPrefix: "file_",
		Body:      []byte("Foo"),
		PageSize:  MaxBatchSize,
	}
}

// Service performs bucket operations through an S3 API client.
type Service struct {
	client API
	opts   Options
}

// New creates a Service. Zero PageSize or one above MaxBatchSize is replaced by MaxBatchSize.
func New(client API, opts Options) *Service {
	if opts.PageSize <= 0 || opts.PageSize > MaxBatchSize {
		opts.PageSize = MaxBatchSize
	}
	return &Service{client: client, opts: opts}
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// SeedKey returns the key of the i-th placeholder object.
func SeedKey(prefix string, i int) string {
	return fmt.Sprintf("%s%04d", prefix, i)
}

// Seed writes SeedCount placeholder objects to bucket, one PutObject at a time.
// It stops at the first failure and returns how many objects were written;
// objects written before the failure are left in place.
func (s *Service) Seed(ctx context.Context, bucket string) (int, error) {
	for i := 0; i < s.opts.SeedCount; i++ {
		key := SeedKey(s.opts.KeyPrefix, i)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(s.opts.Body),
			ContentLength: aws.Int64(int64(len(s.opts.Body))),
		})
		if err != nil {
			return i, newError("put", bucket, key, err)
		}
	}
	return s.opts.SeedCount, nil
}

// KeyCount returns the number of keys on the first listing page of bucket.
// The result is capped at PageSize; callers compare it against thresholds no
// larger than that.
func (s *Service) KeyCount(ctx context.Context, bucket string) (int, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(s.opts.PageSize),
	})
	if err != nil {
		return 0, newError("list", bucket, "", err)
	}
	if out.KeyCount != nil {
		return int(aws.ToInt32(out.KeyCount)), nil
	}
	return len(out.Contents), nil
}
