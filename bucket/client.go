package bucket

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientOptions configures the S3 client built by NewS3Client.
type ClientOptions struct {
	// Endpoint overrides the service endpoint, for S3-compatible stores.
	Endpoint string

	// ForcePathStyle addresses buckets as endpoint/bucket instead of bucket.endpoint.
	ForcePathStyle bool

	// MaxAttempts overrides the SDK retry attempts when positive.
	MaxAttempts int
}

// NewS3Client loads the default AWS configuration (environment, shared config,
// Lambda execution role) and returns an S3 client.
func NewS3Client(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(opts.MaxAttempts))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}
