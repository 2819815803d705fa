// Package bucket implements the object-storage side of the empty-bucket custom
// resource: seeding a bucket with placeholder objects, counting its keys and
// removing every object (optionally every version) from it.
package bucket

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client used by this package.
type API interface {
	// PutObject uploads an object.
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)

	// ListObjectsV2 lists one page of current objects.
	ListObjectsV2(
		ctx context.Context,
		params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)

	// ListObjectVersions lists one page of object versions and delete markers.
	ListObjectVersions(
		ctx context.Context,
		params *s3.ListObjectVersionsInput,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectVersionsOutput, error)

	// DeleteObjects deletes up to 1000 objects in one request.
	DeleteObjects(
		ctx context.Context,
		params *s3.DeleteObjectsInput,
		optFns ...func(*s3.Options),
	) (*s3.DeleteObjectsOutput, error)
}

var _ API = (*s3.Client)(nil)
