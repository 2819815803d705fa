package bucket

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Sentinel errors for classified storage failures. Use errors.Is on errors
// returned by this package.
var (
	// ErrBucketNotFound indicates that the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket: not found")

	// ErrAccessDenied indicates that the caller may not perform the operation.
	ErrAccessDenied = errors.New("bucket: access denied")

	// ErrThrottled indicates that the service rejected the request rate.
	ErrThrottled = errors.New("bucket: request throttled")

	// ErrPartialDelete indicates that a batch delete reported per-key failures.
	ErrPartialDelete = errors.New("bucket: some objects could not be deleted")
)

// Error describes a failed storage operation.
type Error struct {
	// Op is the operation that failed: "put", "list", "list-versions" or "delete".
	Op string

	// Bucket is the bucket name.
	Bucket string

	// Key is the object key, if the failure concerns one object.
	Key string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: classify(err)}
}

// classify tags SDK API errors with the matching sentinel while keeping the
// original error in the chain.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	case "AccessDenied", "AllAccessDisabled":
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	default:
		return err
	}
}
