// Package lifecycle implements the Create, Update and Delete operations of the
// bucket custom resource.
//
// Create fills the bucket with placeholder objects, Update does the same only
// when the bucket is not yet populated, and Delete removes every object so
// CloudFormation can delete the bucket afterwards.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/gurre/emptybucket/bucket"
	"github.com/gurre/emptybucket/customresource"
	"github.com/gurre/emptybucket/log"
)

// DefaultUpdateThreshold is the key count from which Update treats the bucket as populated.
const DefaultUpdateThreshold = 1000

// Properties are the ResourceProperties of the custom resource. Naming rules
// are left to the storage service, which reports unknown buckets as
// bucket.ErrBucketNotFound.
type Properties struct {
	BucketName string `mapstructure:"BucketName" validate:"required"`
}

// Store is the subset of bucket.Service used by the operations.
type Store interface {
	Seed(ctx context.Context, bucket string) (int, error)
	KeyCount(ctx context.Context, bucket string) (int, error)
	Empty(ctx context.Context, bucket string) (bucket.EmptyResult, error)
}

var _ Store = (*bucket.Service)(nil)

// Handler carries the operations for one Store.
type Handler struct {
	store     Store
	threshold int
}

// New returns a Handler. A non-positive threshold selects DefaultUpdateThreshold.
func New(store Store, threshold int) *Handler {
	if threshold <= 0 {
		threshold = DefaultUpdateThreshold
	}
	return &Handler{store: store, threshold: threshold}
}

// Operations returns the handler's operations for a customresource.Dispatcher.
func (h *Handler) Operations() customresource.Operations {
	return customresource.Operations{
		Create: customresource.OperationFunc(h.Create),
		Update: customresource.OperationFunc(h.Update),
		Delete: customresource.OperationFunc(h.Delete),
	}
}

func properties(event cfn.Event) (Properties, error) {
	var p Properties
	err := customresource.DecodeProperties(event.ResourceProperties, &p)
	return p, err
}

// Create writes the placeholder objects.
func (h *Handler) Create(ctx context.Context, logger log.Logger, event cfn.Event) error {
	p, err := properties(event)
	if err != nil {
		return err
	}

	n, err := h.store.Seed(ctx, p.BucketName)
	if err != nil {
		return fmt.Errorf("create: %d objects written before failure: %w", n, err)
	}
	logger.Info(ctx, "Successfully put objects in bucket", "bucket", p.BucketName, "count", n)
	return nil
}

// Update runs Create when the first listing page holds fewer keys than the threshold.
func (h *Handler) Update(ctx context.Context, logger log.Logger, event cfn.Event) error {
	p, err := properties(event)
	if err != nil {
		return err
	}

	count, err := h.store.KeyCount(ctx, p.BucketName)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	logger.Debug(ctx, "Counted keys", "bucket", p.BucketName, "key_count", count, "threshold", h.threshold)

	if count < h.threshold {
		create := log.Named(logger, customresource.LoggerName+": "+customresource.Phase(cfn.RequestCreate))
		return h.Create(ctx, create, event)
	}
	logger.Info(ctx, "Bucket has already been populated.", "bucket", p.BucketName)
	return nil
}

// Delete removes every object from the bucket.
func (h *Handler) Delete(ctx context.Context, logger log.Logger, event cfn.Event) error {
	p, err := properties(event)
	if err != nil {
		return err
	}

	res, err := h.store.Empty(ctx, p.BucketName)
	if err != nil {
		var bErr *bucket.Error
		if errors.As(err, &bErr) && bErr.Key != "" {
			logger.Warn(ctx, "Delete failed on key", "bucket", p.BucketName, "key", bErr.Key)
		}
		return fmt.Errorf("delete: %d objects removed before failure: %w", res.Objects+res.Versions, err)
	}
	logger.Info(ctx, "Successfully deleted all objects in bucket",
		"bucket", p.BucketName,
		"objects", res.Objects,
		"versions", res.Versions,
		"batches", res.Batches,
	)
	return nil
}
