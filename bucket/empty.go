package bucket

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// EmptyResult summarizes an Empty call.
type EmptyResult struct {
	// Objects is the number of current objects deleted.
	Objects int

	// Versions is the number of noncurrent versions and delete markers deleted.
	Versions int

	// Batches is the number of DeleteObjects requests issued.
	Batches int
}

// Empty deletes every current object in bucket, one DeleteObjects call per
// listing page. With DeleteVersions set it then removes all versions and
// delete markers, leaving a versioned bucket deletable as well.
//
// The first failing list or delete aborts the call; the returned result counts
// what was deleted up to that point.
func (s *Service) Empty(ctx context.Context, bucket string) (EmptyResult, error) {
	var res EmptyResult

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(s.opts.PageSize),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return res, newError("list", bucket, "", err)
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}

		n, batches, err := s.deleteBatch(ctx, bucket, ids)
		res.Objects += n
		res.Batches += batches
		if err != nil {
			return res, err
		}
	}

	if !s.opts.DeleteVersions {
		return res, nil
	}

	n, batches, err := s.emptyVersions(ctx, bucket)
	res.Versions += n
	res.Batches += batches
	return res, err
}

// emptyVersions deletes every object version and delete marker in bucket.
func (s *Service) emptyVersions(ctx context.Context, bucket string) (deleted, batches int, err error) {
	input := &s3.ListObjectVersionsInput{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(s.opts.PageSize),
	}

	for {
		out, err := s.client.ListObjectVersions(ctx, input)
		if err != nil {
			return deleted, batches, newError("list-versions", bucket, "", err)
		}

		ids := make([]types.ObjectIdentifier, 0, len(out.Versions)+len(out.DeleteMarkers))
		for _, v := range out.Versions {
			ids = append(ids, types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range out.DeleteMarkers {
			ids = append(ids, types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}

		n, b, err := s.deleteBatch(ctx, bucket, ids)
		deleted += n
		batches += b
		if err != nil {
			return deleted, batches, err
		}

		if !aws.ToBool(out.IsTruncated) {
			return deleted, batches, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.VersionIdMarker = out.NextVersionIdMarker
	}
}

// deleteBatch removes ids in chunks of at most PageSize keys. Per-key failures
// reported by the service are returned as ErrPartialDelete.
func (s *Service) deleteBatch(ctx context.Context, bucket string, ids []types.ObjectIdentifier) (deleted, batches int, err error) {
	size := int(s.opts.PageSize)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunk := ids[start:end]

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: chunk,
				Quiet:   aws.Bool(true),
			},
		})
		batches++
		if err != nil {
			return deleted, batches, newError("delete", bucket, "", err)
		}

		deleted += len(chunk) - len(out.Errors)
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, batches, &Error{
				Op:     "delete",
				Bucket: bucket,
				Key:    aws.ToString(first.Key),
				Err: fmt.Errorf("%w: %d of %d keys failed, first: %s: %s",
					ErrPartialDelete, len(out.Errors), len(chunk),
					aws.ToString(first.Code), aws.ToString(first.Message)),
			}
		}
	}
	return deleted, batches, nil
}
