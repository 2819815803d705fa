// Package buckettest provides an in-memory S3 fake implementing bucket.API.
package buckettest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const defaultMaxKeys = 1000

type object struct {
	body      []byte
	versionID string
}

type version struct {
	key       string
	versionID string
	marker    bool
}

type bucketState struct {
	versioned bool
	objects   map[string]object
	history   []version // noncurrent versions and delete markers
}

// Fake is a thread-safe in-memory object store. Listing follows S3 semantics:
// keys in lexical order, at most MaxKeys (default 1000) per page.
type Fake struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	seq     int

	// PutErr, when set, is consulted before every PutObject.
	PutErr func(key string) error

	// ListErr, when set, fails every listing call.
	ListErr error

	// DeleteErrCodes maps keys to the per-key error code DeleteObjects reports for them.
	DeleteErrCodes map[string]string

	// Call counters.
	PutCalls          int
	ListCalls         int
	ListVersionsCalls int
	DeleteCalls       int

	// DeleteBatchSizes records the number of keys in each DeleteObjects call.
	DeleteBatchSizes []int
}

// New returns a Fake holding the given empty, unversioned buckets.
func New(buckets ...string) *Fake {
	f := &Fake{buckets: map[string]*bucketState{}}
	for _, b := range buckets {
		f.CreateBucket(b, false)
	}
	return f
}

// CreateBucket adds an empty bucket.
func (f *Fake) CreateBucket(name string, versioned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[name] = &bucketState{versioned: versioned, objects: map[string]object{}}
}

// Fill writes n objects named obj-000000 .. without touching the call counters.
func (f *Fake) Fill(bucket string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.buckets[bucket]
	for i := 0; i < n; i++ {
		f.putLocked(b, fmt.Sprintf("obj-%06d", i), []byte("x"))
	}
}

// Keys returns the current object keys of bucket in lexical order.
func (f *Fake) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return nil
	}
	return sortedKeys(b.objects)
}

// Body returns the content of an object, or nil if it does not exist.
func (f *Fake) Body(bucket, key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[bucket]; ok {
		return b.objects[key].body
	}
	return nil
}

// VersionCount returns the number of noncurrent versions and delete markers in bucket.
func (f *Fake) VersionCount(bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[bucket]; ok {
		return len(b.history)
	}
	return 0
}

func noSuchBucket(name string) error {
	return &smithy.GenericAPIError{
		Code:    "NoSuchBucket",
		Message: "The specified bucket does not exist: " + name,
		Fault:   smithy.FaultClient,
	}
}

func (f *Fake) bucket(name *string) (*bucketState, error) {
	b, ok := f.buckets[aws.ToString(name)]
	if !ok {
		return nil, noSuchBucket(aws.ToString(name))
	}
	return b, nil
}

func (f *Fake) nextVersionID() string {
	f.seq++
	return fmt.Sprintf("v%06d", f.seq)
}

func (f *Fake) putLocked(b *bucketState, key string, body []byte) {
	id := "null"
	if b.versioned {
		if old, ok := b.objects[key]; ok {
			b.history = append(b.history, version{key: key, versionID: old.versionID})
		}
		id = f.nextVersionID()
	}
	b.objects[key] = object{body: body, versionID: id}
}

// PutObject implements bucket.API.
func (f *Fake) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++

	if f.PutErr != nil {
		if err := f.PutErr(aws.ToString(in.Key)); err != nil {
			return nil, err
		}
	}
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	var body []byte
	if in.Body != nil {
		if body, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	f.putLocked(b, aws.ToString(in.Key), body)
	return &s3.PutObjectOutput{}, nil
}

// ListObjectsV2 implements bucket.API.
func (f *Fake) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++

	if f.ListErr != nil {
		return nil, f.ListErr
	}
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	maxKeys := int(aws.ToInt32(in.MaxKeys))
	if maxKeys <= 0 || maxKeys > defaultMaxKeys {
		maxKeys = defaultMaxKeys
	}
	after := aws.ToString(in.ContinuationToken)
	if after == "" {
		after = aws.ToString(in.StartAfter)
	}

	keys := sortedKeys(b.objects)
	start := sort.SearchStrings(keys, after)
	if start < len(keys) && keys[start] == after {
		start++
	}
	end := min(start+maxKeys, len(keys))
	page := keys[start:end]

	out := &s3.ListObjectsV2Output{
		Name:        in.Bucket,
		KeyCount:    aws.Int32(int32(len(page))),
		MaxKeys:     aws.Int32(int32(maxKeys)),
		IsTruncated: aws.Bool(end < len(keys)),
	}
	for _, k := range page {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(b.objects[k].body))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(page[len(page)-1])
	}
	return out, nil
}

// ListObjectVersions implements bucket.API. Current objects are listed as
// latest versions alongside the noncurrent history.
func (f *Fake) ListObjectVersions(_ context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListVersionsCalls++

	if f.ListErr != nil {
		return nil, f.ListErr
	}
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	all := make([]version, 0, len(b.objects)+len(b.history))
	for k, o := range b.objects {
		all = append(all, version{key: k, versionID: o.versionID})
	}
	all = append(all, b.history...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].key != all[j].key {
			return all[i].key < all[j].key
		}
		return all[i].versionID < all[j].versionID
	})

	start := 0
	if in.KeyMarker != nil {
		km, vm := aws.ToString(in.KeyMarker), aws.ToString(in.VersionIdMarker)
		start = sort.Search(len(all), func(i int) bool {
			return all[i].key > km || (all[i].key == km && all[i].versionID > vm)
		})
	}
	maxKeys := int(aws.ToInt32(in.MaxKeys))
	if maxKeys <= 0 || maxKeys > defaultMaxKeys {
		maxKeys = defaultMaxKeys
	}
	end := min(start+maxKeys, len(all))

	out := &s3.ListObjectVersionsOutput{
		Name:        in.Bucket,
		IsTruncated: aws.Bool(end < len(all)),
	}
	for _, v := range all[start:end] {
		if v.marker {
			out.DeleteMarkers = append(out.DeleteMarkers, types.DeleteMarkerEntry{
				Key: aws.String(v.key), VersionId: aws.String(v.versionID),
			})
			continue
		}
		out.Versions = append(out.Versions, types.ObjectVersion{
			Key: aws.String(v.key), VersionId: aws.String(v.versionID),
		})
	}
	if end < len(all) {
		last := all[end-1]
		out.NextKeyMarker = aws.String(last.key)
		out.NextVersionIdMarker = aws.String(last.versionID)
	}
	return out, nil
}

// DeleteObjects implements bucket.API.
func (f *Fake) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if in.Delete == nil || len(in.Delete.Objects) == 0 {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML", Message: "no objects to delete", Fault: smithy.FaultClient}
	}
	if len(in.Delete.Objects) > defaultMaxKeys {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML", Message: "more than 1000 keys", Fault: smithy.FaultClient}
	}
	f.DeleteBatchSizes = append(f.DeleteBatchSizes, len(in.Delete.Objects))

	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if code, ok := f.DeleteErrCodes[key]; ok {
			out.Errors = append(out.Errors, types.Error{
				Key: id.Key, VersionId: id.VersionId, Code: aws.String(code), Message: aws.String(code),
			})
			continue
		}
		f.deleteLocked(b, key, aws.ToString(id.VersionId))
		if !aws.ToBool(in.Delete.Quiet) {
			out.Deleted = append(out.Deleted, types.DeletedObject{Key: id.Key, VersionId: id.VersionId})
		}
	}
	return out, nil
}

func (f *Fake) deleteLocked(b *bucketState, key, versionID string) {
	if versionID == "" {
		obj, ok := b.objects[key]
		if !ok {
			return
		}
		delete(b.objects, key)
		if b.versioned {
			b.history = append(b.history,
				version{key: key, versionID: obj.versionID},
				version{key: key, versionID: f.nextVersionID(), marker: true},
			)
		}
		return
	}

	if obj, ok := b.objects[key]; ok && obj.versionID == versionID {
		delete(b.objects, key)
		return
	}
	for i, v := range b.history {
		if v.key == key && v.versionID == versionID {
			b.history = append(b.history[:i], b.history[i+1:]...)
			return
		}
	}
}

func sortedKeys(m map[string]object) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
