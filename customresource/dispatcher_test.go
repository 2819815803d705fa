package customresource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurre/emptybucket/log"
	"github.com/gurre/emptybucket/runtime"
)

// cfnServer records every PUT sent to the pre-signed URL.
type cfnServer struct {
	*httptest.Server

	mu           sync.Mutex
	responses    []cfn.Response
	contentTypes []string
	statuses     []int // served in order, then 200
}

func newCFNServer(t *testing.T, statuses ...int) *cfnServer {
	s := &cfnServer{statuses: statuses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, int64(len(body)), r.ContentLength)

		var resp cfn.Response
		assert.NoError(t, json.Unmarshal(body, &resp))

		s.mu.Lock()
		defer s.mu.Unlock()
		s.responses = append(s.responses, resp)
		s.contentTypes = append(s.contentTypes, r.Header.Get("Content-Type"))
		if len(s.statuses) > 0 {
			code := s.statuses[0]
			s.statuses = s.statuses[1:]
			w.WriteHeader(code)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *cfnServer) received() []cfn.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cfn.Response(nil), s.responses...)
}

func testEvent(url string, requestType cfn.RequestType) cfn.Event {
	return cfn.Event{
		RequestType:        requestType,
		RequestID:          "req-1",
		ResponseURL:        url + "/signed?X-Amz-Signature=secret",
		ResourceType:       "Custom::EmptyBucket",
		LogicalResourceID:  "EmptyBucket",
		StackID:            "arn:aws:cloudformation:eu-west-1:123456789012:stack/demo/1",
		ResourceProperties: map[string]interface{}{"BucketName": "b1"},
	}
}

func fastResponder() Responder {
	return NewHTTPResponder(WithRetries(2, time.Millisecond))
}

func withLogStream(stream string) context.Context {
	return runtime.WithRequestContext(context.Background(), runtime.RequestContext{LogStreamName: stream})
}

func TestDispatchSuccess(t *testing.T) {
	srv := newCFNServer(t)
	var buf bytes.Buffer
	var got cfn.Event
	var phaseLogger log.Logger

	ops := Operations{
		Create: OperationFunc(func(ctx context.Context, l log.Logger, e cfn.Event) error {
			got = e
			phaseLogger = l
			l.Info(ctx, "Successfully put objects in bucket")
			return nil
		}),
	}
	d := NewDispatcher(ops, WithResponder(fastResponder()), WithLogger(log.NewText(log.LevelDebug, &buf)))

	out, err := d.Dispatch(withLogStream("2024/05/01/[$LATEST]abc"), testEvent(srv.URL, cfn.RequestCreate))
	require.NoError(t, err)
	assert.Equal(t, cfn.StatusSuccess, out.Status)
	assert.Equal(t, "2024/05/01/[$LATEST]abc", out.PhysicalResourceID)
	assert.Equal(t, "b1", got.ResourceProperties["BucketName"])
	assert.NotNil(t, phaseLogger)

	responses := srv.received()
	require.Len(t, responses, 1)
	r := responses[0]
	assert.Equal(t, cfn.StatusSuccess, r.Status)
	assert.Equal(t, "req-1", r.RequestID)
	assert.Equal(t, "EmptyBucket", r.LogicalResourceID)
	assert.Equal(t, "arn:aws:cloudformation:eu-west-1:123456789012:stack/demo/1", r.StackID)
	assert.Equal(t, "2024/05/01/[$LATEST]abc", r.PhysicalResourceID)
	assert.Empty(t, r.Reason)
	assert.Equal(t, []string{""}, srv.contentTypes)

	logs := buf.String()
	assert.Contains(t, logs, "CUSTOM RESOURCE HANDLER EVENT")
	assert.Contains(t, logs, "CUSTOM RESOURCE HANDLER: CREATE Successfully put objects in bucket")
	assert.NotContains(t, logs, "X-Amz-Signature", "the pre-signed URL is never logged")
}

func TestDispatchKeepsExistingPhysicalResourceID(t *testing.T) {
	srv := newCFNServer(t)
	noop := OperationFunc(func(context.Context, log.Logger, cfn.Event) error { return nil })
	d := NewDispatcher(Operations{Update: noop}, WithResponder(fastResponder()), WithLogger(log.NewText(log.LevelError, io.Discard)))

	event := testEvent(srv.URL, cfn.RequestUpdate)
	event.PhysicalResourceID = "existing-id"
	out, err := d.Dispatch(withLogStream("stream"), event)
	require.NoError(t, err)
	assert.Equal(t, "existing-id", out.PhysicalResourceID)

	// Without a runtime context the logical id is used.
	event.PhysicalResourceID = ""
	out, err = d.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "EmptyBucket", out.PhysicalResourceID)
}

func TestDispatchReportsOperationFailure(t *testing.T) {
	srv := newCFNServer(t)
	var buf bytes.Buffer
	boom := errors.New("s3.put b1/file_0010: access denied")
	ops := Operations{
		Delete: OperationFunc(func(context.Context, log.Logger, cfn.Event) error { return boom }),
	}
	d := NewDispatcher(ops, WithResponder(fastResponder()), WithLogger(log.NewText(log.LevelInfo, &buf)))

	out, err := d.Dispatch(context.Background(), testEvent(srv.URL, cfn.RequestDelete))
	require.NoError(t, err, "a delivered FAILED response is not an invocation error")
	assert.Equal(t, cfn.StatusFailed, out.Status)
	assert.Equal(t, boom.Error(), out.Reason)

	responses := srv.received()
	require.Len(t, responses, 1)
	assert.Equal(t, cfn.StatusFailed, responses[0].Status)
	assert.Equal(t, boom.Error(), responses[0].Reason)
	assert.Contains(t, buf.String(), "Operation failed")
}

func TestDispatchUnsupportedRequestType(t *testing.T) {
	srv := newCFNServer(t)
	called := false
	op := OperationFunc(func(context.Context, log.Logger, cfn.Event) error {
		called = true
		return nil
	})
	d := NewDispatcher(Operations{Create: op, Update: op, Delete: op},
		WithResponder(fastResponder()), WithLogger(log.NewText(log.LevelError, io.Discard)))

	out, err := d.Dispatch(context.Background(), testEvent(srv.URL, "Rename"))
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, cfn.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "unsupported request type")
	assert.Len(t, srv.received(), 1)
}

func TestDispatchDeadlineGuard(t *testing.T) {
	srv := newCFNServer(t)
	ops := Operations{
		Delete: OperationFunc(func(ctx context.Context, _ log.Logger, _ cfn.Event) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}
	d := NewDispatcher(ops,
		WithResponder(fastResponder()),
		WithLogger(log.NewText(log.LevelError, io.Discard)),
		WithTimeoutMargin(2*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := d.Dispatch(ctx, testEvent(srv.URL, cfn.RequestDelete))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "the operation is cut off before the invocation deadline")
	assert.Equal(t, cfn.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, context.DeadlineExceeded.Error())
	assert.Len(t, srv.received(), 1)
}

func TestDispatchRecoversPanics(t *testing.T) {
	srv := newCFNServer(t)
	ops := Operations{
		Create: OperationFunc(func(context.Context, log.Logger, cfn.Event) error { panic("nil map") }),
	}
	d := NewDispatcher(ops, WithResponder(fastResponder()), WithLogger(log.NewText(log.LevelError, io.Discard)))

	out, err := d.Dispatch(context.Background(), testEvent(srv.URL, cfn.RequestCreate))
	require.NoError(t, err)
	assert.Equal(t, cfn.StatusFailed, out.Status)
	assert.Equal(t, "operation panicked: nil map", out.Reason)
}

func TestDispatchReturnsErrorWhenResponseUndeliverable(t *testing.T) {
	srv := newCFNServer(t, http.StatusForbidden)
	noop := OperationFunc(func(context.Context, log.Logger, cfn.Event) error { return nil })
	d := NewDispatcher(Operations{Create: noop}, WithResponder(fastResponder()), WithLogger(log.NewText(log.LevelError, io.Discard)))

	out, err := d.Dispatch(context.Background(), testEvent(srv.URL, cfn.RequestCreate))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, cfn.StatusSuccess, out.Status)
	assert.Len(t, srv.received(), 1, "client errors are not retried")
}

func TestResponderRetriesServerErrors(t *testing.T) {
	srv := newCFNServer(t, http.StatusInternalServerError, http.StatusBadGateway)
	r := NewHTTPResponder(WithRetries(3, time.Millisecond))

	resp := &cfn.Response{Status: cfn.StatusSuccess, RequestID: "req-1"}
	require.NoError(t, r.Send(context.Background(), srv.URL, resp))
	assert.Len(t, srv.received(), 3)
}

func TestResponderGivesUpAfterRetries(t *testing.T) {
	srv := newCFNServer(t, 500, 500, 500, 500)
	r := NewHTTPResponder(WithRetries(1, time.Millisecond))

	err := r.Send(context.Background(), srv.URL, &cfn.Response{Status: cfn.StatusFailed})
	require.Error(t, err)
	assert.Len(t, srv.received(), 2)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "boom", reason(context.Background(), errors.New("boom")))
	assert.Equal(t, "See the details in CloudWatch Log Stream: s1", reason(withLogStream("s1"), errors.New("")))
	assert.Equal(t, "See the details in CloudWatch Log Stream: unknown", reason(context.Background(), errors.New("")))

	long := reason(context.Background(), errors.New(strings.Repeat("x", 2000)))
	assert.Len(t, long, maxReasonLength)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", 1023) + "é"
	got := truncate(s, 1024)
	assert.Equal(t, strings.Repeat("a", 1023), got)
	assert.Equal(t, "abc", truncate("abc", 10))
}
