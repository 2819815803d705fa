package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurre/emptybucket/bucket/buckettest"
	"github.com/gurre/emptybucket/config"
	"github.com/gurre/emptybucket/customresource"
	"github.com/gurre/emptybucket/log"
	"github.com/gurre/emptybucket/runtime"
	"github.com/gurre/emptybucket/runtimeapi"
)

// fakeRuntime serves queued invocations and records what the loop posts back.
type fakeRuntime struct {
	mu        sync.Mutex
	queue     []*runtimeapi.Invocation
	responses map[string][]byte
	errors    map[string]string
	cancel    context.CancelFunc
}

func (f *fakeRuntime) Next(ctx context.Context) (*runtimeapi.Invocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		f.cancel()
		return nil, context.Canceled
	}
	inv := f.queue[0]
	f.queue = f.queue[1:]
	return inv, nil
}

func (f *fakeRuntime) Response(_ context.Context, id string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[id] = payload
	return nil
}

func (f *fakeRuntime) Error(_ context.Context, id, errorType string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[id] = errorType
	return nil
}

func (f *fakeRuntime) InitError(context.Context, string, []byte) error { return nil }

func TestBootstrapLifecycle(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []cfn.StatusType
	)
	cfnSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var resp cfn.Response
		assert.NoError(t, json.Unmarshal(body, &resp))
		mu.Lock()
		statuses = append(statuses, resp.Status)
		mu.Unlock()
	}))
	defer cfnSrv.Close()

	invocation := func(id string, rt cfn.RequestType, url string) *runtimeapi.Invocation {
		payload, err := json.Marshal(cfn.Event{
			RequestType:        rt,
			RequestID:          id,
			ResponseURL:        url,
			LogicalResourceID:  "EmptyBucket",
			ResourceProperties: map[string]interface{}{"BucketName": "b1"},
		})
		require.NoError(t, err)
		return &runtimeapi.Invocation{RequestID: id, Payload: payload}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeRuntime{
		queue: []*runtimeapi.Invocation{
			invocation("create", cfn.RequestCreate, cfnSrv.URL),
			invocation("update", cfn.RequestUpdate, cfnSrv.URL),
			invocation("delete", cfn.RequestDelete, cfnSrv.URL),
			invocation("no-url", cfn.RequestDelete, ""),
		},
		responses: map[string][]byte{},
		errors:    map[string]string{},
		cancel:    cancel,
	}

	fake := buckettest.New("b1")
	logger := log.NewText(log.LevelError, io.Discard)
	h := NewHandler(config.Default(), logger, fake)

	loop := runtime.NewEventLoop(h, runtime.WithLogger(logger), runtime.WithRuntimeAPI(api))
	require.NoError(t, loop.Run(ctx))

	for _, id := range []string{"create", "update", "delete"} {
		var out customresource.Outcome
		require.NoError(t, json.Unmarshal(api.responses[id], &out), id)
		assert.Equal(t, cfn.StatusSuccess, out.Status, id)
		assert.Equal(t, "EmptyBucket", out.PhysicalResourceID, id)
	}
	assert.Equal(t, runtime.ErrorTypeValidate, api.errors["no-url"])

	assert.Equal(t, []cfn.StatusType{cfn.StatusSuccess, cfn.StatusSuccess, cfn.StatusSuccess}, statuses)
	assert.Equal(t, 1001, fake.PutCalls, "update after create writes nothing")
	assert.Empty(t, fake.Keys("b1"))
}
