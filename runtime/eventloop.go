package runtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurre/emptybucket/log"
	"github.com/gurre/emptybucket/runtimeapi"
	jsoniter "github.com/json-iterator/go"
)

const (
	coldStartTimeout = 9 * time.Second
	shutdownTimeout  = 2 * time.Second
	nextRetryDelay   = 100 * time.Millisecond
)

// Error types reported to the Runtime API.
const (
	ErrorTypeInit      = "InitError"
	ErrorTypeUnmarshal = "UnmarshalError"
	ErrorTypeValidate  = "ValidationError"
	ErrorTypeMarshal   = "MarshalError"
)

// ErrorResponse is the error document posted to the Runtime API.
type ErrorResponse struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorType    string `json:"errorType"`
}

// payloadCodec decodes events and encodes results. Unlike the log codec it
// keeps insertion order and leaves HTML alone.
var payloadCodec = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// EventLoop pulls invocations from the Runtime API and drives a Handler.
type EventLoop[T, R any] struct {
	handler Handler[T, R]
	logger  log.Logger
	api     runtimeapi.RuntimeAPI

	// environment metadata, copied into every invocation's RequestContext
	env RequestContext
}

// Option configures an EventLoop.
type Option func(*options)

type options struct {
	logger log.Logger
	api    runtimeapi.RuntimeAPI
}

// WithLogger sets the logger used for runtime-level messages.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRuntimeAPI overrides the Runtime API client; by default it is built from
// AWS_LAMBDA_RUNTIME_API when Run starts.
func WithRuntimeAPI(api runtimeapi.RuntimeAPI) Option {
	return func(o *options) { o.api = api }
}

// NewEventLoop returns an EventLoop for h. Environment metadata is read once here.
func NewEventLoop[T, R any](h Handler[T, R], opts ...Option) *EventLoop[T, R] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(log.LevelInfo, os.Stdout)
	}

	e := &EventLoop[T, R]{
		handler: h,
		logger:  log.Named(o.logger, "runtime"),
		api:     o.api,
	}
	e.env.PopulateFromEnvironment()
	return e
}

// Run initializes the handler and processes invocations until ctx is canceled
// or the process receives SIGTERM/SIGINT.
func (e *EventLoop[T, R]) Run(ctx context.Context) error {
	if e.api == nil {
		api, err := runtimeapi.FromEnvironment()
		if err != nil {
			return err
		}
		e.api = api
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(sigCtx, coldStartTimeout)
	err := e.handler.ColdStart(initCtx)
	cancelInit()
	if err != nil {
		e.postError(context.Background(), "", ErrorTypeInit, err)
		return fmt.Errorf("cold start: %w", err)
	}

	for {
		if sigCtx.Err() != nil {
			e.shutdown()
			return nil
		}

		inv, err := e.api.Next(sigCtx)
		if err != nil {
			if sigCtx.Err() == nil {
				e.logger.Warn(sigCtx, "failed to fetch next invocation", "error", err)
				time.Sleep(nextRetryDelay)
			}
			continue
		}

		e.invoke(sigCtx, inv)
	}
}

// invoke runs one invocation and posts its result or error.
func (e *EventLoop[T, R]) invoke(parent context.Context, inv *runtimeapi.Invocation) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if !inv.Deadline.IsZero() {
		ctx, cancel = context.WithDeadline(parent, inv.Deadline)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	rc := e.env
	rc.AwsRequestID = inv.RequestID
	rc.InvokedFunctionArn = inv.InvokedFunctionArn
	rc.Deadline = inv.Deadline
	rc.TraceID = inv.TraceID
	ctx = NewContext(ctx, &rc)

	var event T
	if len(inv.Payload) > 0 {
		if err := payloadCodec.Unmarshal(inv.Payload, &event); err != nil {
			e.postError(ctx, inv.RequestID, ErrorTypeUnmarshal, err)
			return
		}
	}

	if err := e.handler.Validate(ctx, event); err != nil {
		e.postError(ctx, inv.RequestID, ErrorTypeValidate, err)
		return
	}

	result, err := e.handler.Handler(ctx, event)
	if err != nil {
		e.postError(ctx, inv.RequestID, errorType(err), err)
		return
	}

	body, err := payloadCodec.Marshal(result)
	if err != nil {
		e.postError(ctx, inv.RequestID, ErrorTypeMarshal, err)
		return
	}

	if err := e.api.Response(ctx, inv.RequestID, body); err != nil {
		e.logger.Error(ctx, "failed to post invocation response", "request_id", inv.RequestID, "error", err)
	}
}

// postError reports err to the Runtime API. An empty requestID reports an init error.
func (e *EventLoop[T, R]) postError(ctx context.Context, requestID, errType string, err error) {
	e.logger.Error(ctx, "invocation failed", "request_id", requestID, "error_type", errType, "error", err)

	body, mErr := payloadCodec.Marshal(ErrorResponse{ErrorMessage: err.Error(), ErrorType: errType})
	if mErr != nil {
		body = []byte(`{"errorType":"` + ErrorTypeMarshal + `"}`)
	}

	var postErr error
	if requestID == "" {
		postErr = e.api.InitError(ctx, errType, body)
	} else {
		postErr = e.api.Error(ctx, requestID, errType, body)
	}
	if postErr != nil {
		e.logger.Error(ctx, "failed to post error", "request_id", requestID, "error", postErr)
	}
}

func (e *EventLoop[T, R]) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.handler.Shutdown(ctx); err != nil {
		e.logger.Error(ctx, "shutdown error", "error", err)
	}
}

// errorType names the dynamic type of err, as the Lambda console shows it.
func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}

// Start is the entrypoint for running a Lambda handler.
//
//	runtime.Start(NewHandler())
func Start[T, R any](h Handler[T, R], opts ...Option) {
	loop := NewEventLoop(h, opts...)
	if err := loop.Run(context.Background()); err != nil {
		loop.logger.Error(context.Background(), "runtime exited", "error", err)
		os.Exit(1)
	}
}
