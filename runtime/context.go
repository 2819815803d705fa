package runtime

import (
	"context"
	"os"
	"strconv"
	"time"
)

// RequestContext carries invocation metadata and AWS Lambda environment information.
type RequestContext struct {
	// Per-invocation fields
	AwsRequestID       string
	InvokedFunctionArn string
	Deadline           time.Time
	TraceID            string

	// AWS Lambda environment metadata
	AWSRegion       string // AWS Region where the Lambda function is executed
	FunctionName    string // Name of the current Lambda function
	FunctionVersion string // Published version of the current Lambda
	LogGroupName    string // CloudWatch Logs group for this Lambda
	LogStreamName   string // CloudWatch Logs stream for this Lambda instance
	MemoryLimitInMB int    // Configured memory limit for this Lambda instance
}

type contextKey struct{}

var requestContextKey contextKey

// NewContext returns a new context that carries the provided RequestContext.
func NewContext(parent context.Context, lc *RequestContext) context.Context {
	return context.WithValue(parent, requestContextKey, lc)
}

// FromContext retrieves the RequestContext stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	lc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return lc, ok && lc != nil
}

// WithRequestContext stores a copy of lc in a new context.
func WithRequestContext(parent context.Context, lc RequestContext) context.Context {
	cp := lc
	return NewContext(parent, &cp)
}

// PopulateFromEnvironment fills the environment metadata fields.
// Safe to call multiple times; values are overwritten.
func (rc *RequestContext) PopulateFromEnvironment() {
	rc.AWSRegion = os.Getenv("AWS_REGION")
	rc.FunctionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	rc.FunctionVersion = os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")
	rc.LogGroupName = os.Getenv("AWS_LAMBDA_LOG_GROUP_NAME")
	rc.LogStreamName = os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME")

	if limit, err := strconv.Atoi(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")); err == nil {
		rc.MemoryLimitInMB = limit
	}
}
