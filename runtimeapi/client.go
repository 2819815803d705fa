// Package runtimeapi is a small client for the AWS Lambda Runtime API used by
// the custom runtime in package runtime.
//
// Environment Variables:
//
//	AWS_LAMBDA_RUNTIME_API - Required. Set automatically by Lambda runtime.
package runtimeapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// runtimeAPIPrefix is the standard AWS Lambda Runtime API path prefix.
const runtimeAPIPrefix = "/2018-06-01/runtime"

// Lambda Runtime API headers used for metadata exchange between
// the Lambda service and custom runtimes.
const (
	// headerAWSRequestID contains the unique request identifier for each invocation.
	headerAWSRequestID = "Lambda-Runtime-Aws-Request-Id"

	// headerDeadlineMS contains the invocation deadline in Unix milliseconds.
	headerDeadlineMS = "Lambda-Runtime-Deadline-Ms"

	// headerTraceID contains the AWS X-Ray tracing information.
	headerTraceID = "Lambda-Runtime-Trace-Id"

	// headerInvokedFunctionARN contains the ARN of the invoked Lambda function.
	headerInvokedFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"

	// headerFunctionErrorType classifies errors posted to /error and /init/error.
	headerFunctionErrorType = "Lambda-Runtime-Function-Error-Type"
)

// maxPayloadSize caps how much of an invocation payload is read (6MB synchronous limit).
const maxPayloadSize = 6 << 20

// ErrNoRuntimeAPI is returned by FromEnvironment outside of a Lambda execution environment.
var ErrNoRuntimeAPI = errors.New("AWS_LAMBDA_RUNTIME_API environment variable not set")

// RuntimeAPI defines the Runtime API operations the event loop depends on.
type RuntimeAPI interface {
	// Next blocks until the next invocation is available or ctx is canceled.
	Next(ctx context.Context) (*Invocation, error)

	// Response posts the JSON result of an invocation.
	Response(ctx context.Context, requestID string, payload []byte) error

	// Error posts a JSON error document for an invocation.
	Error(ctx context.Context, requestID, errorType string, errBody []byte) error

	// InitError reports a fatal initialization failure.
	InitError(ctx context.Context, errorType string, errBody []byte) error
}

// lambdaTransport is shared by both clients. The Runtime API is a local
// HTTP/1.1 endpoint, so proxies, compression and HTTP/2 are disabled.
var lambdaTransport = &http.Transport{
	Proxy:               nil,
	MaxIdleConns:        4,
	MaxIdleConnsPerHost: 4,
	IdleConnTimeout:     120 * time.Second,
	DisableCompression:  true,
	ForceAttemptHTTP2:   false,
	DialContext: (&net.Dialer{
		Timeout:   1 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

var (
	// nextClient long-polls /invocation/next and must not time out.
	nextClient = &http.Client{Transport: lambdaTransport, Timeout: 0}
	// postClient posts responses and errors.
	postClient = &http.Client{Transport: lambdaTransport, Timeout: 5 * time.Second}
)

// Client implements RuntimeAPI over HTTP.
type Client struct {
	baseURL    string
	nextURL    string
	initErrURL string
	invoPrefix string
}

var _ RuntimeAPI = (*Client)(nil)

// NewClient creates a client for the Runtime API listening on host ("host:port").
func NewClient(host string) (*Client, error) {
	if host == "" {
		return nil, errors.New("runtime API host cannot be empty")
	}

	baseURL := "http://" + host + runtimeAPIPrefix
	return &Client{
		baseURL:    baseURL,
		nextURL:    baseURL + "/invocation/next",
		initErrURL: baseURL + "/init/error",
		invoPrefix: baseURL + "/invocation/",
	}, nil
}

// FromEnvironment creates a client from AWS_LAMBDA_RUNTIME_API.
func FromEnvironment() (*Client, error) {
	host := os.Getenv("AWS_LAMBDA_RUNTIME_API")
	if host == "" {
		return nil, ErrNoRuntimeAPI
	}
	return NewClient(host)
}

// Invocation is one event received from /invocation/next.
type Invocation struct {
	// RequestID must be used when posting the response or error.
	RequestID string

	// InvokedFunctionArn is the ARN of the Lambda function being invoked.
	InvokedFunctionArn string

	// Deadline is when Lambda terminates the execution. Zero if the header was missing.
	Deadline time.Time

	// TraceID contains AWS X-Ray tracing information.
	TraceID string

	// Payload is the raw JSON event.
	Payload []byte
}

// drainAndClose fully reads and closes b so the connection can be reused.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.Copy(io.Discard, b)
	_ = b.Close()
}

// parseDeadline converts the Unix-milliseconds deadline header to time.Time.
// It returns the zero time when the header is missing or malformed.
func parseDeadline(h http.Header) time.Time {
	if msStr := h.Get(headerDeadlineMS); msStr != "" {
		if ms, err := strconv.ParseInt(msStr, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

// parseInvocation turns a /invocation/next response into an Invocation.
func parseInvocation(resp *http.Response) (*Invocation, error) {
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("invocation/next failed: %s: %s", resp.Status, string(body))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read invocation payload: %w", err)
	}

	h := resp.Header
	inv := &Invocation{
		RequestID:          h.Get(headerAWSRequestID),
		InvokedFunctionArn: h.Get(headerInvokedFunctionARN),
		Deadline:           parseDeadline(h),
		TraceID:            h.Get(headerTraceID),
		Payload:            payload,
	}
	if inv.RequestID == "" {
		return nil, errors.New("invocation/next response is missing " + headerAWSRequestID)
	}
	return inv, nil
}

// Next retrieves the next invocation. It blocks until one is available.
func (c *Client) Next(ctx context.Context) (*Invocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nextURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := nextClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get next invocation: %w", err)
	}
	return parseInvocation(resp)
}

// Response posts the successful result of the invocation identified by requestID.
func (c *Client) Response(ctx context.Context, requestID string, payload []byte) error {
	if requestID == "" {
		return errors.New("requestID cannot be empty")
	}
	return c.post(ctx, c.invoPrefix+requestID+"/response", "", payload)
}

// Error posts an error document for the invocation identified by requestID.
func (c *Client) Error(ctx context.Context, requestID, errorType string, errBody []byte) error {
	if requestID == "" {
		return errors.New("requestID cannot be empty")
	}
	return c.post(ctx, c.invoPrefix+requestID+"/error", errorType, errBody)
}

// InitError reports that the runtime could not initialize. Lambda terminates
// the execution environment afterwards.
func (c *Client) InitError(ctx context.Context, errorType string, errBody []byte) error {
	return c.post(ctx, c.initErrURL, errorType, errBody)
}

func (c *Client) post(ctx context.Context, url, errorType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if errorType != "" {
		req.Header.Set(headerFunctionErrorType, errorType)
	}
	req.ContentLength = int64(len(body))

	resp, err := postClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s failed: %s: %s", url, resp.Status, string(b))
	}
	return nil
}
