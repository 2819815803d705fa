package customresource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
)

// Responder delivers a response document to a pre-signed ResponseURL.
type Responder interface {
	Send(ctx context.Context, url string, resp *cfn.Response) error
}

var responseCodec = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

const (
	defaultSendRetries  = 4
	defaultSendInterval = 500 * time.Millisecond
	sendTimeout         = 10 * time.Second
)

// HTTPResponder PUTs response documents over HTTP. Transport errors and 5xx
// answers are retried with exponential backoff; other non-2xx answers are not.
type HTTPResponder struct {
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

// ResponderOption configures an HTTPResponder.
type ResponderOption func(*HTTPResponder)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) ResponderOption {
	return func(r *HTTPResponder) { r.client = c }
}

// WithRetries sets how many times a failed send is retried and the first backoff interval.
func WithRetries(n uint64, initial time.Duration) ResponderOption {
	return func(r *HTTPResponder) {
		r.maxRetries = n
		r.initialInterval = initial
	}
}

// NewHTTPResponder returns a responder with a 10s request timeout and 4 retries.
func NewHTTPResponder(opts ...ResponderOption) *HTTPResponder {
	r := &HTTPResponder{
		client:          &http.Client{Timeout: sendTimeout},
		maxRetries:      defaultSendRetries,
		initialInterval: defaultSendInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send PUTs resp as JSON to url.
func (r *HTTPResponder) Send(ctx context.Context, url string, resp *cfn.Response) error {
	body, err := responseCodec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, r.maxRetries), ctx)

	return backoff.Retry(func() error { return r.put(ctx, url, body) }, policy)
}

func (r *HTTPResponder) put(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	// The URL is pre-signed without a content type.
	req.Header.Set("Content-Type", "")
	req.ContentLength = int64(len(body))

	res, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT response failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := fmt.Errorf("PUT response failed: %s: %s", res.Status, string(b))
		if res.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}
