package customresource

import (
	"context"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/gurre/emptybucket/log"
	"github.com/gurre/emptybucket/runtime"
)

// LoggerName is the name of the dispatch logger. Phase loggers append ": CREATE" etc.
const LoggerName = "CUSTOM RESOURCE HANDLER"

// maxReasonLength is the CloudFormation limit for the Reason field.
const maxReasonLength = 1024

// DefaultTimeoutMargin is reserved before the Lambda deadline for sending the response.
const DefaultTimeoutMargin = 2 * time.Second

// Outcome is what was reported to CloudFormation for one event.
type Outcome struct {
	Status             cfn.StatusType `json:"status"`
	PhysicalResourceID string         `json:"physicalResourceId"`
	Reason             string         `json:"reason,omitempty"`
}

// Dispatcher routes events to Operations and answers CloudFormation.
type Dispatcher struct {
	ops           Operations
	responder     Responder
	logger        log.Logger
	timeoutMargin time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResponder replaces the default HTTPResponder.
func WithResponder(r Responder) DispatcherOption {
	return func(d *Dispatcher) { d.responder = r }
}

// WithLogger sets the root logger; phase loggers are derived from it.
func WithLogger(l log.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTimeoutMargin sets how long before the Lambda deadline the operation is canceled.
func WithTimeoutMargin(m time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeoutMargin = m }
}

// NewDispatcher returns a Dispatcher for ops with a 2s timeout margin by default.
func NewDispatcher(ops Operations, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ops:           ops,
		timeoutMargin: DefaultTimeoutMargin,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.responder == nil {
		d.responder = NewHTTPResponder()
	}
	if d.logger == nil {
		d.logger = log.NewText(log.LevelInfo, os.Stdout)
	}
	return d
}

// Dispatch runs the operation for event and sends the response document.
// The returned error is non-nil only when the response could not be delivered;
// operation failures are reported to CloudFormation as FAILED.
func (d *Dispatcher) Dispatch(ctx context.Context, event cfn.Event) (Outcome, error) {
	logger := log.Named(d.logger, LoggerName).With("request_id", event.RequestID)
	logger.Info(ctx, "EVENT",
		"request_type", string(event.RequestType),
		"stack_id", event.StackID,
		"logical_resource_id", event.LogicalResourceID,
		"physical_resource_id", event.PhysicalResourceID,
		"resource_type", event.ResourceType,
		"resource_properties", event.ResourceProperties,
	)

	err := d.run(ctx, logger, event)

	resp := cfn.NewResponse(&event)
	resp.PhysicalResourceID = physicalResourceID(ctx, event)
	if err != nil {
		resp.Status = cfn.StatusFailed
		resp.Reason = reason(ctx, err)
		logger.WithError(err).Error(ctx, "Operation failed", "request_type", string(event.RequestType))
	} else {
		resp.Status = cfn.StatusSuccess
	}

	out := Outcome{Status: resp.Status, PhysicalResourceID: resp.PhysicalResourceID, Reason: resp.Reason}
	logger.Info(ctx, "Sending response", "status", string(resp.Status), "physical_resource_id", resp.PhysicalResourceID)

	if sendErr := d.responder.Send(ctx, event.ResponseURL, resp); sendErr != nil {
		logger.WithError(sendErr).Error(ctx, "Failed to send response")
		return out, fmt.Errorf("failed to send %s response: %w", resp.Status, sendErr)
	}
	return out, nil
}

// run executes the selected operation under the deadline guard. Panics are
// reported as errors so a response is still sent.
func (d *Dispatcher) run(ctx context.Context, logger log.Logger, event cfn.Event) (err error) {
	op, err := d.ops.For(event.RequestType)
	if err != nil {
		return err
	}

	opCtx, cancel := d.withTimeoutMargin(ctx)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()

	phase := log.Named(d.logger, LoggerName+": "+Phase(event.RequestType)).With("request_id", event.RequestID)
	return op.Apply(opCtx, phase, event)
}

func (d *Dispatcher) withTimeoutMargin(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || d.timeoutMargin <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-d.timeoutMargin))
}

// physicalResourceID keeps the id CloudFormation already knows, otherwise it
// falls back to the log stream name and then the logical id.
func physicalResourceID(ctx context.Context, event cfn.Event) string {
	if event.PhysicalResourceID != "" {
		return event.PhysicalResourceID
	}
	if rc, ok := runtime.FromContext(ctx); ok && rc.LogStreamName != "" {
		return rc.LogStreamName
	}
	return event.LogicalResourceID
}

func reason(ctx context.Context, err error) string {
	msg := err.Error()
	if msg == "" {
		stream := "unknown"
		if rc, ok := runtime.FromContext(ctx); ok && rc.LogStreamName != "" {
			stream = rc.LogStreamName
		}
		return "See the details in CloudWatch Log Stream: " + stream
	}
	return truncate(msg, maxReasonLength)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
