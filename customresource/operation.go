// Package customresource dispatches CloudFormation custom resource events to
// lifecycle operations and reports the outcome back to CloudFormation.
//
// A Dispatcher always answers the pre-signed ResponseURL exactly once per
// event, whether the operation succeeded, failed, panicked, ran out of time or
// the request type was unknown.
package customresource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/gurre/emptybucket/log"
)

var (
	// ErrUnsupportedRequestType is reported for request types other than Create, Update and Delete.
	ErrUnsupportedRequestType = errors.New("unsupported request type")

	// ErrInvalidProperties is reported when ResourceProperties fail to decode or validate.
	ErrInvalidProperties = errors.New("invalid resource properties")

	// ErrInvalidEvent marks events that cannot be answered at all.
	ErrInvalidEvent = errors.New("invalid custom resource event")
)

// Operation handles one lifecycle phase of a custom resource. The logger is
// already named after the phase.
type Operation interface {
	Apply(ctx context.Context, logger log.Logger, event cfn.Event) error
}

// OperationFunc adapts a function to an Operation.
type OperationFunc func(ctx context.Context, logger log.Logger, event cfn.Event) error

// Apply calls f.
func (f OperationFunc) Apply(ctx context.Context, logger log.Logger, event cfn.Event) error {
	return f(ctx, logger, event)
}

// Operations holds one Operation per request type.
type Operations struct {
	Create Operation
	Update Operation
	Delete Operation
}

// For selects the operation for requestType. A nil entry counts as unsupported.
func (o Operations) For(requestType cfn.RequestType) (Operation, error) {
	var op Operation
	switch requestType {
	case cfn.RequestCreate:
		op = o.Create
	case cfn.RequestUpdate:
		op = o.Update
	case cfn.RequestDelete:
		op = o.Delete
	}
	if op == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRequestType, requestType)
	}
	return op, nil
}

// Phase returns the upper-case phase name used in logger names, e.g. "CREATE".
func Phase(requestType cfn.RequestType) string {
	return strings.ToUpper(string(requestType))
}

// ValidateEnvelope rejects events that carry no way to answer CloudFormation.
func ValidateEnvelope(event cfn.Event) error {
	switch {
	case event.ResponseURL == "":
		return fmt.Errorf("%w: ResponseURL is required", ErrInvalidEvent)
	case event.RequestType == "":
		return fmt.Errorf("%w: RequestType is required", ErrInvalidEvent)
	}
	return nil
}
