package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/gurre/emptybucket/bucket"
	"github.com/gurre/emptybucket/config"
	"github.com/gurre/emptybucket/customresource"
	"github.com/gurre/emptybucket/lifecycle"
	"github.com/gurre/emptybucket/log"
	"github.com/gurre/emptybucket/runtime"
)

// Handler implements runtime.Handler[cfn.Event, customresource.Outcome].
type Handler struct {
	cfg        *config.Config
	log        log.Logger
	store      bucket.API
	dispatcher *customresource.Dispatcher
}

// NewHandler creates a Handler. A nil store is replaced by an S3 client during ColdStart.
func NewHandler(cfg *config.Config, logger log.Logger, store bucket.API) *Handler {
	return &Handler{cfg: cfg, log: logger, store: store}
}

// ColdStart builds the S3 client and the dispatcher once per execution environment.
func (h *Handler) ColdStart(ctx context.Context) error {
	if h.store == nil {
		client, err := bucket.NewS3Client(ctx, h.cfg.ClientOptions())
		if err != nil {
			return err
		}
		h.store = client
	}

	svc := bucket.New(h.store, h.cfg.BucketOptions())
	ops := lifecycle.New(svc, h.cfg.UpdateThreshold).Operations()
	h.dispatcher = customresource.NewDispatcher(ops,
		customresource.WithLogger(h.log),
		customresource.WithTimeoutMargin(h.cfg.TimeoutMargin),
	)
	return nil
}

// Validate rejects events that carry no way to answer CloudFormation.
func (h *Handler) Validate(ctx context.Context, e cfn.Event) error {
	return customresource.ValidateEnvelope(e)
}

// Handler dispatches the event and returns what was reported to CloudFormation.
func (h *Handler) Handler(ctx context.Context, e cfn.Event) (customresource.Outcome, error) {
	return h.dispatcher.Dispatch(ctx, e)
}

// Shutdown has nothing to release.
func (h *Handler) Shutdown(ctx context.Context) error {
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emptybucket: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewWithFormat(cfg.Format(), cfg.Level(), os.Stdout)
	runtime.Start(NewHandler(cfg, logger, nil), runtime.WithLogger(logger))
}
