package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-entitlements/core"
)

type BillingHandler interface {
	HandleBillingEvent(ctx context.Context, event core.BillingEvent) (core.BillingEventResult, error)
}

type Decoder func(body []byte) (core.BillingEvent, error)

type Processor struct {
	Verifier Verifier
	Handler  BillingHandler
	Decode   Decoder
	Logger   core.Logger
	Now      func() time.Time
}

func NewProcessor(verifier Verifier, handler BillingHandler) *Processor {
	return &Processor{
		Verifier: verifier,
		Handler:  handler,
		Decode:   DecodeBillingEvent,
		Logger:   glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewProcessorFromConfig verifies with the configured signing secret. An empty
// secret leaves deliveries unverified.
func NewProcessorFromConfig(cfg core.WebhookConfig, handler BillingHandler, logger core.Logger) *Processor {
	var verifier Verifier
	if cfg.SigningSecret != "" {
		verifier = NewBillingSignatureVerifier(cfg.SigningSecret, cfg.SignatureHeader)
	}
	processor := NewProcessor(verifier, handler)
	if logger != nil {
		processor.Logger = glog.Ensure(logger)
	}
	return processor
}

func (p *Processor) Process(ctx context.Context, req InboundRequest) (InboundResult, error) {
	if p == nil || p.Handler == nil {
		return InboundResult{StatusCode: http.StatusInternalServerError}, fmt.Errorf("webhooks: processor requires a billing handler")
	}
	logger := p.logger()

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			logger.Warn("billing webhook rejected", "error", err.Error())
			return InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata:   map[string]any{"rejected": true},
			}, err
		}
	}

	decode := p.Decode
	if decode == nil {
		decode = DecodeBillingEvent
	}
	event, err := decode(req.Body)
	if err != nil {
		if errors.Is(err, ErrUnsupportedEventType) {
			logger.Debug("billing webhook ignored", "event_id", event.ID, "type", event.Type)
			return InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata: map[string]any{
					"event_id": event.ID,
					"type":     event.Type,
					"ignored":  true,
				},
			}, nil
		}
		logger.Warn("billing webhook undecodable", "error", err.Error())
		return InboundResult{
			Accepted:   false,
			StatusCode: http.StatusBadRequest,
			Metadata:   map[string]any{"error": err.Error()},
		}, err
	}

	startedAt := p.now()
	result, err := p.Handler.HandleBillingEvent(ctx, event)
	metadata := map[string]any{
		"event_id": event.ID,
		"type":     event.Type,
		"deduped":  result.Deduped,
		"ignored":  result.Ignored,
	}
	if result.Reason != "" {
		metadata["reason"] = result.Reason
	}
	if err != nil {
		metadata["error"] = err.Error()
		status := statusForHandlerError(err)
		logger.Error("billing webhook failed",
			"event_id", event.ID,
			"type", event.Type,
			"status", status,
			"error", err.Error(),
		)
		return InboundResult{Accepted: false, StatusCode: status, Metadata: metadata}, err
	}

	metadata["operations"] = len(result.Summaries)
	logger.Info("billing webhook processed",
		"event_id", event.ID,
		"type", event.Type,
		"deduped", result.Deduped,
		"ignored", result.Ignored,
		"duration_ms", p.now().Sub(startedAt).Milliseconds(),
	)
	return InboundResult{Accepted: true, StatusCode: http.StatusOK, Metadata: metadata}, nil
}

// statusForHandlerError maps failures that a redelivery cannot fix to 400 and
// everything else to 500 so billing retries.
func statusForHandlerError(err error) int {
	if core.IsValidationError(err) || core.IsNotFoundError(err) {
		return http.StatusBadRequest
	}
	if core.IsConflictError(err) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) logger() core.Logger {
	if p == nil || p.Logger == nil {
		return glog.Nop()
	}
	return p.Logger
}
