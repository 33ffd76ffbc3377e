package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trustpipe/internal/logger"
	"trustpipe/internal/templates"
	"trustpipe/internal/verification"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/metrics"
	"trustpipe/pkg/models"
	"trustpipe/pkg/sign"
	"trustpipe/pkg/tracing"
)

type OwnershipVerifier interface {
	Verify(ctx context.Context, claimedEmail string, key verification.LeaseKey, eventID string) (*verification.VerificationResult, error)
}

type Suppressor interface {
	Evaluate(ctx context.Context, event models.LeaseEvent) (bool, string)
}

type Registry interface {
	Contract(kind string) (templates.TemplateContract, error)
	BuildPersonalization(ctx context.Context, kind string, event models.LeaseEvent) (templates.PersonalizationPayload, error)
}

// Handler runs one lifecycle event through the pipeline. The stage order
// is load-bearing: nothing touches templates or personalisation until
// ownership has been verified, and a verification verdict short-circuits
// everything after it.
type Handler struct {
	deduper    *Deduper
	suppressor Suppressor
	verifier   OwnershipVerifier
	registry   Registry
	dispatcher Dispatcher
	logger     logger.Logger
}

func NewHandler(deduper *Deduper, suppressor Suppressor, verifier OwnershipVerifier, registry Registry, dispatcher Dispatcher, log logger.Logger) *Handler {
	return &Handler{
		deduper:    deduper,
		suppressor: suppressor,
		verifier:   verifier,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     log,
	}
}

func (h *Handler) Handle(ctx context.Context, event models.LeaseEvent) error {
	ctx, span := tracing.GetTracer("notify-service").Start(ctx, "pipeline.handle")
	defer span.End()

	start := time.Now()
	status, err := h.process(ctx, event)

	metrics.NotificationsProcessedTotal.WithLabelValues(event.Kind, status).Inc()
	metrics.PipelineProcessingDuration.WithLabelValues(status).Observe(float64(time.Since(start).Milliseconds()))

	return err
}

func (h *Handler) process(ctx context.Context, event models.LeaseEvent) (string, error) {
	if event.ID == "" || event.Kind == "" || event.LeaseID == "" {
		h.logger.WarnwCtx(ctx, "Dropping malformed lifecycle event",
			"kind", event.Kind,
		)
		return "malformed", errors.Permanent("MALFORMED_EVENT", "event is missing id, kind or lease id")
	}

	// Contract lookup first: an unknown kind can never be sent, so there
	// is no point burning a dedup slot on it.
	contract, err := h.registry.Contract(event.Kind)
	if err != nil {
		return "unknown_kind", err
	}

	if h.deduper != nil && !h.deduper.FirstSeen(ctx, event) {
		h.logger.InfowCtx(ctx, "Dropping duplicate event",
			"kind", event.Kind,
		)
		return "duplicate", nil
	}

	if h.suppressor != nil {
		if suppressed, rule := h.suppressor.Evaluate(ctx, event); suppressed {
			h.logger.InfowCtx(ctx, "Event suppressed by rule",
				"kind", event.Kind,
				"rule", rule,
			)
			return "suppressed", nil
		}
	}

	key := verification.LeaseKey{OwnerEmail: event.OwnerEmail, LeaseID: event.LeaseID}
	result, err := h.verifier.Verify(ctx, event.OwnerEmail, key, event.ID)
	if err != nil {
		return "verification_failed", err
	}

	personalization, err := h.registry.BuildPersonalization(ctx, event.Kind, event)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to build personalization, nothing sent",
			"error", err,
			"kind", event.Kind,
			"template_id", contract.TemplateID,
		)
		return "build_failed", err
	}

	msg := models.NotificationMessage{
		ID:              uuid.New().String(),
		EventID:         event.ID,
		Kind:            event.Kind,
		TemplateID:      contract.TemplateID,
		Personalization: personalization,
		Metadata: models.Metadata{
			TraceID: event.Metadata.TraceID,
			Verification: &models.VerificationInfo{
				VerifiedAt: time.Now().UTC(),
				ChainID:    result.ChainID,
			},
		},
	}

	if err := h.dispatcher.Dispatch(ctx, msg); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to dispatch notification",
			"error", err,
			"kind", event.Kind,
		)
		return "dispatch_failed", errors.Retriable("DISPATCH_FAILED", "failed to publish notification").WithCause(err)
	}

	h.logger.InfowCtx(ctx, "Notification dispatched",
		"kind", event.Kind,
		"template_id", contract.TemplateID,
		"recipient_hash", sign.HashIdentifier(event.OwnerEmail),
		"chain_id", result.ChainID,
	)

	return "dispatched", nil
}
