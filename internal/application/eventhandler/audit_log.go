package eventhandler

import (
	"github.com/google/uuid"

	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT LOG HANDLER
// Writes every domain event as a serialised envelope to the structured log.
// ═══════════════════════════════════════════════════════════════════════════

// AuditLogHandler logs event envelopes.
type AuditLogHandler struct {
	logger *logger.Logger
	newID  func() string
}

// NewAuditLogHandler creates a new handler.
func NewAuditLogHandler(log *logger.Logger) *AuditLogHandler {
	if log == nil {
		log = logger.Default()
	}
	return &AuditLogHandler{
		logger: log.With(logger.Component("audit")),
		newID:  uuid.NewString,
	}
}

// Handle implements shared.EventHandler.
func (h *AuditLogHandler) Handle(event shared.Event) error {
	env, err := shared.NewEnvelope(h.newID(), event)
	if err != nil {
		h.logger.Warn("failed to serialise event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
		return nil
	}

	fields := []logger.Field{
		logger.String("event_id", env.ID),
		logger.String("event_type", string(env.Type)),
		logger.String("aggregate_id", env.AggregateID),
		logger.Time("occurred_at", env.Timestamp),
		logger.String("payload", string(env.Payload)),
	}
	if env.CorrelationID != "" {
		fields = append(fields, logger.RunID(env.CorrelationID))
	}
	h.logger.Info("domain event", fields...)
	return nil
}

// Subscribe registers the handlers on the bus.
func Subscribe(bus shared.EventSubscriber, summary *OnSummaryChangedHandler, audit *AuditLogHandler) error {
	if summary != nil {
		for _, t := range summary.EventTypes() {
			if err := bus.Subscribe(t, summary.Handle); err != nil {
				return err
			}
		}
	}
	if audit != nil {
		if err := bus.SubscribeAll(audit.Handle); err != nil {
			return err
		}
	}
	return nil
}
