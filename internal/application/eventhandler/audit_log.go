package eventhandler

import (
	"log/slog"

	"github.com/classquest/classquest/internal/domain/shared"
)

// AuditLogHandler writes every domain event as one structured log line.
type AuditLogHandler struct {
	logger *slog.Logger
}

// NewAuditLogHandler creates the handler.
func NewAuditLogHandler(logger *slog.Logger) *AuditLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogHandler{logger: logger.With("handler", "audit_log")}
}

// Handle implements shared.EventHandler.
func (h *AuditLogHandler) Handle(event shared.Event) error {
	attrs := []any{
		"event_id", event.EventID(),
		"event_type", event.EventType(),
		"user_id", event.AggregateID(),
		"occurred_at", event.OccurredAt(),
	}
	for k, v := range event.Payload() {
		if k == "user_id" {
			continue
		}
		attrs = append(attrs, k, v)
	}
	h.logger.Info("domain event", attrs...)
	return nil
}

// Register subscribes the handler to all events.
func (h *AuditLogHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}
