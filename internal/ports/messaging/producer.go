package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotificationProducer publishes notification events through any
// MessageSender.
type NotificationProducer struct {
	sender   MessageSender
	queueURL string
}

// NewNotificationProducer wires a producer against the notification queue.
func NewNotificationProducer(sender MessageSender, queueURL string) *NotificationProducer {
	return &NotificationProducer{sender: sender, queueURL: queueURL}
}

// PublishNotification marshals and sends one event, enriching the current
// span with the employee id for trace correlation.
func (p *NotificationProducer) PublishNotification(ctx context.Context, event NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("messaging: marshal notification: %w", err)
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("app.employeeId", event.EmployeeID),
			attribute.String("app.eventId", event.EventID),
		)
	}

	if err := p.sender.SendMessage(ctx, p.queueURL, body); err != nil {
		return fmt.Errorf("messaging: send notification: %w", err)
	}
	return nil
}
