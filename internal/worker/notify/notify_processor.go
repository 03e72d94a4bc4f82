// Package notify emails a notice for every reconciled check-out event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"attendance.sync/internal/ports/messaging"
)

// NotificationState is the dedup store keeping notifications
// effectively-once despite SQS at-least-once delivery. Implemented by
// *reconciler.AttendanceRepository.
type NotificationState interface {
	NotificationPending(ctx context.Context, eventID string) (bool, error)
	MarkNotified(ctx context.Context, eventID string) (bool, error)
}

// NotifyProcessor handles messages from the notification queue.
type NotifyProcessor struct {
	email EmailService
	state NotificationState
}

// NewProcessor sets up a processor sending check-out notices.
func NewProcessor(email EmailService, state NotificationState) *NotifyProcessor {
	return &NotifyProcessor{email: email, state: state}
}

// Process sends the notice for one message. A failed send tells the
// consumer to retry with backoff; a malformed message is dropped.
func (p *NotifyProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	var event messaging.NotificationEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal notification event")
		return false, 0, err
	}

	pending, err := p.state.NotificationPending(ctx, event.EventID)
	if err != nil {
		return true, 10, fmt.Errorf("failed to check notification state: %w", err)
	}
	if !pending {
		log.Ctx(ctx).Info().Str("event_id", event.EventID).Msg("Notification already sent. Skipping.")
		return false, 0, nil
	}

	err = p.email.SendCheckOutNotice(ctx, event.EmployeeID+"@workforce.example.com", event.EmployeeID)
	if err != nil {
		return true, receiveBackoff(msg), err
	}

	if _, err := p.state.MarkNotified(ctx, event.EventID); err != nil {
		return true, 10, fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return false, 0, nil
}

// receiveBackoff derives a visibility-timeout delay from how many times
// SQS has handed us this message, growing exponentially up to an hour.
func receiveBackoff(msg types.Message) int32 {
	count := 1
	if v, ok := msg.Attributes["ApproximateReceiveCount"]; ok {
		fmt.Sscanf(v, "%d", &count)
	}
	backoff := int32(math.Pow(2, float64(count)) * 10)
	if backoff > 3600 {
		return 3600
	}
	return backoff
}
