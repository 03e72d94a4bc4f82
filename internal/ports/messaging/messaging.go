// Package messaging defines the output port the reconciler uses to hand
// accepted events to downstream consumers, plus its AWS SQS adapter.
package messaging

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// NotificationEvent is the JSON payload published for every first-time
// accepted check-out, consumed by the notify worker.
type NotificationEvent struct {
	EventID    string    `json:"eventId"`
	EmployeeID string    `json:"employeeId"`
	ProjectID  string    `json:"projectId,omitempty"`
	Action     string    `json:"action"`
	CapturedAt time.Time `json:"capturedAt"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Producer is the output port for publishing downstream events.
type Producer interface {
	PublishNotification(ctx context.Context, event NotificationEvent) error
}

// MessageSender sends raw messages to a messaging system.
type MessageSender interface {
	SendMessage(ctx context.Context, destination string, body []byte) error
}

// SQSClient is the slice of the AWS SQS client the adapter needs.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}
