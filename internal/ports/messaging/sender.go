package messaging

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"attendance.sync/pkg/telemetry"
)

// SQSSender implements MessageSender for AWS SQS.
type SQSSender struct {
	client SQSClient
}

// NewSQSSender creates the SQS-backed sender.
func NewSQSSender(client SQSClient) *SQSSender {
	return &SQSSender{client: client}
}

// SendMessage publishes one message, injecting the current trace context
// into the message attributes so consumers continue the trace.
func (s *SQSSender) SendMessage(ctx context.Context, destination string, body []byte) error {
	attributes := telemetry.InjectTraceContext(ctx)

	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(destination),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes,
	})
	return err
}
