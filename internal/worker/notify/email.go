package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EmailService sends the check-out notification mail.
type EmailService interface {
	SendCheckOutNotice(ctx context.Context, to string, employeeID string) error
}

// SESEmailService implements EmailService on AWS SES.
type SESEmailService struct {
	client *ses.Client
	sender string
}

// NewSESEmailService creates the SES-backed email service.
func NewSESEmailService(client *ses.Client, sender string) *SESEmailService {
	return &SESEmailService{client: client, sender: sender}
}

// SendCheckOutNotice emails a supervisor-facing confirmation that a
// check-out was reconciled.
func (s *SESEmailService) SendCheckOutNotice(ctx context.Context, to string, employeeID string) error {
	tracer := otel.Tracer("ses-email-service")
	ctx, span := tracer.Start(ctx, "send_email", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.String("app.employeeId", employeeID))

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Attendance check-out recorded"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(fmt.Sprintf("A check-out for employee %s has been received and reconciled.", employeeID)),
				},
			},
		},
	}

	_, err := s.client.SendEmail(ctx, input)
	return err
}
