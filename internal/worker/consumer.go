// Package worker provides the generic SQS consumer the downstream workers
// are built on.
package worker

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"attendance.sync/pkg/logger"
	"attendance.sync/pkg/telemetry"
)

// SQSClient is the slice of the AWS SQS client the consumer needs.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Processor handles one message. shouldRetry and retryDelay tell the
// consumer what to do with the message on failure.
type Processor interface {
	Process(ctx context.Context, msg types.Message) (shouldRetry bool, retryDelay int32, err error)
}

// Consumer polls one SQS queue and fans messages out to a pool of
// processor goroutines.
type Consumer struct {
	client      SQSClient
	queueURL    string
	processor   Processor
	Concurrency int
}

// NewConsumer creates an SQS consumer ready to be started.
func NewConsumer(client SQSClient, queueURL string, proc Processor) *Consumer {
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		processor:   proc,
		Concurrency: 10,
	}
}

// Start runs the polling loop until the context is canceled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Int("concurrency", c.Concurrency).Str("queue", c.queueURL).Msg("SQS consumer started")

	messages := make(chan types.Message, c.Concurrency)

	for i := 0; i < c.Concurrency; i++ {
		go c.processLoop(ctx, messages)
	}

	c.poll(ctx, messages)
}

func (c *Consumer) poll(ctx context.Context, messages chan<- types.Message) {
	defer close(messages)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("SQS poller shutting down")
			return
		default:
			output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              &c.queueURL,
				MaxNumberOfMessages:   int32(c.Concurrency),
				WaitTimeSeconds:       20,
				MessageAttributeNames: []string{"All"},
			})
			if err != nil {
				log.Error().Err(err).Msg("Error receiving messages")
				continue
			}
			for _, msg := range output.Messages {
				messages <- msg
			}
		}
	}
}

func (c *Consumer) processLoop(ctx context.Context, messages <-chan types.Message) {
	for msg := range messages {
		c.handle(ctx, msg)
	}
}

// handle processes one message and then either deletes it (success or
// unrecoverable error) or pushes its visibility timeout out for a retry.
func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	ctx, span := telemetry.StartSpanFromSQSMessage(ctx, msg)
	defer span.End()

	ctx = logger.EnrichContextWithLogger(ctx)

	shouldRetry, retryDelay, err := c.processor.Process(ctx, msg)

	if err != nil && shouldRetry {
		log.Ctx(ctx).Warn().Err(err).Int32("retry_delay", retryDelay).Msg("Processing failed, will retry")
		_, _ = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &c.queueURL,
			ReceiptHandle:     msg.ReceiptHandle,
			VisibilityTimeout: retryDelay,
		})
		return
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Unrecoverable error processing message, dropping it")
	}

	_, _ = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	})
}
