package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// SQSAPI is the slice of the SQS client used for delivery.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSHandler forwards outbox entries to an SQS queue.
type SQSHandler struct {
	client   SQSAPI
	queueURL string
}

func NewSQSHandler(client SQSAPI, queueURL string) *SQSHandler {
	if client == nil {
		panic("events: sqs client required")
	}
	return &SQSHandler{client: client, queueURL: queueURL}
}

func (h *SQSHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(entry.ID.String())},
			"tenant_id":  {DataType: aws.String("String"), StringValue: aws.String(entry.TenantID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("events: sqs send: %w", err)
	}
	return nil
}

// LogHandler logs entries instead of shipping them; used when no queue is configured.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.logger.Info("outbox event", "event_id", entry.ID, "type", entry.Type, "tenant_id", entry.TenantID)
	return nil
}
