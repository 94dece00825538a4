// Package notifications provides the Notifier implementations the engine
// hands its escalation and rescheduling notices to, plus the metrics
// emitter for batch-pass outcomes. Delivery itself (email, push, in-app) is
// an external service; this package only publishes payloads to it.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"upkeep/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueNotifier publishes NotificationRequests to the notification SQS
// queue, where the delivery service consumes them. It implements
// types.Notifier.
type QueueNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// Compile-time assertion that QueueNotifier implements types.Notifier.
var _ types.Notifier = (*QueueNotifier)(nil)

// NewQueueNotifier creates a QueueNotifier targeting the given queue URL.
func NewQueueNotifier(client SQSSender, queueURL string, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Notify serializes the request and sends it to the notification queue.
// Callers treat failures as non-fatal; this method only reports them.
func (n *QueueNotifier) Notify(ctx context.Context, req types.NotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue notifier: failed to marshal request: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeCollaboratorNotify,
			fmt.Sprintf("failed to publish notification to %s", n.queueURL), err)
	}

	n.logger.InfoContext(ctx, "notification published",
		"user_id", req.UserID,
		"level", string(req.Level),
		"title", req.Title,
	)
	return nil
}
