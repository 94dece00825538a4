package notifications

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricNamespace is the CloudWatch namespace for PM engine metrics.
const MetricNamespace = "Upkeep/PMEngine"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// BatchMetrics emits per-pass outcome counts to CloudWatch. Emission
// failures are logged and swallowed; metrics must never affect scheduling
// correctness.
type BatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewBatchMetrics creates a BatchMetrics publishing to the standard
// namespace.
func NewBatchMetrics(client CloudWatchClient, logger *slog.Logger) *BatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchMetrics{
		client:    client,
		namespace: MetricNamespace,
		logger:    logger,
	}
}

// RecordPass emits ItemsSucceeded and ItemsFailed counts for one engine
// pass, dimensioned by task name.
func (m *BatchMetrics) RecordPass(ctx context.Context, task string, succeeded, failed int) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String("Task"),
			Value: aws.String(task),
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("ItemsSucceeded"),
				Value:      aws.Float64(float64(succeeded)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("ItemsFailed"),
				Value:      aws.Float64(float64(failed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record pass metrics",
			"task", task,
			"error", err,
		)
	}
}
