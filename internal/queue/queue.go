// Package queue publishes job messages for the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ontimehq/shorts-pipeline/shared/rabbitmq"
)

// JobMessage is the wire format between the API/selector and the workers.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

// Publisher enqueues job ids onto the processing queue.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher over an existing RabbitMQ client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// EnqueueJob publishes one job id for pickup.
func (p *Publisher) EnqueueJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job message: %w", err)
	}
	p.logger.Debug("Job enqueued",
		slog.String("job_id", jobID),
	)
	return nil
}
