// Package worker consumes queued autofill jobs and runs them to completion.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/capstack/origination/common/autofill"
	"github.com/capstack/origination/common/config"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/redis"
)

// AutofillWorker pulls autofill jobs off the Redis stream and hands them to
// the orchestrator one at a time. The API reserved the per-resume slot when
// it enqueued; the worker releases it once the run is over, whatever the
// outcome, so the next request is not locked out for the full TTL.
type AutofillWorker struct {
	redis        *redis.Client
	orch         *autofill.Orchestrator
	log          *logger.Logger
	stream       string
	group        string
	consumerName string
}

// NewAutofillWorker creates a new autofill worker
func NewAutofillWorker(redisClient *redis.Client, orch *autofill.Orchestrator, cfg *config.Config, log *logger.Logger) *AutofillWorker {
	return &AutofillWorker{
		redis:        redisClient,
		orch:         orch,
		log:          log,
		stream:       cfg.Autofill.Stream,
		group:        cfg.Autofill.Group,
		consumerName: fmt.Sprintf("autofill_worker_%s", uuid.New().String()[:8]),
	}
}

// Start begins processing autofill jobs until the context is cancelled
func (w *AutofillWorker) Start(ctx context.Context) error {
	w.log.Info("starting autofill worker",
		"stream", w.stream,
		"group", w.group,
		"consumer_name", w.consumerName)

	// Create the consumer group if it doesn't exist
	if err := w.redis.CreateStreamGroup(ctx, w.stream, w.group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("autofill worker stopping")
			return nil
		default:
			if err := w.processNext(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.log.Error("failed to process job batch", "error", err)
				time.Sleep(1 * time.Second) // Back off on error
			}
		}
	}
}

// processNext reads and processes one job from the stream
func (w *AutofillWorker) processNext(ctx context.Context) error {
	streams, err := w.redis.ReadFromStreamGroup(ctx, w.group, w.consumerName, w.stream, 1, 5*time.Second)
	if err != nil {
		return fmt.Errorf("XREADGROUP error: %w", err)
	}

	if streams == nil {
		// Timeout, no messages
		return nil
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			w.processMessage(ctx, message)
		}
	}

	return nil
}

// processMessage runs one job and always acknowledges the message. Failed
// runs are not redelivered: the resume was left untouched and the analyst
// re-triggers autofill when they want another attempt.
func (w *AutofillWorker) processMessage(ctx context.Context, message goredis.XMessage) {
	job, err := decodeJob(message)
	if err != nil {
		w.log.Error("dropping malformed autofill job", "message_id", message.ID, "error", err)
	} else {
		w.runJob(ctx, job)
	}

	if err := w.redis.AckStreamMessage(ctx, w.stream, w.group, message.ID); err != nil {
		w.log.Error("failed to ACK job message", "message_id", message.ID, "error", err)
	}
}

func (w *AutofillWorker) runJob(ctx context.Context, job models.AutofillJob) {
	log := w.log.WithJobID(job.ID).WithResumeID(job.ResumeID)
	log.Info("processing autofill job",
		"documents", len(job.DocumentRefs),
		"queued_for", time.Since(job.EnqueuedAt).String())

	if _, err := w.orch.Run(ctx, job); err != nil {
		log.Error("autofill job failed", "error", err)
	}

	// Release the per-resume slot the enqueuer reserved.
	if err := w.redis.Delete(ctx, autofill.InflightKey(job.ResumeID)); err != nil {
		log.Error("failed to release autofill slot", "error", err)
	}
}

func decodeJob(message goredis.XMessage) (models.AutofillJob, error) {
	payload, ok := message.Values["job"].(string)
	if !ok {
		return models.AutofillJob{}, fmt.Errorf("message missing job field")
	}

	var job models.AutofillJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return models.AutofillJob{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if job.ID == uuid.Nil || job.ResumeID == uuid.Nil {
		return models.AutofillJob{}, fmt.Errorf("job missing id or resume id")
	}

	return job, nil
}
