package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"vod-orchestrator/constant"
	"vod-orchestrator/dto"
	"vod-orchestrator/pkg/rabbitmq"
)

// JobClient submits opaque asynchronous compute jobs and awaits their
// normalized terminal outcome. Submitting the same (job type, key) twice is
// safe; deduplication belongs to the orchestration's version check, not
// here, and the client never retries a submission on its own.
type JobClient interface {
	Submit(ctx context.Context, jobType constant.JobType, payload map[string]string) (uuid.UUID, error)
	AwaitResult(ctx context.Context, handle uuid.UUID) (dto.JobResult, error)
}

// QueueJobClient is the rabbitmq-backed JobClient. Submissions go out on
// the jobs exchange keyed by job type; results come back through
// HandleResult, fed by the job results consumer, and are matched to waiting
// callers by the correlation handle.
type QueueJobClient struct {
	pub      *rabbitmq.Publisher
	attempts int

	mu      sync.Mutex
	pending map[uuid.UUID]chan dto.JobResult
}

func NewJobClient(pub *rabbitmq.Publisher, attempts int) *QueueJobClient {
	if attempts < 1 {
		attempts = 1
	}
	return &QueueJobClient{
		pub:      pub,
		attempts: attempts,
		pending:  make(map[uuid.UUID]chan dto.JobResult),
	}
}

func (c *QueueJobClient) Submit(ctx context.Context, jobType constant.JobType, payload map[string]string) (uuid.UUID, error) {
	handle := uuid.New()
	body, err := json.Marshal(dto.JobRequest{
		Handle:   handle,
		Type:     jobType,
		Payload:  payload,
		Attempts: c.attempts,
	})
	if err != nil {
		return uuid.Nil, err
	}

	// The result can arrive before AwaitResult is called, so the channel is
	// registered before the message leaves.
	c.mu.Lock()
	c.pending[handle] = make(chan dto.JobResult, 1)
	c.mu.Unlock()

	routingKey := fmt.Sprintf("job.%s.request", jobType)
	if err := c.pub.Publish(ctx, routingKey, body); err != nil {
		c.drop(handle)
		return uuid.Nil, fmt.Errorf("submit %s job: %w", jobType, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("job_type", string(jobType)).
		Str("handle", handle.String()).
		Msg("submitted job")
	return handle, nil
}

func (c *QueueJobClient) AwaitResult(ctx context.Context, handle uuid.UUID) (dto.JobResult, error) {
	c.mu.Lock()
	ch, ok := c.pending[handle]
	c.mu.Unlock()
	if !ok {
		return dto.JobResult{}, fmt.Errorf("no pending job for handle %s", handle)
	}
	defer c.drop(handle)

	select {
	case <-ctx.Done():
		return dto.JobResult{}, ctx.Err()
	case result := <-ch:
		return result, nil
	}
}

// HandleResult consumes one delivery from the job results queue. Results
// for unknown handles are logged and dropped: they belong to an execution
// checkpointed by a previous process, which resubmits on resume.
func (c *QueueJobClient) HandleResult(ctx context.Context, msg amqp.Delivery) error {
	var result dto.JobResult
	if err := json.Unmarshal(msg.Body, &result); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job result")
		return err
	}

	c.mu.Lock()
	ch, ok := c.pending[result.Handle]
	c.mu.Unlock()
	if !ok {
		zerolog.Ctx(ctx).Warn().
			Str("handle", result.Handle.String()).
			Str("status", string(result.Status)).
			Msg("job result has no waiting caller, dropping")
		return nil
	}

	select {
	case ch <- result:
	default:
	}
	return nil
}

func (c *QueueJobClient) drop(handle uuid.UUID) {
	c.mu.Lock()
	delete(c.pending, handle)
	c.mu.Unlock()
}
