package dto

import (
	"time"

	"github.com/google/uuid"

	"vod-orchestrator/constant"
)

// JobRequest is published to the jobs exchange. Handle is the correlation id
// the compute job echoes back in its JobResult. Attempts is the
// infrastructure-level retry budget honored by the compute fleet itself; the
// orchestrator never retries a submission.
type JobRequest struct {
	Handle   uuid.UUID         `json:"handle"`
	Type     constant.JobType  `json:"type"`
	Payload  map[string]string `json:"payload"`
	Attempts int               `json:"attempts"`
}

// JobResult is the normalized terminal outcome of a compute job, consumed
// from the job results queue.
type JobResult struct {
	Handle            uuid.UUID          `json:"handle"`
	Status            constant.JobStatus `json:"status"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	RetryAfterSeconds int                `json:"retryAfterSeconds,omitempty"`
	Detail            map[string]string  `json:"detail,omitempty"`
}

type EpisodeUploadStatusEvent struct {
	Status       string    `json:"status"`
	EpisodeID    uuid.UUID `json:"episodeId"`
	UserID       string    `json:"userId"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type StreamIngestionStatusEvent struct {
	Status    string    `json:"status"`
	StreamID  uuid.UUID `json:"streamId"`
	ClipCount int       `json:"clipCount"`
	Timestamp time.Time `json:"timestamp"`
}

type StartIngestionRequest struct {
	InitialPrompt  string `json:"initialPrompt"`
	InitialSummary string `json:"initialSummary"`
	UserID         string `json:"userId"`
}

type StartIngestionResponse struct {
	ExecutionID uuid.UUID `json:"executionId"`
}

type QueueUploadsRequest struct {
	EpisodeIDs []uuid.UUID `json:"episodeIds"`
	UserID     string      `json:"userId"`
}

type QueueUploadsResponse struct {
	Queued       int  `json:"queued"`
	DrainStarted bool `json:"drainStarted"`
}

type ExecutionStatusResponse struct {
	ExecutionID  uuid.UUID `json:"executionId"`
	Definition   string    `json:"definition"`
	Status       string    `json:"status"`
	Step         string    `json:"step"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}
