package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vod-orchestrator/config"
	"vod-orchestrator/constant"
	"vod-orchestrator/dto"
	"vod-orchestrator/pkg/workflow"
	"vod-orchestrator/repository"
)

// drainState is the checkpointed state of one upload drain execution. The
// episode list is snapshotted once at QueryQueue; episodes queued while a
// drain is in flight wait for the next one. LastStatus and its companions
// carry the outcome of the most recent upload submission between steps.
type drainState struct {
	EpisodeIDs        []uuid.UUID        `json:"episodeIds"`
	Index             int                `json:"index"`
	LastStatus        constant.JobStatus `json:"lastStatus,omitempty"`
	LastError         string             `json:"lastError,omitempty"`
	LastVideoID       string             `json:"lastVideoId,omitempty"`
	LastUserID        string             `json:"lastUserId,omitempty"`
	RetryAfterSeconds int                `json:"retryAfterSeconds,omitempty"`
}

// UploadService queues episodes for upload and drains the queue. At most one
// drain execution runs at a time across the whole deployment; the queue is
// drained strictly in enqueue order, one upload in flight.
type UploadService struct {
	repo    repository.Repository
	jobs    JobClient
	events  EventPublisher
	timeout time.Duration
	now     func() time.Time
	runner  *workflow.Runner[drainState]
}

func NewUploadService(
	repo repository.Repository,
	jobs JobClient,
	events EventPublisher,
	store workflow.Store,
	cfg config.Pipeline,
	opts ...workflow.Option[drainState],
) *UploadService {
	s := &UploadService{
		repo:    repo,
		jobs:    jobs,
		events:  events,
		timeout: time.Duration(cfg.UploadTimeoutMinutes) * time.Minute,
		now:     time.Now,
	}
	s.runner = workflow.NewRunner(s.definition(), store, opts...)
	return s
}

func (s *UploadService) definition() workflow.Definition[drainState] {
	return workflow.Definition[drainState]{
		Name:         "upload_drain",
		Start:        "QueryQueue",
		SingleFlight: true,
		Timeout:      s.timeout,
		Steps: map[string]workflow.Step[drainState]{
			"QueryQueue": workflow.Invoke[drainState]{Run: s.queryQueue, Next: "NextEpisode"},
			"NextEpisode": workflow.Choice[drainState]{
				Decide: func(st *drainState) string {
					if st.Index < len(st.EpisodeIDs) {
						return "SubmitUpload"
					}
					return "Done"
				},
			},
			"SubmitUpload": workflow.Invoke[drainState]{Run: s.submitUpload, Next: "CheckResult"},
			"CheckResult": workflow.Choice[drainState]{
				Decide: func(st *drainState) string {
					switch st.LastStatus {
					case constant.JobStatusThrottled:
						return "WaitRetry"
					case constant.JobStatusFailed:
						return "MarkFailed"
					default:
						return "MarkUploaded"
					}
				},
			},
			"WaitRetry": workflow.Wait[drainState]{
				Delay: func(st *drainState) time.Duration {
					return time.Duration(st.RetryAfterSeconds) * time.Second
				},
				Next: "SubmitUpload",
			},
			"MarkFailed":   workflow.Invoke[drainState]{Run: s.markFailed, Next: "NextEpisode"},
			"MarkUploaded": workflow.Invoke[drainState]{Run: s.markUploaded, Next: "NextEpisode"},
			"Done":         workflow.Pass[drainState]{End: true},
		},
	}
}

// QueueEpisodes marks the episodes ready to upload and stamps them with a
// shared enqueue timestamp. A PENDING event goes out per episode.
func (s *UploadService) QueueEpisodes(ctx context.Context, req dto.QueueUploadsRequest) (int, error) {
	queuedAt := s.now().UTC()
	queued := 0
	for _, id := range req.EpisodeIDs {
		if _, err := s.repo.FindEpisodeByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				zerolog.Ctx(ctx).Warn().Str("episode_id", id.String()).Msg("episode not found, not queueing")
				continue
			}
			return queued, err
		}
		if err := s.repo.QueueEpisodeForUpload(ctx, id, req.UserID, queuedAt); err != nil {
			return queued, err
		}
		queued++

		err := s.events.EmitEpisodeUploadStatus(ctx, dto.EpisodeUploadStatusEvent{
			Status:    "PENDING",
			EpisodeID: id,
			UserID:    req.UserID,
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("episode_id", id.String()).Msg("failed to emit upload status event")
		}
	}
	return queued, nil
}

// Drain starts a drain execution unless one is already running, in which
// case it reports started=false and the in-flight execution keeps going.
func (s *UploadService) Drain(ctx context.Context) (uuid.UUID, bool, error) {
	id, err := s.runner.Start(ctx, drainState{})
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		zerolog.Ctx(ctx).Info().Msg("upload drain already running")
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (s *UploadService) Run(ctx context.Context, id uuid.UUID) error {
	return s.runner.Run(ctx, id)
}

// Interrupted lists drain executions left RUNNING by a previous process.
func (s *UploadService) Interrupted(ctx context.Context) ([]uuid.UUID, error) {
	return s.runner.Interrupted(ctx)
}

func (s *UploadService) queryQueue(ctx context.Context, st *drainState) error {
	episodes, err := s.repo.ListEpisodesReadyToUpload(ctx)
	if err != nil {
		return err
	}
	st.EpisodeIDs = make([]uuid.UUID, 0, len(episodes))
	for _, episode := range episodes {
		st.EpisodeIDs = append(st.EpisodeIDs, episode.ID)
	}
	zerolog.Ctx(ctx).Info().Int("episodes", len(st.EpisodeIDs)).Msg("draining upload queue")
	return nil
}

// submitUpload runs one upload attempt for the episode at Index. Each
// attempt, including throttle resubmissions, bumps the episode's attempt
// counter. A FAILED or THROTTLED result is recorded in state, not returned
// as an error; only infrastructure faults fail the execution.
func (s *UploadService) submitUpload(ctx context.Context, st *drainState) error {
	id := st.EpisodeIDs[st.Index]

	episode, err := s.repo.FindEpisodeByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch episode %s: %w", id, err)
	}
	if err := s.repo.IncrementUploadAttempts(ctx, id); err != nil {
		return err
	}

	handle, err := s.jobs.Submit(ctx, constant.JobTypeUpload, map[string]string{
		"episodeId": id.String(),
		"renderRef": episode.RenderRef,
		"title":     episode.Title,
		"userId":    episode.UserID,
	})
	if err != nil {
		return err
	}
	result, err := s.jobs.AwaitResult(ctx, handle)
	if err != nil {
		return err
	}

	st.LastStatus = result.Status
	st.LastError = result.ErrorMessage
	st.LastVideoID = result.Detail["videoId"]
	st.LastUserID = episode.UserID
	st.RetryAfterSeconds = result.RetryAfterSeconds
	return nil
}

func (s *UploadService) markFailed(ctx context.Context, st *drainState) error {
	id := st.EpisodeIDs[st.Index]
	if err := s.repo.UpdateEpisodeUploadStatus(ctx, id, constant.UploadStatusNotReadyToUpload, st.LastError, ""); err != nil {
		return err
	}
	s.emitUploadStatus(ctx, st, "FAILED")
	st.Index++
	return nil
}

func (s *UploadService) markUploaded(ctx context.Context, st *drainState) error {
	id := st.EpisodeIDs[st.Index]
	if err := s.repo.UpdateEpisodeUploadStatus(ctx, id, constant.UploadStatusUploaded, "", st.LastVideoID); err != nil {
		return err
	}
	s.emitUploadStatus(ctx, st, "UPLOADED")
	st.Index++
	return nil
}

func (s *UploadService) emitUploadStatus(ctx context.Context, st *drainState, status string) {
	err := s.events.EmitEpisodeUploadStatus(ctx, dto.EpisodeUploadStatusEvent{
		Status:       status,
		EpisodeID:    st.EpisodeIDs[st.Index],
		UserID:       st.LastUserID,
		ErrorMessage: st.LastError,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("episode_id", st.EpisodeIDs[st.Index].String()).Msg("failed to emit upload status event")
	}
}
