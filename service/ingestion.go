package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vod-orchestrator/config"
	"vod-orchestrator/constant"
	"vod-orchestrator/dto"
	"vod-orchestrator/entities"
	"vod-orchestrator/pkg/workflow"
	"vod-orchestrator/repository"
)

// ingestState is the checkpointed state of one stream ingestion execution.
// The first pass (IngestClips) fans out over ClipKeys; the second pass walks
// Index through the clips in key order, carrying the running start-time
// offset and the rolling transcription and summarization contexts.
type ingestState struct {
	StreamID             uuid.UUID `json:"streamId"`
	UserID               string    `json:"userId"`
	Prefix               string    `json:"prefix"`
	ClipKeys             []string  `json:"clipKeys"`
	ClipCount            int       `json:"clipCount"`
	Index                int       `json:"index"`
	StartTimeOffset      float64   `json:"startTimeOffset"`
	TranscriptionContext string    `json:"transcriptionContext"`
	SummarizationContext string    `json:"summarizationContext"`
	IngestFailures       int       `json:"ingestFailures"`
}

// IngestionService runs the stream ingestion workflow: discover clips under
// the stream's storage prefix, ingest each one (idempotently, in parallel),
// then transcribe and summarize them strictly in order so each clip's
// timeline offset and narrative context build on the previous clip's.
type IngestionService struct {
	repo    repository.Repository
	objects ObjectStore
	jobs    JobClient
	events  EventPublisher
	cache   PlaylistCache
	version int
	width   int
	runner  *workflow.Runner[ingestState]
}

func NewIngestionService(
	repo repository.Repository,
	objects ObjectStore,
	jobs JobClient,
	events EventPublisher,
	cache PlaylistCache,
	store workflow.Store,
	cfg config.Pipeline,
) *IngestionService {
	s := &IngestionService{
		repo:    repo,
		objects: objects,
		jobs:    jobs,
		events:  events,
		cache:   cache,
		version: cfg.IngestionVersion,
		width:   cfg.IngestConcurrency,
	}
	s.runner = workflow.NewRunner(s.definition(), store)
	return s
}

func (s *IngestionService) definition() workflow.Definition[ingestState] {
	return workflow.Definition[ingestState]{
		Name:  "stream_ingestion",
		Start: "SetUp",
		Steps: map[string]workflow.Step[ingestState]{
			"SetUp":             workflow.Pass[ingestState]{Apply: s.setUp, Next: "FetchStreamRecord"},
			"FetchStreamRecord": workflow.Invoke[ingestState]{Run: s.fetchStreamRecord, Next: "ListClips"},
			"ListClips":         workflow.Invoke[ingestState]{Run: s.listClips, Next: "ParseClipKeys"},
			"ParseClipKeys":     workflow.Pass[ingestState]{Apply: s.parseClipKeys, Next: "UpdateStreamRecord"},
			"UpdateStreamRecord": workflow.Invoke[ingestState]{
				Run:  s.updateStreamRecord,
				Next: "IngestClips",
			},
			"IngestClips": workflow.Map[ingestState]{
				Len:            func(st *ingestState) int { return len(st.ClipKeys) },
				MaxConcurrency: s.width,
				Branch:         s.ingestClip,
				Collect:        s.collectIngest,
				Next:           "NextClip",
			},
			"NextClip": workflow.Choice[ingestState]{
				Decide: func(st *ingestState) string {
					if st.Index < st.ClipCount {
						return "ProcessClip"
					}
					return "InvalidatePlaylist"
				},
			},
			"ProcessClip":        workflow.Invoke[ingestState]{Run: s.processClip, Next: "NextClip"},
			"InvalidatePlaylist": workflow.Invoke[ingestState]{Run: s.invalidatePlaylist, Next: "Success"},
			"Success":            workflow.Invoke[ingestState]{Run: s.emitCompleted, End: true},
		},
	}
}

// Start registers a new ingestion execution for the stream. The caller is
// expected to hand the returned id to Run.
func (s *IngestionService) Start(ctx context.Context, streamID uuid.UUID, req dto.StartIngestionRequest) (uuid.UUID, error) {
	if streamID == uuid.Nil {
		return uuid.Nil, errors.New("stream id is required")
	}
	return s.runner.Start(ctx, ingestState{
		StreamID:             streamID,
		UserID:               req.UserID,
		TranscriptionContext: req.InitialPrompt,
		SummarizationContext: req.InitialSummary,
	})
}

func (s *IngestionService) Run(ctx context.Context, id uuid.UUID) error {
	return s.runner.Run(ctx, id)
}

// Interrupted lists ingestion executions left RUNNING by a previous process.
func (s *IngestionService) Interrupted(ctx context.Context) ([]uuid.UUID, error) {
	return s.runner.Interrupted(ctx)
}

func (s *IngestionService) setUp(ctx context.Context, st *ingestState) error {
	if st.StreamID == uuid.Nil {
		return errors.New("stream id is required")
	}
	return nil
}

func (s *IngestionService) fetchStreamRecord(ctx context.Context, st *ingestState) error {
	stream, err := s.repo.FindStreamByID(ctx, st.StreamID)
	if err != nil {
		return fmt.Errorf("fetch stream %s: %w", st.StreamID, err)
	}
	st.Prefix = stream.Prefix
	return nil
}

func (s *IngestionService) listClips(ctx context.Context, st *ingestState) error {
	keys, err := s.objects.ListKeys(ctx, st.Prefix)
	if err != nil {
		return fmt.Errorf("list clips under %q: %w", st.Prefix, err)
	}
	st.ClipKeys = keys
	return nil
}

// parseClipKeys keeps only media objects from the raw listing. The listing
// is already sorted ascending, which fixes the clip order for both passes.
func (s *IngestionService) parseClipKeys(ctx context.Context, st *ingestState) error {
	media := make([]string, 0, len(st.ClipKeys))
	for _, key := range st.ClipKeys {
		switch path.Ext(key) {
		case ".mp4", ".mkv", ".mov", ".ts":
			media = append(media, key)
		}
	}
	st.ClipKeys = media
	st.ClipCount = len(media)
	return nil
}

func (s *IngestionService) updateStreamRecord(ctx context.Context, st *ingestState) error {
	return s.repo.UpdateStreamClipCount(ctx, st.StreamID, st.ClipCount)
}

// ingestClip is one branch of the parallel pass. Clips already ingested at
// the current version are skipped, which is what makes re-running an
// ingestion cheap after a crash or a partial failure.
func (s *IngestionService) ingestClip(ctx context.Context, st *ingestState, index int) error {
	key := st.ClipKeys[index]

	clip, err := s.repo.FindClipByKey(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if clip != nil && clip.IngestionVersion == s.version {
		zerolog.Ctx(ctx).Debug().Str("key", key).Msg("clip already ingested at current version, skipping")
		return nil
	}

	handle, err := s.jobs.Submit(ctx, constant.JobTypeIngest, map[string]string{
		"key":      key,
		"streamId": st.StreamID.String(),
	})
	if err != nil {
		return err
	}
	result, err := s.jobs.AwaitResult(ctx, handle)
	if err != nil {
		return err
	}
	if result.Status != constant.JobStatusSucceeded {
		return fmt.Errorf("ingest job for %q: %s: %s", key, result.Status, result.ErrorMessage)
	}

	duration, err := strconv.ParseFloat(result.Detail["duration"], 64)
	if err != nil {
		return fmt.Errorf("ingest job for %q returned bad duration %q: %w", key, result.Detail["duration"], err)
	}

	return s.repo.UpsertClipIngested(ctx, &entities.VideoClip{
		Key:              key,
		StreamID:         st.StreamID,
		IngestionVersion: s.version,
		AudioRef:         result.Detail["audioRef"],
		Duration:         duration,
	})
}

// collectIngest only counts branch failures; a failed clip drops out of the
// run without aborting its siblings or the execution.
func (s *IngestionService) collectIngest(st *ingestState, errs []error) error {
	st.IngestFailures = 0
	for _, err := range errs {
		if err != nil {
			st.IngestFailures++
		}
	}
	return nil
}

// processClip handles exactly one clip of the sequential pass. The offset
// accumulator always advances by the clip's duration, whether or not the
// transcription work is skipped, so downstream clips keep correct timelines.
func (s *IngestionService) processClip(ctx context.Context, st *ingestState) error {
	key := st.ClipKeys[st.Index]

	clip, err := s.repo.FindClipByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		// The ingest branch for this clip failed. Leave a gap rather than
		// guessing at a duration.
		zerolog.Ctx(ctx).Warn().Str("key", key).Msg("clip missing after ingest pass, skipping")
		st.Index++
		return nil
	}
	if err != nil {
		return err
	}

	if clip.IngestionVersion == s.version && clip.TranscriptionRef != "" {
		if err := s.repo.UpdateClipTimeline(ctx, key, st.StartTimeOffset, "", ""); err != nil {
			return err
		}
		st.StartTimeOffset += clip.Duration
		st.Index++
		return nil
	}

	handle, err := s.jobs.Submit(ctx, constant.JobTypeTranscribe, map[string]string{
		"key":                  key,
		"audioRef":             clip.AudioRef,
		"transcriptionContext": st.TranscriptionContext,
	})
	if err != nil {
		return err
	}
	transcription, err := s.jobs.AwaitResult(ctx, handle)
	if err != nil {
		return err
	}
	if transcription.Status != constant.JobStatusSucceeded {
		return fmt.Errorf("transcribe job for %q: %s: %s", key, transcription.Status, transcription.ErrorMessage)
	}
	transcriptionRef := transcription.Detail["transcriptionRef"]

	handle, err = s.jobs.Submit(ctx, constant.JobTypeSummarize, map[string]string{
		"key":                  key,
		"transcriptionRef":     transcriptionRef,
		"transcriptionContext": st.TranscriptionContext,
		"summarizationContext": st.SummarizationContext,
	})
	if err != nil {
		return err
	}
	summary, err := s.jobs.AwaitResult(ctx, handle)
	if err != nil {
		return err
	}
	if summary.Status != constant.JobStatusSucceeded {
		return fmt.Errorf("summarize job for %q: %s: %s", key, summary.Status, summary.ErrorMessage)
	}

	if err := s.repo.UpdateClipTimeline(ctx, key, st.StartTimeOffset, transcriptionRef, summary.Detail["summary"]); err != nil {
		return err
	}

	st.StartTimeOffset += clip.Duration
	if next := summary.Detail["transcriptionContext"]; next != "" {
		st.TranscriptionContext = next
	}
	if next := summary.Detail["summarizationContext"]; next != "" {
		st.SummarizationContext = next
	}
	st.Index++
	return nil
}

func (s *IngestionService) invalidatePlaylist(ctx context.Context, st *ingestState) error {
	return s.cache.Invalidate(ctx, st.StreamID)
}

func (s *IngestionService) emitCompleted(ctx context.Context, st *ingestState) error {
	err := s.events.EmitStreamIngestionStatus(ctx, dto.StreamIngestionStatusEvent{
		Status:    "COMPLETED",
		StreamID:  st.StreamID,
		ClipCount: st.ClipCount,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stream_id", st.StreamID.String()).Msg("failed to emit ingestion status event")
	}
	return nil
}
