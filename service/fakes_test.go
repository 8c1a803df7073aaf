package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vod-orchestrator/constant"
	"vod-orchestrator/dto"
	"vod-orchestrator/entities"
	"vod-orchestrator/pkg/workflow"
	"vod-orchestrator/repository"
)

type memStore struct {
	mu    sync.Mutex
	execs map[uuid.UUID]*workflow.Execution
}

func newMemStore() *memStore {
	return &memStore{execs: make(map[uuid.UUID]*workflow.Execution)}
}

func cloneExec(exec *workflow.Execution) *workflow.Execution {
	cp := *exec
	cp.State = append([]byte(nil), exec.State...)
	if exec.SingletonKey != nil {
		key := *exec.SingletonKey
		cp.SingletonKey = &key
	}
	if exec.ResumeAt != nil {
		at := *exec.ResumeAt
		cp.ResumeAt = &at
	}
	return &cp
}

func (s *memStore) Insert(ctx context.Context, exec *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.SingletonKey != nil {
		for _, other := range s.execs {
			if other.SingletonKey != nil && *other.SingletonKey == *exec.SingletonKey {
				return workflow.ErrAlreadyRunning
			}
		}
	}
	s.execs[exec.ID] = cloneExec(exec)
	return nil
}

func (s *memStore) Update(ctx context.Context, exec *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; !ok {
		return workflow.ErrNotFound
	}
	s.execs[exec.ID] = cloneExec(exec)
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return cloneExec(exec), nil
}

func (s *memStore) ListRunning(ctx context.Context, definition string) ([]*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.Execution
	for _, exec := range s.execs {
		if exec.Definition == definition && exec.Status == workflow.StatusRunning {
			out = append(out, cloneExec(exec))
		}
	}
	return out, nil
}

type fakeRepo struct {
	mu       sync.Mutex
	streams  map[uuid.UUID]*entities.Stream
	clips    map[string]*entities.VideoClip
	episodes map[uuid.UUID]*entities.Episode
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		streams:  make(map[uuid.UUID]*entities.Stream),
		clips:    make(map[string]*entities.VideoClip),
		episodes: make(map[uuid.UUID]*entities.Episode),
	}
}

func (r *fakeRepo) GetDB() *gorm.DB { return nil }

func (r *fakeRepo) FindStreamByID(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *stream
	return &cp, nil
}

func (r *fakeRepo) UpdateStreamClipCount(ctx context.Context, id uuid.UUID, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[id]
	if !ok {
		return repository.ErrNotFound
	}
	stream.VideoClipCount = count
	return nil
}

func (r *fakeRepo) FindClipByKey(ctx context.Context, key string) (*entities.VideoClip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clip, ok := r.clips[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *clip
	return &cp, nil
}

func (r *fakeRepo) ListClipsByStream(ctx context.Context, streamID uuid.UUID) ([]*entities.VideoClip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.VideoClip
	for _, clip := range r.clips {
		if clip.StreamID == streamID {
			cp := *clip
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *fakeRepo) UpsertClipIngested(ctx context.Context, clip *entities.VideoClip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.clips[clip.Key]
	if !ok {
		cp := *clip
		r.clips[clip.Key] = &cp
		return nil
	}
	existing.StreamID = clip.StreamID
	existing.IngestionVersion = clip.IngestionVersion
	existing.AudioRef = clip.AudioRef
	existing.Duration = clip.Duration
	return nil
}

func (r *fakeRepo) UpdateClipTimeline(ctx context.Context, key string, startTime float64, transcriptionRef string, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clip, ok := r.clips[key]
	if !ok {
		return repository.ErrNotFound
	}
	clip.StartTime = startTime
	if transcriptionRef != "" {
		clip.TranscriptionRef = transcriptionRef
	}
	if summary != "" {
		clip.Summary = summary
	}
	return nil
}

func (r *fakeRepo) FindEpisodeByID(ctx context.Context, id uuid.UUID) (*entities.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	episode, ok := r.episodes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *episode
	return &cp, nil
}

func (r *fakeRepo) ListEpisodesReadyToUpload(ctx context.Context) ([]*entities.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Episode
	for _, episode := range r.episodes {
		if episode.UploadStatus == constant.UploadStatusReadyToUpload {
			cp := *episode
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadQueueTimestamp.Before(*out[j].UploadQueueTimestamp)
	})
	return out, nil
}

func (r *fakeRepo) QueueEpisodeForUpload(ctx context.Context, id uuid.UUID, userID string, queuedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	episode, ok := r.episodes[id]
	if !ok {
		return repository.ErrNotFound
	}
	episode.UserID = userID
	episode.UploadStatus = constant.UploadStatusReadyToUpload
	episode.UploadQueueTimestamp = &queuedAt
	return nil
}

func (r *fakeRepo) IncrementUploadAttempts(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	episode, ok := r.episodes[id]
	if !ok {
		return repository.ErrNotFound
	}
	episode.UploadAttempts++
	return nil
}

func (r *fakeRepo) UpdateEpisodeUploadStatus(ctx context.Context, id uuid.UUID, status constant.UploadStatus, errorMessage string, platformVideoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	episode, ok := r.episodes[id]
	if !ok {
		return repository.ErrNotFound
	}
	episode.UploadStatus = status
	episode.ErrorMessage = errorMessage
	if platformVideoID != "" {
		episode.PlatformVideoID = platformVideoID
	}
	return nil
}

type submission struct {
	Type    constant.JobType
	Payload map[string]string
}

// fakeJobs resolves every submission synchronously through the respond
// callback. The callback sees the per-(type,key) call count so tests can
// script throttle-then-succeed sequences.
type fakeJobs struct {
	mu          sync.Mutex
	submissions []submission
	calls       map[string]int
	pending     map[uuid.UUID]dto.JobResult
	respond     func(jobType constant.JobType, payload map[string]string, call int) dto.JobResult
}

func newFakeJobs(respond func(jobType constant.JobType, payload map[string]string, call int) dto.JobResult) *fakeJobs {
	return &fakeJobs{
		calls:   make(map[string]int),
		pending: make(map[uuid.UUID]dto.JobResult),
		respond: respond,
	}
}

func (j *fakeJobs) Submit(ctx context.Context, jobType constant.JobType, payload map[string]string) (uuid.UUID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := make(map[string]string, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	j.submissions = append(j.submissions, submission{Type: jobType, Payload: cp})

	callKey := fmt.Sprintf("%s/%s%s", jobType, payload["key"], payload["episodeId"])
	j.calls[callKey]++

	handle := uuid.New()
	result := j.respond(jobType, cp, j.calls[callKey])
	result.Handle = handle
	j.pending[handle] = result
	return handle, nil
}

func (j *fakeJobs) AwaitResult(ctx context.Context, handle uuid.UUID) (dto.JobResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	result, ok := j.pending[handle]
	if !ok {
		return dto.JobResult{}, fmt.Errorf("no pending job for handle %s", handle)
	}
	delete(j.pending, handle)
	return result, nil
}

func (j *fakeJobs) submitted(jobType constant.JobType) []submission {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []submission
	for _, s := range j.submissions {
		if s.Type == jobType {
			out = append(out, s)
		}
	}
	return out
}

type fakeEvents struct {
	mu            sync.Mutex
	episodeEvents []dto.EpisodeUploadStatusEvent
	streamEvents  []dto.StreamIngestionStatusEvent
}

func (e *fakeEvents) EmitEpisodeUploadStatus(ctx context.Context, event dto.EpisodeUploadStatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.episodeEvents = append(e.episodeEvents, event)
	return nil
}

func (e *fakeEvents) EmitStreamIngestionStatus(ctx context.Context, event dto.StreamIngestionStatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamEvents = append(e.streamEvents, event)
	return nil
}

type fakeObjects struct {
	keys []string
}

func (o *fakeObjects) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	out := append([]string(nil), o.keys...)
	sort.Strings(out)
	return out, nil
}

type fakeCache struct {
	mu            sync.Mutex
	entries       map[uuid.UUID]string
	invalidations int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uuid.UUID]string)}
}

func (c *fakeCache) Get(ctx context.Context, streamID uuid.UUID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[streamID], nil
}

func (c *fakeCache) Put(ctx context.Context, streamID uuid.UUID, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[streamID] = body
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, streamID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, streamID)
	c.invalidations++
	return nil
}
