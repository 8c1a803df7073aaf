package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vod-orchestrator/repository"
)

// PlaylistService renders a stream's VOD playlist from its clip records.
// Rendered playlists are cached until the next ingestion run invalidates
// them.
type PlaylistService interface {
	Render(ctx context.Context, streamID uuid.UUID) (string, error)
}

type playlistService struct {
	repo         repository.Repository
	cache        PlaylistCache
	mediaBaseURL string
}

func NewPlaylistService(repo repository.Repository, cache PlaylistCache, mediaBaseURL string) PlaylistService {
	return &playlistService{
		repo:         repo,
		cache:        cache,
		mediaBaseURL: strings.TrimSuffix(mediaBaseURL, "/"),
	}
}

func (s *playlistService) Render(ctx context.Context, streamID uuid.UUID) (string, error) {
	cached, err := s.cache.Get(ctx, streamID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stream_id", streamID.String()).Msg("playlist cache read failed")
	}
	if cached != "" {
		return cached, nil
	}

	clips, err := s.repo.ListClipsByStream(ctx, streamID)
	if err != nil {
		return "", err
	}
	if len(clips) == 0 {
		return "", repository.ErrNotFound
	}

	var target float64
	for _, clip := range clips {
		if clip.Duration > target {
			target = clip.Duration
		}
	}

	var builder strings.Builder
	builder.WriteString("#EXTM3U\n")
	builder.WriteString("#EXT-X-VERSION:3\n")
	builder.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	builder.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(target)+1))
	for _, clip := range clips {
		builder.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", clip.Duration))
		builder.WriteString(fmt.Sprintf("%s/%s\n", s.mediaBaseURL, clip.Key))
	}
	builder.WriteString("#EXT-X-ENDLIST\n")
	body := builder.String()

	if err := s.cache.Put(ctx, streamID, body); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stream_id", streamID.String()).Msg("playlist cache write failed")
	}
	return body, nil
}
