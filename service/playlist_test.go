package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"vod-orchestrator/entities"
)

func TestPlaylistRenderAndCache(t *testing.T) {
	ctx := context.Background()
	streamID := uuid.New()

	repo := newFakeRepo()
	repo.clips["streams/abc/000.mp4"] = &entities.VideoClip{
		Key: "streams/abc/000.mp4", StreamID: streamID, Duration: 300,
	}
	repo.clips["streams/abc/001.mp4"] = &entities.VideoClip{
		Key: "streams/abc/001.mp4", StreamID: streamID, Duration: 450.5,
	}
	cache := newFakeCache()

	svc := NewPlaylistService(repo, cache, "https://media.example.com/")

	body, err := svc.Render(ctx, streamID)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(body, "#EXTM3U\n") {
		t.Fatalf("playlist missing header:\n%s", body)
	}
	if !strings.Contains(body, "#EXT-X-TARGETDURATION:451\n") {
		t.Errorf("playlist target duration wrong:\n%s", body)
	}
	if !strings.Contains(body, "#EXTINF:300.000,\nhttps://media.example.com/streams/abc/000.mp4\n") {
		t.Errorf("playlist missing first segment:\n%s", body)
	}
	first := strings.Index(body, "000.mp4")
	second := strings.Index(body, "001.mp4")
	if first < 0 || second < 0 || second < first {
		t.Errorf("segments out of key order:\n%s", body)
	}
	if !strings.HasSuffix(body, "#EXT-X-ENDLIST\n") {
		t.Errorf("playlist missing endlist:\n%s", body)
	}

	if cache.entries[streamID] != body {
		t.Fatal("rendered playlist not cached")
	}

	// A second render is served from the cache, not re-built.
	repo.clips["streams/abc/000.mp4"].Duration = 1
	again, err := svc.Render(ctx, streamID)
	if err != nil {
		t.Fatalf("Render again: %v", err)
	}
	if again != body {
		t.Fatal("cached playlist not used")
	}

	// Invalidation forces a re-render with the new durations.
	if err := cache.Invalidate(ctx, streamID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	fresh, err := svc.Render(ctx, streamID)
	if err != nil {
		t.Fatalf("Render after invalidate: %v", err)
	}
	if !strings.Contains(fresh, "#EXTINF:1.000,") {
		t.Errorf("playlist not re-rendered:\n%s", fresh)
	}
}
