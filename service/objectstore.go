package service

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectStore lists raw recording objects. Keys come back sorted ascending,
// which fixes the clip order for the whole ingestion run.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

type minioObjectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(client *minio.Client, bucket string) ObjectStore {
	return &minioObjectStore{client: client, bucket: bucket}
}

func (s *minioObjectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// PlaylistCache holds rendered stream playlists. A miss is ("", nil).
type PlaylistCache interface {
	Get(ctx context.Context, streamID uuid.UUID) (string, error)
	Put(ctx context.Context, streamID uuid.UUID, body string) error
	Invalidate(ctx context.Context, streamID uuid.UUID) error
}

type minioPlaylistCache struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewPlaylistCache(client *minio.Client, bucket, prefix string) PlaylistCache {
	return &minioPlaylistCache{client: client, bucket: bucket, prefix: prefix}
}

func (c *minioPlaylistCache) key(streamID uuid.UUID) string {
	return path.Join(c.prefix, streamID.String()+".m3u8")
}

func (c *minioPlaylistCache) Get(ctx context.Context, streamID uuid.UUID) (string, error) {
	object, err := c.client.GetObject(ctx, c.bucket, c.key(streamID), minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer object.Close()

	body, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", nil
		}
		return "", err
	}
	return string(body), nil
}

func (c *minioPlaylistCache) Put(ctx context.Context, streamID uuid.UUID, body string) error {
	reader := strings.NewReader(body)
	_, err := c.client.PutObject(ctx, c.bucket, c.key(streamID), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/vnd.apple.mpegurl",
	})
	return err
}

func (c *minioPlaylistCache) Invalidate(ctx context.Context, streamID uuid.UUID) error {
	err := c.client.RemoveObject(ctx, c.bucket, c.key(streamID), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}
