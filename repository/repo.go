package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vod-orchestrator/constant"
	"vod-orchestrator/entities"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	GetDB() *gorm.DB

	FindStreamByID(ctx context.Context, id uuid.UUID) (*entities.Stream, error)
	UpdateStreamClipCount(ctx context.Context, id uuid.UUID, count int) error

	FindClipByKey(ctx context.Context, key string) (*entities.VideoClip, error)
	ListClipsByStream(ctx context.Context, streamID uuid.UUID) ([]*entities.VideoClip, error)
	UpsertClipIngested(ctx context.Context, clip *entities.VideoClip) error
	UpdateClipTimeline(ctx context.Context, key string, startTime float64, transcriptionRef string, summary string) error

	FindEpisodeByID(ctx context.Context, id uuid.UUID) (*entities.Episode, error)
	ListEpisodesReadyToUpload(ctx context.Context) ([]*entities.Episode, error)
	QueueEpisodeForUpload(ctx context.Context, id uuid.UUID, userID string, queuedAt time.Time) error
	IncrementUploadAttempts(ctx context.Context, id uuid.UUID) error
	UpdateEpisodeUploadStatus(ctx context.Context, id uuid.UUID, status constant.UploadStatus, errorMessage string, platformVideoID string) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger:         logger.Default.LogMode(logger.Warn),
			TranslateError: true,
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) FindStreamByID(ctx context.Context, id uuid.UUID) (*entities.Stream, error) {
	stream := &entities.Stream{}
	err := r.db.WithContext(ctx).First(stream, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (r *repo) UpdateStreamClipCount(ctx context.Context, id uuid.UUID, count int) error {
	return r.db.WithContext(ctx).Model(&entities.Stream{}).
		Where("id = ?", id).
		Update("video_clip_count", count).Error
}

func (r *repo) FindClipByKey(ctx context.Context, key string) (*entities.VideoClip, error) {
	clip := &entities.VideoClip{}
	err := r.db.WithContext(ctx).First(clip, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return clip, nil
}

func (r *repo) ListClipsByStream(ctx context.Context, streamID uuid.UUID) ([]*entities.VideoClip, error) {
	var clips []*entities.VideoClip
	err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("key ASC").
		Find(&clips).Error
	if err != nil {
		return nil, err
	}
	return clips, nil
}

func (r *repo) UpsertClipIngested(ctx context.Context, clip *entities.VideoClip) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"stream_id", "ingestion_version", "audio_ref", "duration", "updated_at"}),
	}).Create(clip).Error
}

func (r *repo) UpdateClipTimeline(ctx context.Context, key string, startTime float64, transcriptionRef string, summary string) error {
	updates := map[string]interface{}{
		"start_time": startTime,
		"updated_at": time.Now(),
	}
	if transcriptionRef != "" {
		updates["transcription_ref"] = transcriptionRef
	}
	if summary != "" {
		updates["summary"] = summary
	}
	return r.db.WithContext(ctx).Model(&entities.VideoClip{}).
		Where("key = ?", key).
		Updates(updates).Error
}

func (r *repo) FindEpisodeByID(ctx context.Context, id uuid.UUID) (*entities.Episode, error) {
	episode := &entities.Episode{}
	err := r.db.WithContext(ctx).First(episode, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return episode, nil
}

func (r *repo) ListEpisodesReadyToUpload(ctx context.Context) ([]*entities.Episode, error) {
	var episodes []*entities.Episode
	err := r.db.WithContext(ctx).
		Where("upload_status = ?", constant.UploadStatusReadyToUpload).
		Order("upload_queue_timestamp ASC").
		Find(&episodes).Error
	if err != nil {
		return nil, err
	}
	return episodes, nil
}

func (r *repo) QueueEpisodeForUpload(ctx context.Context, id uuid.UUID, userID string, queuedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&entities.Episode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"user_id":                userID,
			"upload_status":          constant.UploadStatusReadyToUpload,
			"upload_queue_timestamp": queuedAt,
			"updated_at":             queuedAt,
		}).Error
}

func (r *repo) IncrementUploadAttempts(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&entities.Episode{}).
		Where("id = ?", id).
		Update("upload_attempts", gorm.Expr("upload_attempts + 1")).Error
}

func (r *repo) UpdateEpisodeUploadStatus(ctx context.Context, id uuid.UUID, status constant.UploadStatus, errorMessage string, platformVideoID string) error {
	updates := map[string]interface{}{
		"upload_status": status,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	}
	if platformVideoID != "" {
		updates["platform_video_id"] = platformVideoID
	}
	return r.db.WithContext(ctx).Model(&entities.Episode{}).
		Where("id = ?", id).
		Updates(updates).Error
}
