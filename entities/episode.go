package entities

import (
	"github.com/google/uuid"
	"time"
	"vod-orchestrator/constant"
)

type Episode struct {
	ID                   uuid.UUID             `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title                string                `json:"title" gorm:"type:varchar(255)"`
	StreamID             *uuid.UUID            `json:"stream_id" gorm:"type:uuid;index:idx_episodes_stream_id"`
	UserID               string                `json:"user_id" gorm:"type:varchar(255)"`
	RenderRef            string                `json:"render_ref" gorm:"type:varchar(500)"`
	UploadStatus         constant.UploadStatus `json:"upload_status" gorm:"type:varchar(30);index:idx_episodes_upload_status"`
	UploadQueueTimestamp *time.Time            `json:"upload_queue_timestamp" gorm:"type:timestamptz"`
	UploadAttempts       int                   `json:"upload_attempts" gorm:"type:integer;default:0"`
	RetryAfterSeconds    int                   `json:"retry_after_seconds" gorm:"type:integer;default:0"`
	ErrorMessage         string                `json:"error_message" gorm:"type:text"`
	PlatformVideoID      string                `json:"platform_video_id" gorm:"type:varchar(100)"`
	CreatedAt            time.Time             `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time             `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Episode) TableName() string {
	return "episodes"
}
