package entities

import (
	"github.com/google/uuid"
	"time"
)

// VideoClip is one media unit of a stream, keyed by its object storage key.
// StartTime is the cumulative offset of the clip within the stream: the sum
// of the durations of all clips preceding it in key order.
type VideoClip struct {
	Key              string    `json:"key" gorm:"type:varchar(500);primary_key"`
	StreamID         uuid.UUID `json:"stream_id" gorm:"type:uuid;not null;index:idx_video_clips_stream_id"`
	IngestionVersion int       `json:"ingestion_version" gorm:"type:integer;not null;default:0"`
	AudioRef         string    `json:"audio_ref" gorm:"type:varchar(500)"`
	Duration         float64   `json:"duration" gorm:"type:double precision;default:0"`
	StartTime        float64   `json:"start_time" gorm:"type:double precision;default:0"`
	TranscriptionRef string    `json:"transcription_ref" gorm:"type:varchar(500)"`
	Summary          string    `json:"summary" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (VideoClip) TableName() string {
	return "video_clips"
}
