package entities

import (
	"github.com/google/uuid"
	"time"
)

type Stream struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title          string    `json:"title" gorm:"type:varchar(255)"`
	Prefix         string    `json:"prefix" gorm:"type:varchar(500);not null"`
	VideoClipCount int       `json:"video_clip_count" gorm:"type:integer;default:0"`
	CreatedAt      time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Stream) TableName() string {
	return "streams"
}
