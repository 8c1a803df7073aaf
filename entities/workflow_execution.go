package entities

import (
	"github.com/google/uuid"
	"time"
)

// WorkflowExecution is the durable checkpoint of one workflow run. Step and
// State are rewritten after every advanced step so a restarted process can
// resume exactly where the previous one stopped.
//
// SingletonKey holds the definition name while a single-flight execution is
// running and is cleared on termination. The unique index turns "start only
// if none running" into one conditional insert instead of a racy
// list-then-start.
type WorkflowExecution struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	Definition   string     `json:"definition" gorm:"type:varchar(100);not null;index:idx_workflow_executions_definition"`
	SingletonKey *string    `json:"singleton_key" gorm:"type:varchar(100);uniqueIndex:unique_workflow_singleton"`
	Status       string     `json:"status" gorm:"type:varchar(20);not null;check:status IN ('RUNNING', 'SUCCEEDED', 'FAILED')"`
	Step         string     `json:"step" gorm:"type:varchar(100)"`
	State        []byte     `json:"state" gorm:"type:jsonb"`
	ResumeAt     *time.Time `json:"resume_at" gorm:"type:timestamptz"`
	ErrorMessage string     `json:"error_message" gorm:"type:text"`
	StartedAt    time.Time  `json:"started_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}
