package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vod-orchestrator/entities"
	"vod-orchestrator/pkg/workflow"
)

// executionStore backs the workflow executor with the workflow_executions
// table. The unique index on singleton_key is what makes single-flight
// Start a conditional insert: the second starter's INSERT fails instead of
// both seeing "none running".
type executionStore struct {
	db *gorm.DB
}

func NewExecutionStore(db *gorm.DB) workflow.Store {
	return &executionStore{db: db}
}

func (s *executionStore) Insert(ctx context.Context, exec *workflow.Execution) error {
	err := s.db.WithContext(ctx).Create(toEntity(exec)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return workflow.ErrAlreadyRunning
	}
	return err
}

func (s *executionStore) Update(ctx context.Context, exec *workflow.Execution) error {
	return s.db.WithContext(ctx).Save(toEntity(exec)).Error
}

func (s *executionStore) Get(ctx context.Context, id uuid.UUID) (*workflow.Execution, error) {
	row := &entities.WorkflowExecution{}
	err := s.db.WithContext(ctx).First(row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromEntity(row), nil
}

func (s *executionStore) ListRunning(ctx context.Context, definition string) ([]*workflow.Execution, error) {
	var rows []*entities.WorkflowExecution
	err := s.db.WithContext(ctx).
		Where("definition = ? AND status = ?", definition, workflow.StatusRunning).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	execs := make([]*workflow.Execution, 0, len(rows))
	for _, row := range rows {
		execs = append(execs, fromEntity(row))
	}
	return execs, nil
}

func toEntity(exec *workflow.Execution) *entities.WorkflowExecution {
	return &entities.WorkflowExecution{
		ID:           exec.ID,
		Definition:   exec.Definition,
		SingletonKey: exec.SingletonKey,
		Status:       exec.Status,
		Step:         exec.Step,
		State:        exec.State,
		ResumeAt:     exec.ResumeAt,
		ErrorMessage: exec.ErrorMessage,
		StartedAt:    exec.StartedAt,
		UpdatedAt:    exec.UpdatedAt,
	}
}

func fromEntity(row *entities.WorkflowExecution) *workflow.Execution {
	return &workflow.Execution{
		ID:           row.ID,
		Definition:   row.Definition,
		SingletonKey: row.SingletonKey,
		Status:       row.Status,
		Step:         row.Step,
		State:        row.State,
		ResumeAt:     row.ResumeAt,
		ErrorMessage: row.ErrorMessage,
		StartedAt:    row.StartedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}
