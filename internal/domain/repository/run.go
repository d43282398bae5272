package repository

import (
	"context"
	"errors"

	"umlgen/internal/domain/entity"
)

var ErrRunNotFound = errors.New("run not found")

// RunRepository stores pipeline runs.
type RunRepository interface {
	Create(ctx context.Context, run *entity.Run) error
	GetByID(ctx context.Context, id string) (*entity.Run, error)
	List(ctx context.Context) ([]*entity.Run, error)
	ListByStatus(ctx context.Context, status entity.RunStatus) ([]*entity.Run, error)
	Update(ctx context.Context, run *entity.Run) error
	UpdateStatus(ctx context.Context, id string, status entity.RunStatus) error
	// TransitionStatus moves a run from one status to another only if it is
	// still in from. It reports whether this call made the change.
	TransitionStatus(ctx context.Context, id string, from, to entity.RunStatus) (bool, error)
	Delete(ctx context.Context, id string) error
}
