package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

type RunUsecase interface {
	Submit(ctx context.Context, requirement string, mode entity.Mode) (*entity.Run, error)
	GetRun(ctx context.Context, id string) (*entity.Run, error)
	ListRuns(ctx context.Context) ([]*entity.Run, error)
	DeleteRun(ctx context.Context, id string) error
	RecentDiagrams(ctx context.Context, limit int) ([]repository.StoredImage, error)
}

var _ RunUsecase = (*RunService)(nil)

type RunService struct {
	runsRepo repository.RunRepository
	store    repository.DiagramStore
	logger   *slog.Logger
}

func NewRunService(rr repository.RunRepository, store repository.DiagramStore, logger *slog.Logger) *RunService {
	return &RunService{
		runsRepo: rr,
		store:    store,
		logger:   logger,
	}
}

// Submit stores a pending run; the RunWorker picks it up.
func (u *RunService) Submit(ctx context.Context, requirement string, mode entity.Mode) (*entity.Run, error) {
	if _, err := entity.NewGenerationRequest("", requirement, mode); err != nil {
		return nil, err
	}

	run := entity.NewRun(requirement, mode)
	if err := u.runsRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	metrics.IncRunsCreated()
	metrics.IncRunStatusChange(string(entity.RunStatusPending))
	return run, nil
}

func (u *RunService) GetRun(ctx context.Context, id string) (*entity.Run, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", repository.ErrRunNotFound)
	}
	return u.runsRepo.GetByID(ctx, id)
}

func (u *RunService) ListRuns(ctx context.Context) ([]*entity.Run, error) {
	return u.runsRepo.List(ctx)
}

// DeleteRun removes the run record and the images it produced. Images that
// another run still points at, as with fixed file naming, are left in place.
func (u *RunService) DeleteRun(ctx context.Context, id string) error {
	run, err := u.runsRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	paths, err := u.ownedPaths(ctx, run)
	if err != nil {
		return err
	}
	if len(paths) > 0 {
		if err := u.store.Remove(ctx, paths...); err != nil {
			return fmt.Errorf("delete run images: %w", err)
		}
	}
	if err := u.runsRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}

	u.logger.Info("run deleted", "run_id", id)
	return nil
}

// ownedPaths returns the image paths of run that no other run references.
func (u *RunService) ownedPaths(ctx context.Context, run *entity.Run) ([]string, error) {
	paths := run.Paths()
	if len(paths) == 0 {
		return nil, nil
	}

	all, err := u.runsRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	shared := make(map[string]bool)
	for _, other := range all {
		if other.ID == run.ID {
			continue
		}
		for _, p := range other.Paths() {
			shared[p] = true
		}
	}

	owned := make([]string, 0, len(paths))
	for _, p := range paths {
		if shared[p] {
			u.logger.Debug("image kept, still referenced", "run_id", run.ID, "path", p)
			continue
		}
		owned = append(owned, p)
	}
	return owned, nil
}

// RecentDiagrams lists the newest images of the output directory, whatever
// run wrote them.
func (u *RunService) RecentDiagrams(ctx context.Context, limit int) ([]repository.StoredImage, error) {
	images, err := u.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list diagrams: %w", err)
	}
	return images, nil
}
