package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

const metadataFile = "metadata.json"

// RunRepository keeps one directory per run holding its metadata.json.
type RunRepository struct {
	basePath string
	mu       sync.Mutex
}

var _ repository.RunRepository = (*RunRepository)(nil)

func NewRunRepository(basePath string) (*RunRepository, error) {
	if err := ensureDir(basePath); err != nil {
		return nil, err
	}
	return &RunRepository{basePath: basePath}, nil
}

func (r *RunRepository) Create(ctx context.Context, run *entity.Run) error {
	metrics.IncStoreOp("filesystem", "create")

	r.mu.Lock()
	defer r.mu.Unlock()

	runDir := filepath.Join(r.basePath, run.ID)
	if _, err := os.Stat(runDir); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		metrics.IncError("filesystem_run_repo", "create_error")
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	return r.write(run)
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*entity.Run, error) {
	metrics.IncStoreOp("filesystem", "get")

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(id)
}

// List returns every run, newest first.
func (r *RunRepository) List(ctx context.Context) ([]*entity.Run, error) {
	metrics.IncStoreOp("filesystem", "list")

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		metrics.IncError("filesystem_run_repo", "list_error")
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var runs []*entity.Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := r.read(e.Name())
		if errors.Is(err, repository.ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (r *RunRepository) ListByStatus(ctx context.Context, status entity.RunStatus) ([]*entity.Run, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var runs []*entity.Run
	for _, run := range all {
		if run.Status == status {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (r *RunRepository) Update(ctx context.Context, run *entity.Run) error {
	metrics.IncStoreOp("filesystem", "put")

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.read(run.ID); err != nil {
		return err
	}
	run.UpdatedAt = time.Now().UTC()
	return r.write(run)
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id string, status entity.RunStatus) error {
	metrics.IncStoreOp("filesystem", "put")

	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.read(id)
	if err != nil {
		return err
	}
	run.UpdateStatus(status)
	return r.write(run)
}

func (r *RunRepository) TransitionStatus(ctx context.Context, id string, from, to entity.RunStatus) (bool, error) {
	metrics.IncStoreOp("filesystem", "transition")

	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.read(id)
	if err != nil {
		return false, err
	}
	if run.Status != from {
		return false, nil
	}
	run.UpdateStatus(to)
	if err := r.write(run); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RunRepository) Delete(ctx context.Context, id string) error {
	metrics.IncStoreOp("filesystem", "delete")

	r.mu.Lock()
	defer r.mu.Unlock()

	runDir := filepath.Join(r.basePath, id)
	if _, err := os.Stat(filepath.Join(runDir, metadataFile)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", repository.ErrRunNotFound, id)
	}
	if err := os.RemoveAll(runDir); err != nil {
		metrics.IncError("filesystem_run_repo", "delete_error")
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}

func (r *RunRepository) read(id string) (*entity.Run, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("%w: %q", repository.ErrRunNotFound, id)
	}

	data, err := os.ReadFile(filepath.Join(r.basePath, id, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", repository.ErrRunNotFound, id)
		}
		metrics.IncError("filesystem_run_repo", "read_error")
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var run entity.Run
	if err := json.Unmarshal(data, &run); err != nil {
		metrics.IncError("filesystem_run_repo", "decode_error")
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &run, nil
}

func (r *RunRepository) write(run *entity.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	p := filepath.Join(r.basePath, run.ID, metadataFile)
	if err := os.WriteFile(p, data, 0644); err != nil {
		metrics.IncError("filesystem_run_repo", "write_error")
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
