package entity

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one requirement pushed through the pipeline and everything it produced.
type Run struct {
	ID          string            `json:"id" bson:"id"`
	Requirement string            `json:"requirement" bson:"requirement"`
	Mode        Mode              `json:"mode" bson:"mode"`
	Status      RunStatus         `json:"status" bson:"status"`
	Diagrams    []RenderedDiagram `json:"diagrams,omitempty" bson:"diagrams,omitempty"`
	Summary     string            `json:"summary,omitempty" bson:"summary,omitempty"`
	Error       string            `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" bson:"updated_at"`
}

func NewRun(requirement string, mode Mode) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          uuid.New().String(),
		Requirement: requirement,
		Mode:        mode,
		Status:      RunStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Run) UpdateStatus(status RunStatus) {
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
}

// Complete stores the render result and marks the run completed.
func (r *Run) Complete(result RenderResult) {
	r.Diagrams = result.Diagrams
	r.Summary = result.Summary
	r.Error = ""
	r.UpdateStatus(RunStatusCompleted)
}

func (r *Run) Fail(err error) {
	if err != nil {
		r.Error = err.Error()
	}
	r.UpdateStatus(RunStatusFailed)
}

// Diagram returns the rendered diagram with the given label.
func (r *Run) Diagram(label DiagramLabel) (RenderedDiagram, bool) {
	for _, d := range r.Diagrams {
		if d.Label == label {
			return d, true
		}
	}
	return RenderedDiagram{}, false
}

// Paths lists the image files written for this run.
func (r *Run) Paths() []string {
	var paths []string
	for _, d := range r.Diagrams {
		if d.Path != "" {
			paths = append(paths, d.Path)
		}
	}
	return paths
}
