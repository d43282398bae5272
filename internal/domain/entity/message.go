package entity

import (
	"fmt"
	"strings"
)

// GenerationRequest is the payload that starts a run on the generator topic.
type GenerationRequest struct {
	RunID       string
	Requirement string
	Mode        Mode
}

func NewGenerationRequest(runID, requirement string, mode Mode) (GenerationRequest, error) {
	if strings.TrimSpace(requirement) == "" {
		return GenerationRequest{}, ErrEmptyRequirement
	}
	if !mode.Valid() {
		return GenerationRequest{}, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	return GenerationRequest{RunID: runID, Requirement: requirement, Mode: mode}, nil
}

// CritiqueRequest carries the generator draft to the critic.
type CritiqueRequest struct {
	RunID string
	Base  Diagram
	Mode  Mode
}

func NewCritiqueRequest(runID, draft string, mode Mode) CritiqueRequest {
	return CritiqueRequest{
		RunID: runID,
		Base:  Diagram{Label: LabelBase, Source: draft},
		Mode:  mode,
	}
}

// RenderRequest carries one or more labelled diagrams to the renderer.
type RenderRequest struct {
	RunID    string
	Diagrams []Diagram
}

func NewRenderRequest(runID string, diagrams ...Diagram) (RenderRequest, error) {
	if len(diagrams) == 0 {
		return RenderRequest{}, ErrEmptyDiagram
	}
	for i, d := range diagrams {
		if d.Label == "" {
			return RenderRequest{}, fmt.Errorf("diagram %d: label is required", i)
		}
	}
	return RenderRequest{RunID: runID, Diagrams: diagrams}, nil
}

// RenderResult is what the renderer publishes once every diagram was handled.
type RenderResult struct {
	RunID    string
	Diagrams []RenderedDiagram
	Summary  string
}
