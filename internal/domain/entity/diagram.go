package entity

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidMode      = errors.New("invalid mode")
	ErrEmptyRequirement = errors.New("requirement is required")
	ErrEmptyDiagram     = errors.New("diagram list is empty")
)

// Mode selects the pipeline shape.
type Mode int

const (
	// ModeDirect sends the generator draft straight to the renderer.
	ModeDirect Mode = 1
	// ModeCritique routes the draft through the critic and renders both versions.
	ModeCritique Mode = 2
)

const DefaultMode = ModeCritique

func (m Mode) Valid() bool {
	return m == ModeDirect || m == ModeCritique
}

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeCritique:
		return "critique"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode accepts the numeric form used by the HTTP API and the CLI.
func ParseMode(s string) (Mode, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	m := Mode(n)
	if !m.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMode, n)
	}
	return m, nil
}

type DiagramLabel string

const (
	LabelBase     DiagramLabel = "base"
	LabelEnhanced DiagramLabel = "enhanced"
)

// Diagram is model output expected to hold a @startuml ... @enduml fragment.
// It is not checked for PlantUML correctness before rendering.
type Diagram struct {
	Label  DiagramLabel `json:"label" bson:"label"`
	Source string       `json:"source" bson:"source"`
}

// RenderedDiagram is what the renderer stage produced for a single diagram.
// Path is empty when the render tool wrote nothing.
type RenderedDiagram struct {
	Label    DiagramLabel `json:"label" bson:"label"`
	Source   string       `json:"source,omitempty" bson:"source,omitempty"`
	Path     string       `json:"path,omitempty" bson:"path,omitempty"`
	URL      string       `json:"url,omitempty" bson:"url,omitempty"`
	Response string       `json:"response,omitempty" bson:"response,omitempty"`
	Error    string       `json:"error,omitempty" bson:"error,omitempty"`
}
