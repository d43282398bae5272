package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
	"umlgen/internal/infrastructure/plantuml"
)

const RenderToolName = "render_plantuml"

type renderArgs struct {
	UMLCode  string `json:"uml_code"`
	FileName string `json:"file_name,omitempty"`
}

// RenderTool renders the first PlantUML block found in uml_code and stores
// the PNG in the shared output directory.
type RenderTool struct {
	renderer repository.Renderer
	store    repository.DiagramStore
	schema   *ArgumentSchema
	logger   *slog.Logger
}

var _ Tool = (*RenderTool)(nil)

func NewRenderTool(renderer repository.Renderer, store repository.DiagramStore, logger *slog.Logger) (*RenderTool, error) {
	t := &RenderTool{
		renderer: renderer,
		store:    store,
		logger:   logger,
	}
	schema, err := CompileArgumentSchema(RenderToolName, t.Definition().Parameters)
	if err != nil {
		return nil, err
	}
	t.schema = schema
	return t, nil
}

func (t *RenderTool) Definition() entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:        RenderToolName,
		Description: "Render the PlantUML code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"uml_code": map[string]any{
					"type":        "string",
					"description": "PlantUML code to render, including @startuml and @enduml.",
				},
				"file_name": map[string]any{
					"type":        "string",
					"description": "Optional base name for the image file.",
				},
			},
			"required": []any{"uml_code"},
		},
	}
}

// Run returns the written file path. When uml_code holds no @startuml block
// nothing is written and the result is empty.
func (t *RenderTool) Run(ctx context.Context, raw json.RawMessage) (Result, error) {
	if err := t.schema.Validate(raw); err != nil {
		metrics.IncError("render_tool", "invalid_args")
		return Result{}, err
	}

	var args renderArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		metrics.IncError("render_tool", "decode_args")
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	logger := t.logger.With("tool", RenderToolName, "file_name", args.FileName)

	block, ok := plantuml.Extract(args.UMLCode)
	if !ok {
		logger.WarnContext(ctx, "no @startuml block found, nothing rendered")
		metrics.IncRender(t.renderer.Name(), "empty")
		return Result{}, nil
	}

	for _, issue := range plantuml.Lint(block) {
		logger.DebugContext(ctx, "plantuml lint", "issue", issue.String())
	}

	start := time.Now()
	png, err := t.renderer.Render(ctx, block)
	metrics.ObserveRenderDuration(t.renderer.Name(), time.Since(start))
	if err != nil {
		metrics.IncRender(t.renderer.Name(), "error")
		return Result{}, fmt.Errorf("render diagram: %w", err)
	}

	path, err := t.store.SaveImage(ctx, args.FileName, png)
	if err != nil {
		metrics.IncRender(t.renderer.Name(), "error")
		return Result{}, fmt.Errorf("save diagram: %w", err)
	}
	metrics.IncRender(t.renderer.Name(), "ok")

	logger.InfoContext(ctx, "diagram rendered", "path", path, "bytes", len(png))
	return Result{Content: path, Artifacts: []string{path}}, nil
}
