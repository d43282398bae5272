package agents

import (
	"context"
	"fmt"
	"log/slog"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
	"umlgen/internal/runtime"
)

// Generator drafts a PlantUML class diagram from a free-text requirement.
type Generator struct {
	model  repository.ChatModel
	prompt entity.Prompt
	logger *slog.Logger
}

var _ runtime.Handler = (*Generator)(nil)

func NewGenerator(model repository.ChatModel, prompt entity.Prompt, logger *slog.Logger) *Generator {
	return &Generator{
		model:  model,
		prompt: prompt,
		logger: logger.With("component", "generator"),
	}
}

// Handle sends the draft to the renderer in direct mode and to the critic
// otherwise. The model text is forwarded as is.
func (g *Generator) Handle(ctx context.Context, msg runtime.Envelope, pub runtime.Publisher) error {
	req, ok := msg.Payload.(entity.GenerationRequest)
	if !ok {
		metrics.IncError("generator", "unexpected_payload")
		return runtime.UnexpectedPayload(msg.Topic, msg.Payload)
	}

	g.logger.InfoContext(ctx, "generating draft", "mode", req.Mode.String(), "model", g.model.Name())

	resp, err := g.model.Complete(ctx, &entity.ChatRequest{
		Messages: []entity.ChatMessage{
			entity.SystemMessage(g.prompt.Text),
			entity.UserMessage(entity.GeneratorUserTurn(req.Requirement)),
		},
	})
	if err != nil {
		metrics.IncError("generator", "model_call")
		return fmt.Errorf("generator model call: %w", err)
	}
	draft := resp.Content

	switch req.Mode {
	case entity.ModeDirect:
		next, err := entity.NewRenderRequest(req.RunID, entity.Diagram{Label: entity.LabelBase, Source: draft})
		if err != nil {
			return err
		}
		return pub.Publish(ctx, runtime.TopicRenderer, next)
	case entity.ModeCritique:
		return pub.Publish(ctx, runtime.TopicCritic, entity.NewCritiqueRequest(req.RunID, draft, req.Mode))
	default:
		metrics.IncError("generator", "invalid_mode")
		return fmt.Errorf("%w: %d", entity.ErrInvalidMode, req.Mode)
	}
}
