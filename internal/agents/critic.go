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

// Critic reviews a draft diagram and hands both the draft and its enhanced
// version to the renderer.
type Critic struct {
	model  repository.ChatModel
	prompt entity.Prompt
	logger *slog.Logger
}

var _ runtime.Handler = (*Critic)(nil)

func NewCritic(model repository.ChatModel, prompt entity.Prompt, logger *slog.Logger) *Critic {
	return &Critic{
		model:  model,
		prompt: prompt,
		logger: logger.With("component", "critic"),
	}
}

func (c *Critic) Handle(ctx context.Context, msg runtime.Envelope, pub runtime.Publisher) error {
	req, ok := msg.Payload.(entity.CritiqueRequest)
	if !ok {
		metrics.IncError("critic", "unexpected_payload")
		return runtime.UnexpectedPayload(msg.Topic, msg.Payload)
	}

	c.logger.InfoContext(ctx, "reviewing draft", "model", c.model.Name(), "draft_bytes", len(req.Base.Source))

	resp, err := c.model.Complete(ctx, &entity.ChatRequest{
		Messages: []entity.ChatMessage{
			entity.SystemMessage(c.prompt.Text),
			entity.UserMessage(entity.CriticUserTurn(req.Base.Source)),
		},
	})
	if err != nil {
		metrics.IncError("critic", "model_call")
		return fmt.Errorf("critic model call: %w", err)
	}

	base := req.Base
	base.Label = entity.LabelBase
	next, err := entity.NewRenderRequest(req.RunID,
		base,
		entity.Diagram{Label: entity.LabelEnhanced, Source: resp.Content},
	)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, runtime.TopicRenderer, next)
}
