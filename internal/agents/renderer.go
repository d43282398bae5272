package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
	"umlgen/internal/logging"
	"umlgen/internal/runtime"
	"umlgen/internal/streaming"
	"umlgen/internal/tools"
)

const toolNotFound = "Error: Tool not found."

// Renderer lets the model call the render tools for every diagram of a
// RenderRequest and publishes what was produced on the result topic.
type Renderer struct {
	model    repository.ChatModel
	registry *tools.Registry
	prompt   entity.Prompt
	hub      streaming.EventHub
	logger   *slog.Logger
	now      func() time.Time
}

var _ runtime.Handler = (*Renderer)(nil)

func NewRenderer(model repository.ChatModel, registry *tools.Registry, prompt entity.Prompt, hub streaming.EventHub, logger *slog.Logger) *Renderer {
	if hub == nil {
		hub = streaming.Nop{}
	}
	return &Renderer{
		model:    model,
		registry: registry,
		prompt:   prompt,
		hub:      hub,
		logger:   logger.With("component", "renderer"),
		now:      time.Now,
	}
}

func (r *Renderer) Handle(ctx context.Context, msg runtime.Envelope, pub runtime.Publisher) error {
	req, ok := msg.Payload.(entity.RenderRequest)
	if !ok {
		metrics.IncError("renderer", "unexpected_payload")
		return runtime.UnexpectedPayload(msg.Topic, msg.Payload)
	}

	result := entity.RenderResult{RunID: req.RunID}
	var texts []string
	for _, d := range req.Diagrams {
		rendered, err := r.render(ctx, req.RunID, d)
		if err != nil {
			return err
		}
		result.Diagrams = append(result.Diagrams, rendered)
		if rendered.Response != "" {
			texts = append(texts, rendered.Response)
		}
	}
	result.Summary = strings.Join(texts, "\n\n")

	return pub.Publish(ctx, runtime.TopicResult, result)
}

func (r *Renderer) render(ctx context.Context, runID string, d entity.Diagram) (entity.RenderedDiagram, error) {
	out := entity.RenderedDiagram{Label: d.Label, Source: d.Source}
	logger := r.logger.With("label", string(d.Label))

	messages := []entity.ChatMessage{
		entity.SystemMessage(r.prompt.Text),
		entity.UserMessage(d.Source),
	}
	resp, err := r.model.Complete(ctx, &entity.ChatRequest{
		Messages: messages,
		Tools:    r.registry.Definitions(),
	})
	if err != nil {
		metrics.IncError("renderer", "model_call")
		return out, fmt.Errorf("renderer model call for %s diagram: %w", d.Label, err)
	}

	if !resp.HasToolCalls() {
		logger.WarnContext(ctx, "model answered without calling a tool")
		out.Response = resp.Content
		return out, nil
	}

	messages = append(messages, entity.AssistantMessage(resp.Content, resp.ToolCalls))
	fileName := fmt.Sprintf("%s_%s_%s", runID, d.Label, r.now().UTC().Format("20060102T150405"))

	results := r.executeToolCalls(ctx, resp.ToolCalls, fileName)

	var toolErrors []string
	for _, res := range results {
		messages = append(messages, entity.ToolResultMessage(res))
		if res.IsError {
			toolErrors = append(toolErrors, res.Content)
		}
		if out.Path == "" && len(res.Artifacts) > 0 {
			out.Path = res.Artifacts[0]
		}
	}
	out.Error = strings.Join(toolErrors, "; ")

	followUp, err := r.model.Complete(ctx, &entity.ChatRequest{Messages: messages})
	if err != nil {
		metrics.IncError("renderer", "model_follow_up")
		return out, fmt.Errorf("renderer follow-up call for %s diagram: %w", d.Label, err)
	}
	out.Response = followUp.Content

	logger.InfoContext(ctx, "diagram handled", "path", out.Path, "tool_calls", len(results))
	return out, nil
}

// executeToolCalls runs every call concurrently. Results keep the order of calls.
func (r *Renderer) executeToolCalls(ctx context.Context, calls []entity.ToolCall, fileName string) []entity.ToolResult {
	results := make([]entity.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.executeToolCall(gctx, call, fileName)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// executeToolCall never fails: lookup and execution errors are reported back
// to the model as error-tagged results.
func (r *Renderer) executeToolCall(ctx context.Context, call entity.ToolCall, fileName string) (res entity.ToolResult) {
	res = entity.ToolResult{CallID: call.ID, Name: call.Name}
	defer func() {
		_ = r.hub.Publish(context.WithoutCancel(ctx), streaming.Event{
			RunID:     logging.RunID(ctx),
			Topic:     string(runtime.TopicRenderer),
			EventType: streaming.EventToolExecuted,
			Payload:   res,
			At:        time.Now().UTC(),
		})
	}()
	defer func() {
		if p := recover(); p != nil {
			metrics.IncToolCall(call.Name, "panic")
			r.logger.ErrorContext(ctx, "tool panicked", "tool", call.Name, "panic", p)
			res = entity.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("tool %s panicked: %v", call.Name, p),
				IsError: true,
			}
		}
	}()

	tool, err := r.registry.Get(call.Name)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			metrics.IncToolCall(call.Name, "not_found")
			r.logger.WarnContext(ctx, "model called unknown tool", "tool", call.Name)
			res.Content = toolNotFound
			res.IsError = true
			return res
		}
		metrics.IncToolCall(call.Name, "error")
		res.Content = err.Error()
		res.IsError = true
		return res
	}

	out, err := tool.Run(ctx, withFileName(call.Arguments, fileName))
	if err != nil {
		metrics.IncToolCall(call.Name, "error")
		r.logger.WarnContext(ctx, "tool failed", "tool", call.Name, "err", err)
		res.Content = err.Error()
		res.IsError = true
		return res
	}

	metrics.IncToolCall(call.Name, "ok")
	res.Content = out.Content
	res.Artifacts = out.Artifacts
	return res
}

// withFileName sets file_name on a JSON object argument so images of one run
// never share a name. Arguments that are not an object pass through unchanged.
func withFileName(arguments, fileName string) json.RawMessage {
	raw := json.RawMessage(arguments)
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return raw
	}
	args["file_name"] = fileName
	patched, err := json.Marshal(args)
	if err != nil {
		return raw
	}
	return patched
}
