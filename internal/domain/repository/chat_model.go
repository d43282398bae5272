package repository

import (
	"context"

	"umlgen/internal/domain/entity"
)

// ChatModel is a hosted language model reachable through one request/response call.
type ChatModel interface {
	Complete(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error)
	Name() string
}
