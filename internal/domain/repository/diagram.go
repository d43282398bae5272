package repository

import (
	"context"
	"time"
)

// Renderer turns PlantUML source into PNG bytes.
type Renderer interface {
	Render(ctx context.Context, source string) ([]byte, error)
	Name() string
}

// DiagramStore owns the shared output directory.
type DiagramStore interface {
	// SaveImage writes a PNG and returns its path. nameHint may be empty.
	SaveImage(ctx context.Context, nameHint string, data []byte) (string, error)
	// URL maps a stored path to the public URL it is served under.
	URL(path string) string
	Recent(ctx context.Context, limit int) ([]StoredImage, error)
	Remove(ctx context.Context, paths ...string) error
}

type StoredImage struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
