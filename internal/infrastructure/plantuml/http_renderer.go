package plantuml

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

const DefaultServerURL = "http://www.plantuml.com/plantuml"

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// HTTPRenderer renders through a PlantUML server: GET {server}/png/{encoded}.
type HTTPRenderer struct {
	serverURL string
	client    *http.Client
	logger    *slog.Logger
}

var _ repository.Renderer = (*HTTPRenderer)(nil)

func NewHTTPRenderer(serverURL string, timeout time.Duration, logger *slog.Logger) *HTTPRenderer {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &HTTPRenderer{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

func (r *HTTPRenderer) Name() string {
	return "http"
}

func (r *HTTPRenderer) Render(ctx context.Context, source string) ([]byte, error) {
	encoded, err := Encode(source)
	if err != nil {
		metrics.IncError("plantuml", "encode")
		return nil, fmt.Errorf("encode plantuml: %w", err)
	}

	url := r.serverURL + "/png/" + encoded
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.IncError("plantuml", "create_request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.IncError("plantuml", "http_do")
		return nil, fmt.Errorf("failed to reach plantuml server: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Warn("close body", "err", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncError("plantuml", "read_body")
		return nil, fmt.Errorf("read plantuml response: %w", err)
	}

	// The server answers syntax errors with 400 plus an error image; treat
	// both that and non-image payloads as failures.
	if resp.StatusCode != http.StatusOK {
		metrics.IncError("plantuml", fmt.Sprintf("api_error_%d", resp.StatusCode))
		detail := resp.Header.Get("X-PlantUML-Diagram-Error")
		return nil, fmt.Errorf("plantuml server error: %d %s", resp.StatusCode, detail)
	}
	if !bytes.HasPrefix(body, pngMagic) {
		metrics.IncError("plantuml", "not_png")
		return nil, fmt.Errorf("plantuml server returned %d bytes that are not a PNG", len(body))
	}

	return body, nil
}
