package plantuml

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

// LocalRenderer pipes the diagram through a local plantuml executable
// (`plantuml -tpng -pipe`) instead of a remote server.
type LocalRenderer struct {
	command []string
	timeout time.Duration
}

var _ repository.Renderer = (*LocalRenderer)(nil)

// NewLocalRenderer takes the command line to start, e.g. "plantuml" or
// "java -jar /opt/plantuml.jar". The -tpng -pipe flags are appended.
func NewLocalRenderer(command string, timeout time.Duration) (*LocalRenderer, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("plantuml command is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LocalRenderer{
		command: append(parts, "-tpng", "-pipe"),
		timeout: timeout,
	}, nil
}

func (r *LocalRenderer) Name() string {
	return "local"
}

func (r *LocalRenderer) Render(parent context.Context, source string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		metrics.IncError("plantuml", "exec_start")
		return nil, fmt.Errorf("start %s: %w", r.command[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		metrics.IncError("plantuml", "exec_timeout")
		return nil, fmt.Errorf("plantuml canceled or timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			metrics.IncError("plantuml", "exec_failed")
			return nil, fmt.Errorf("plantuml failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	}

	if !bytes.HasPrefix(stdout.Bytes(), pngMagic) {
		metrics.IncError("plantuml", "not_png")
		return nil, fmt.Errorf("plantuml produced %d bytes that are not a PNG", stdout.Len())
	}
	return stdout.Bytes(), nil
}
