package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

// Naming decides how image files are named inside the output directory.
type Naming string

const (
	// NamingUnique names every image after its hint, or a uuid when there is none.
	NamingUnique Naming = "unique"
	// NamingFixed writes every image to FixedFileName. Concurrent runs overwrite each other.
	NamingFixed Naming = "fixed"
)

const FixedFileName = "uml_diagram.png"

func ParseNaming(s string) (Naming, error) {
	switch Naming(strings.ToLower(strings.TrimSpace(s))) {
	case "", NamingUnique:
		return NamingUnique, nil
	case NamingFixed:
		return NamingFixed, nil
	default:
		return "", fmt.Errorf("unknown naming strategy %q", s)
	}
}

// DiagramStore keeps rendered PNGs in one shared directory.
type DiagramStore struct {
	baseDir   string
	urlPrefix string
	naming    Naming

	mu sync.Mutex
}

var _ repository.DiagramStore = (*DiagramStore)(nil)

func NewDiagramStore(baseDir, urlPrefix string, naming Naming) (*DiagramStore, error) {
	if err := ensureDir(baseDir); err != nil {
		return nil, err
	}
	if naming == "" {
		naming = NamingUnique
	}
	if urlPrefix == "" {
		urlPrefix = "/diagrams"
	}
	return &DiagramStore{
		baseDir:   baseDir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		naming:    naming,
	}, nil
}

func (s *DiagramStore) BaseDir() string {
	return s.baseDir
}

func (s *DiagramStore) SaveImage(ctx context.Context, nameHint string, data []byte) (string, error) {
	metrics.IncStoreOp("filesystem", "save")

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.naming == NamingFixed {
		p := filepath.Join(s.baseDir, FixedFileName)
		if err := os.WriteFile(p, data, 0644); err != nil {
			metrics.IncError("filesystem_store", "write_error")
			return "", fmt.Errorf("failed to write image %s: %w", p, err)
		}
		return p, nil
	}

	name := sanitizeName(nameHint)
	if name == "" {
		name = uuid.NewString()
	}

	p := filepath.Join(s.baseDir, name+".png")
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		p = filepath.Join(s.baseDir, name+"-"+uuid.NewString()[:8]+".png")
		f, err = os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		metrics.IncError("filesystem_store", "create_error")
		return "", fmt.Errorf("failed to create image %s: %w", p, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		metrics.IncError("filesystem_store", "write_error")
		return "", fmt.Errorf("failed to write image %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		metrics.IncError("filesystem_store", "write_error")
		return "", fmt.Errorf("failed to close image %s: %w", p, err)
	}
	return p, nil
}

// URL maps a stored file to the path it is served under by the static mount.
func (s *DiagramStore) URL(p string) string {
	if p == "" {
		return ""
	}
	rel, err := filepath.Rel(s.baseDir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(p)
	}
	return path.Join(s.urlPrefix, filepath.ToSlash(rel))
}

// Recent lists PNG files newest first. limit <= 0 means no limit.
func (s *DiagramStore) Recent(ctx context.Context, limit int) ([]repository.StoredImage, error) {
	metrics.IncStoreOp("filesystem", "list")

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		metrics.IncError("filesystem_store", "list_error")
		return nil, fmt.Errorf("failed to read directory %s: %w", s.baseDir, err)
	}

	images := make([]repository.StoredImage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		p := filepath.Join(s.baseDir, e.Name())
		images = append(images, repository.StoredImage{
			Name:      e.Name(),
			Path:      p,
			URL:       s.URL(p),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].CreatedAt.After(images[j].CreatedAt)
	})
	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	return images, nil
}

// Remove deletes the given images. Paths outside the store are refused and
// missing files are ignored.
func (s *DiagramStore) Remove(ctx context.Context, paths ...string) error {
	metrics.IncStoreOp("filesystem", "delete")

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			errs = append(errs, fmt.Errorf("path %s is outside %s", p, s.baseDir))
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to delete image %s: %w", p, err))
		}
	}
	if len(errs) > 0 {
		metrics.IncError("filesystem_store", "delete_error")
	}
	return errors.Join(errs...)
}

func sanitizeName(hint string) string {
	hint = strings.TrimSuffix(strings.TrimSpace(filepath.Base(hint)), ".png")
	if hint == "." || hint == string(filepath.Separator) {
		return ""
	}
	var sb strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return strings.Trim(sb.String(), ".")
}
