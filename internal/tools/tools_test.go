package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umlgen/internal/domain/entity"
	"umlgen/internal/infrastructure/store/filesystem"
	"umlgen/internal/logging"
)

var fakePNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 'i', 'm', 'g'}

type fakeRenderer struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeRenderer) Name() string { return "fake" }

func (f *fakeRenderer) Render(_ context.Context, source string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	if f.err != nil {
		return nil, f.err
	}
	return fakePNG, nil
}

type echoTool struct{ name string }

func (e echoTool) Definition() entity.ToolDefinition {
	return entity.ToolDefinition{Name: e.name, Parameters: map[string]any{"type": "object"}}
}

func (e echoTool) Run(_ context.Context, args json.RawMessage) (Result, error) {
	return Result{Content: string(args)}, nil
}

func newRenderTool(t *testing.T, r *fakeRenderer) (*RenderTool, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := filesystem.NewDiagramStore(dir, "/diagrams", filesystem.NamingUnique)
	require.NoError(t, err)
	tool, err := NewRenderTool(r, store, logging.Discard())
	require.NoError(t, err)
	return tool, dir
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(echoTool{name: "b"}, echoTool{name: "a"})
	require.NoError(t, err)

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "b", defs[1].Name)

	assert.ErrorIs(t, reg.Register(echoTool{name: "a"}), ErrToolExists)
	assert.Error(t, reg.Register(echoTool{}))

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)

	tool, err := reg.Get("a")
	require.NoError(t, err)
	res, err := tool.Run(context.Background(), json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, res.Content)
}

func TestArgumentSchema_Validate(t *testing.T) {
	tool, _ := newRenderTool(t, &fakeRenderer{})
	schema, err := CompileArgumentSchema("render", tool.Definition().Parameters)
	require.NoError(t, err)

	assert.NoError(t, schema.Validate(json.RawMessage(`{"uml_code":"@startuml\n@enduml"}`)))

	err = schema.Validate(nil)
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "uml_code")

	err = schema.Validate(json.RawMessage(`{"uml_code": 42}`))
	assert.ErrorIs(t, err, ErrInvalidParams)

	err = schema.Validate(json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRenderTool_Definition(t *testing.T) {
	tool, _ := newRenderTool(t, &fakeRenderer{})
	def := tool.Definition()
	assert.Equal(t, "render_plantuml", def.Name)
	assert.Equal(t, "Render the PlantUML code.", def.Description)
	assert.Equal(t, []any{"uml_code"}, def.Parameters["required"])
}

func TestRenderTool_Run(t *testing.T) {
	r := &fakeRenderer{}
	tool, dir := newRenderTool(t, r)

	args, _ := json.Marshal(map[string]string{
		"uml_code":  "Sure!\n@startuml\nclass Book\n@enduml\nanything after",
		"file_name": "run1_base_1",
	})
	res, err := tool.Run(context.Background(), args)
	require.NoError(t, err)

	want := filepath.Join(dir, "run1_base_1.png")
	assert.Equal(t, want, res.Content)
	assert.Equal(t, []string{want}, res.Artifacts)
	assert.Equal(t, []string{"@startuml\nclass Book\n@enduml"}, r.sources)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
}

func TestRenderTool_NoBlock(t *testing.T) {
	r := &fakeRenderer{}
	tool, dir := newRenderTool(t, r)

	res, err := tool.Run(context.Background(), json.RawMessage(`{"uml_code":"class Book"}`))
	require.NoError(t, err)
	assert.Empty(t, res.Content)
	assert.Empty(t, res.Artifacts)
	assert.Empty(t, r.sources)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenderTool_Errors(t *testing.T) {
	t.Run("missing uml_code", func(t *testing.T) {
		tool, _ := newRenderTool(t, &fakeRenderer{})
		_, err := tool.Run(context.Background(), json.RawMessage(`{"file_name":"x"}`))
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("renderer failure", func(t *testing.T) {
		tool, dir := newRenderTool(t, &fakeRenderer{err: errors.New("server down")})
		_, err := tool.Run(context.Background(), json.RawMessage(`{"uml_code":"@startuml\nA\n@enduml"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server down")

		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})
}
