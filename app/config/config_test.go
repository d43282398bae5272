package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umlgen/internal/domain/entity"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("UMLGEN_LLM_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, RendererHTTP, cfg.Renderer.Backend)
	assert.Equal(t, "unique", cfg.Renderer.Naming)
	assert.Equal(t, "./diagrams", cfg.Storage.OutputDir)
	assert.Equal(t, RunsFilesystem, cfg.Storage.RunsBackend)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)

	// no key configured
	assert.ErrorContains(t, cfg.Validate(), "llm.api_key")
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("UMLGEN_SERVER_PORT", "9090")
	t.Setenv("UMLGEN_LLM_PROVIDER", "anthropic")
	t.Setenv("UMLGEN_RENDERER_TIMEOUT", "15s")
	t.Setenv("UMLGEN_SERVER_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-legacy", cfg.LLM.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 15*time.Second, cfg.Renderer.Timeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.NoError(t, cfg.Validate())

	t.Setenv("UMLGEN_LLM_API_KEY", "sk-prefixed")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.LLM.APIKey)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("UMLGEN_LLM_API_KEY", "")
	t.Setenv("UMLGEN_LLM_MODEL", "gpt-4.1")

	path := writeFile(t, "umlgen.yaml", `
llm:
  api_key: from-file
  model: gpt-4o-mini
  critic_model: o3
renderer:
  backend: local
  command: /usr/bin/plantuml
storage:
  runs_backend: mongo
mongo:
  uri: mongodb://mongo:27017
worker:
  poll_interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	// env wins over the file
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, "o3", cfg.LLM.CriticModel)
	assert.Equal(t, RendererLocal, cfg.Renderer.Backend)
	assert.Equal(t, "/usr/bin/plantuml", cfg.Renderer.Command)
	assert.Equal(t, RunsMongo, cfg.Storage.RunsBackend)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, "umlgen", cfg.Mongo.Database)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   HTTPServerConfig{Port: 8000},
			LLM:      LLMConfig{APIKey: "k"},
			Renderer: RendererConfig{Backend: RendererHTTP, ServerURL: "http://plantuml"},
			Storage:  StorageConfig{OutputDir: "d", RunsBackend: RunsFilesystem, RunsDir: "r"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "unknown renderer", mutate: func(c *Config) { c.Renderer.Backend = "svg" }, wantErr: "renderer.backend"},
		{name: "local without command", mutate: func(c *Config) {
			c.Renderer.Backend = RendererLocal
		}, wantErr: "renderer.command"},
		{name: "mongo without uri", mutate: func(c *Config) {
			c.Storage.RunsBackend = RunsMongo
		}, wantErr: "mongo.uri"},
		{name: "unknown runs backend", mutate: func(c *Config) { c.Storage.RunsBackend = "redis" }, wantErr: "runs_backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadPrompts(t *testing.T) {
	set, err := LoadPrompts("")
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultPrompts(), set)

	path := writeFile(t, "prompts.yaml", `
critic:
  text: You review class diagrams.
`)
	set, err = LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "You review class diagrams.", set.Critic.Text)
	assert.Equal(t, entity.CriticPrompt.ID, set.Critic.ID)
	assert.Equal(t, entity.GeneratorPrompt, set.Generator)
	assert.Equal(t, entity.RendererPrompt, set.Renderer)

	_, err = LoadPrompts(writeFile(t, "broken.yaml", "critic: [unclosed"))
	assert.ErrorContains(t, err, "parse prompts file")

	_, err = LoadPrompts(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}
