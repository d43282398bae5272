package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umlgen/app/config"
	"umlgen/internal/domain/entity"
	"umlgen/internal/logging"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "WARN")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud")
	assert.Error(t, err)
}

func TestNewRenderer(t *testing.T) {
	r, err := newRenderer(config.RendererConfig{Backend: "http", ServerURL: "http://plantuml"}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "http", r.Name())

	r, err = newRenderer(config.RendererConfig{Backend: "LOCAL", Command: "plantuml"}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "local", r.Name())

	_, err = newRenderer(config.RendererConfig{Backend: "local"}, logging.Discard())
	assert.Error(t, err)
}

func TestNewModels(t *testing.T) {
	models, err := newModels(config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Same(t, models.Generator, models.Critic)
	assert.Equal(t, "openai/gpt-4o", models.Generator.Name())

	models, err = newModels(config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o", CriticModel: "o3"})
	require.NoError(t, err)
	assert.Equal(t, "openai/o3", models.Critic.Name())
	assert.Equal(t, "openai/gpt-4o", models.Renderer.Name())

	_, err = newModels(config.LLMConfig{Provider: "cohere", APIKey: "k"})
	assert.ErrorContains(t, err, "unknown llm provider")
}

func TestPrintRun(t *testing.T) {
	run := entity.NewRun("Library management system", entity.ModeCritique)
	run.Diagrams = []entity.RenderedDiagram{
		{Label: entity.LabelBase, Path: "diagrams/a.png", URL: "/diagrams/a.png"},
		{Label: entity.LabelEnhanced},
	}

	var buf bytes.Buffer
	require.NoError(t, printRun(&buf, run, false))
	assert.Contains(t, buf.String(), run.ID)
	assert.Contains(t, buf.String(), "diagrams/a.png")
	assert.Contains(t, buf.String(), "(not rendered)")

	buf.Reset()
	require.NoError(t, printRun(&buf, run, true))
	var decoded entity.Run
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, run.ID, decoded.ID)
	assert.Len(t, decoded.Diagrams, 2)
}

func TestGenerateCmd_Validation(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("UMLGEN_LLM_API_KEY", "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no requirement", args: []string{"generate"}, wantErr: "requires at least 1 arg"},
		{name: "bad mode", args: []string{"generate", "--mode", "5", "Library"}, wantErr: "invalid mode"},
		{name: "missing api key", args: []string{"generate", "Library"}, wantErr: "llm.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)
			err := cmd.Execute()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
