package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"umlgen/internal/domain/entity"
)

// LoadPrompts reads persona overrides from a YAML file:
//
//	generator:
//	  text: You are a software architect...
//	critic:
//	  text: ...
//
// Agents missing from the file keep their built-in persona. An empty path
// returns the built-in set.
func LoadPrompts(path string) (entity.PromptSet, error) {
	defaults := entity.DefaultPrompts()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return entity.PromptSet{}, fmt.Errorf("read prompts file: %w", err)
	}

	var set entity.PromptSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return entity.PromptSet{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}

	set = set.Merge(defaults)
	fillID(&set.Generator, defaults.Generator.ID)
	fillID(&set.Critic, defaults.Critic.ID)
	fillID(&set.Renderer, defaults.Renderer.ID)
	return set, nil
}

func fillID(p *entity.Prompt, id string) {
	if p.ID == "" {
		p.ID = id
	}
}
