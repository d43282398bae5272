package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "umlgen"
	configType = "yaml"
	envPrefix  = "UMLGEN"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Minute)
	v.SetDefault("server.write_timeout", 30*time.Minute)
	v.SetDefault("server.metrics_addr", ":2112")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.critic_model", "")
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("renderer.backend", RendererHTTP)
	v.SetDefault("renderer.server_url", "https://www.plantuml.com/plantuml")
	v.SetDefault("renderer.command", "plantuml")
	v.SetDefault("renderer.naming", "unique")
	v.SetDefault("renderer.timeout", time.Minute)

	v.SetDefault("storage.output_dir", "./diagrams")
	v.SetDefault("storage.url_prefix", "/diagrams")
	v.SetDefault("storage.runs_backend", RunsFilesystem)
	v.SetDefault("storage.runs_dir", "./runs")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "umlgen")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.run_timeout", 10*time.Minute)

	v.SetDefault("prompts_file", "")
}

// Load reads defaults, an optional config file and the environment, in that
// order of precedence from lowest to highest. An explicit file must exist;
// without one umlgen.yaml is looked up in the working directory and
// /etc/umlgen.
func Load(file string) (*Config, error) {
	return load(viper.New(), file)
}

func load(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", envPrefix+"_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/umlgen")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
