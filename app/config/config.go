package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server      HTTPServerConfig `mapstructure:"server"`
	LLM         LLMConfig        `mapstructure:"llm"`
	Renderer    RendererConfig   `mapstructure:"renderer"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Mongo       MongoConfig      `mapstructure:"mongo"`
	Worker      WorkerConfig     `mapstructure:"worker"`
	PromptsFile string           `mapstructure:"prompts_file"`
}

type HTTPServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

func (c HTTPServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	// CriticModel lets the critic run on a different model; empty means Model.
	CriticModel string        `mapstructure:"critic_model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RendererConfig struct {
	Backend   string        `mapstructure:"backend"`
	ServerURL string        `mapstructure:"server_url"`
	Command   string        `mapstructure:"command"`
	Naming    string        `mapstructure:"naming"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	URLPrefix   string `mapstructure:"url_prefix"`
	RunsBackend string `mapstructure:"runs_backend"`
	RunsDir     string `mapstructure:"runs_dir"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type WorkerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
}

const (
	RendererHTTP  = "http"
	RendererLocal = "local"

	RunsFilesystem = "filesystem"
	RunsMongo      = "mongo"
)

// Validate reports every setting the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required (UMLGEN_LLM_API_KEY or OPENAI_API_KEY)"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch strings.ToLower(c.Renderer.Backend) {
	case RendererHTTP:
		if c.Renderer.ServerURL == "" {
			errs = append(errs, errors.New("renderer.server_url is required for the http backend"))
		}
	case RendererLocal:
		if c.Renderer.Command == "" {
			errs = append(errs, errors.New("renderer.command is required for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown renderer.backend %q", c.Renderer.Backend))
	}

	if c.Storage.OutputDir == "" {
		errs = append(errs, errors.New("storage.output_dir is required"))
	}
	switch strings.ToLower(c.Storage.RunsBackend) {
	case RunsFilesystem:
		if c.Storage.RunsDir == "" {
			errs = append(errs, errors.New("storage.runs_dir is required for the filesystem runs backend"))
		}
	case RunsMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo.uri and mongo.database are required for the mongo runs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.runs_backend %q", c.Storage.RunsBackend))
	}

	return errors.Join(errs...)
}
