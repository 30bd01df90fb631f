// Package config loads modsmith settings from defaults, an optional config
// file, a .env file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"modsmith/internal/artifact/store"
	"modsmith/internal/faults"
	"modsmith/internal/llm"
	"modsmith/internal/logging"
	"modsmith/internal/sdk"
)

const EnvPrefix = "MODSMITH"

const (
	EngineContainer = "container"
	EngineMemory    = "memory"
)

type Config struct {
	LLM           LLMConfig           `mapstructure:"llm"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Examples      ExamplesConfig      `mapstructure:"examples"`
	Introspection IntrospectionConfig `mapstructure:"introspection"`
	Artifact      ArtifactConfig      `mapstructure:"artifact"`
	Log           LogConfig           `mapstructure:"log"`
}

type LLMConfig struct {
	Provider string  `mapstructure:"provider"`
	Model    string  `mapstructure:"model"`
	APIKey   string  `mapstructure:"apiKey"`
	RPS      float64 `mapstructure:"rps"`
	Burst    int     `mapstructure:"burst"`
	Retries  int     `mapstructure:"retries"`
}

type EngineConfig struct {
	Kind       string `mapstructure:"kind"`
	Version    string `mapstructure:"version"`
	Image      string `mapstructure:"image"`
	DockerHost string `mapstructure:"dockerHost"`
	// ReferencesDir replaces the built-in SDK snippets with
	// <dir>/<topic>/<sdk>.txt files.
	ReferencesDir string `mapstructure:"referencesDir"`
}

type ExamplesConfig struct {
	BaseLanguage string `mapstructure:"baseLanguage"`
}

type IntrospectionConfig struct {
	FilterToMainObject bool `mapstructure:"filterToMainObject"`
}

type ArtifactConfig struct {
	Dir         string         `mapstructure:"dir"`
	DatabaseURL string         `mapstructure:"databaseURL"`
	S3          S3Config       `mapstructure:"s3"`
	Cache       ArtifactCaches `mapstructure:"cache"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"useSSL"`
}

type ArtifactCaches struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Runs  int           `mapstructure:"runs"`
	Links int           `mapstructure:"links"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadOptions names the optional files to read.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

func defaults(v *viper.Viper) {
	v.SetDefault("llm.provider", llm.ProviderGemini)
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.rps", 1.0)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("llm.retries", 2)
	v.SetDefault("engine.kind", EngineContainer)
	v.SetDefault("engine.version", "v0.16.1")
	v.SetDefault("engine.image", "")
	v.SetDefault("engine.dockerHost", "")
	v.SetDefault("engine.referencesDir", "")
	v.SetDefault("examples.baseLanguage", sdk.Go)
	v.SetDefault("introspection.filterToMainObject", false)
	v.SetDefault("artifact.dir", ".modsmith/artifacts")
	v.SetDefault("artifact.databaseURL", "")
	v.SetDefault("artifact.s3.endpoint", "")
	v.SetDefault("artifact.s3.region", "us-east-1")
	v.SetDefault("artifact.s3.accessKey", "")
	v.SetDefault("artifact.s3.secretKey", "")
	v.SetDefault("artifact.s3.bucket", "modsmith-artifacts")
	v.SetDefault("artifact.s3.useSSL", true)
	v.SetDefault("artifact.cache.ttl", 10*time.Minute)
	v.SetDefault("artifact.cache.runs", 64)
	v.SetDefault("artifact.cache.links", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// legacyEnv maps keys to unprefixed variable names that are honoured after
// the MODSMITH_ ones.
var legacyEnv = map[string][]string{
	"artifact.s3.endpoint":  {"ARTIFACT_S3_ENDPOINT"},
	"artifact.s3.region":    {"ARTIFACT_S3_REGION"},
	"artifact.s3.accessKey": {"ARTIFACT_S3_ACCESS_KEY", "MINIO_ROOT_USER"},
	"artifact.s3.secretKey": {"ARTIFACT_S3_SECRET_KEY", "MINIO_ROOT_PASSWORD"},
	"artifact.s3.bucket":    {"ARTIFACT_S3_BUCKET"},
	"artifact.s3.useSSL":    {"ARTIFACT_S3_USE_SSL"},
	"artifact.databaseURL":  {"DATABASE_URL"},
}

var providerKeyEnv = map[string]string{
	llm.ProviderGemini: "GEMINI_API_KEY",
	llm.ProviderGroq:   "GROQ_API_KEY",
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, faults.Wrap(faults.Configuration, "config", "read "+opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, faults.Wrap(faults.Configuration, "config", "failed to parse config", err)
	}
	if cfg.LLM.APIKey == "" {
		if env, ok := providerKeyEnv[cfg.LLM.Provider]; ok {
			cfg.LLM.APIKey = strings.TrimSpace(os.Getenv(env))
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		// .env in the working directory is optional.
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.Wrap(faults.Configuration, "config", "env file not found: "+path, err)
		}
		return faults.Wrap(faults.Configuration, "config", "read env file "+path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return faults.New(faults.Configuration, "config", fmt.Sprintf(format, args...))
	}
	switch c.LLM.Provider {
	case llm.ProviderGemini, llm.ProviderGroq, llm.ProviderFake:
	default:
		return bad("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Engine.Kind {
	case EngineContainer, EngineMemory:
	default:
		return bad("unknown engine kind %q", c.Engine.Kind)
	}
	if !slices.Contains(sdk.ExampleLanguages, c.Examples.BaseLanguage) {
		return bad("examples base language %q is not one of %s", c.Examples.BaseLanguage, strings.Join(sdk.ExampleLanguages, ", "))
	}
	if c.LLM.RPS < 0 || c.LLM.Burst < 0 || c.LLM.Retries < 0 {
		return bad("llm rate settings must not be negative")
	}
	return nil
}

func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Provider: c.LLM.Provider,
		Model:    c.LLM.Model,
		APIKey:   c.LLM.APIKey,
		RPS:      c.LLM.RPS,
		Burst:    c.LLM.Burst,
		Retries:  c.LLM.Retries,
	}
}

func (c *Config) StoreOptions() store.Options {
	a := c.Artifact
	return store.Options{
		Dir:         a.Dir,
		DatabaseURL: a.DatabaseURL,
		S3: store.S3Config{
			Endpoint:  a.S3.Endpoint,
			Region:    a.S3.Region,
			AccessKey: a.S3.AccessKey,
			SecretKey: a.S3.SecretKey,
			Bucket:    a.S3.Bucket,
			UseSSL:    a.S3.UseSSL,
		},
		Cache: store.CacheConfig{
			TTL:      a.Cache.TTL,
			MaxRuns:  a.Cache.Runs,
			MaxLinks: a.Cache.Links,
		},
	}
}

func (c *Config) LogConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Development: c.Log.Development}
}
