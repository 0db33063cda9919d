package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultPath = "config.toml"

// Architectures supported by the inference engine.
var Architectures = []string{"llama", "gptneox", "gptj", "gpt2", "bloom", "mpt"}

const alpacaPrompt = "Below is an instruction that describes a task. " +
	"Write a response that appropriately completes the request.\n\n" +
	"### Instruction:\n\n{{PROMPT}}\n\n### Response:\n\n"

type AuthenticationConfig struct {
	DiscordToken string
	ClientID     string
}

type ModelConfig struct {
	Path               string
	ContextTokenLength int
	Architecture       string
	PreferMmap         bool
	UseGPU             bool
	// GPULayers is the number of layers to offload when UseGPU is on.
	// Zero offloads everything.
	GPULayers int
}

type InferenceConfig struct {
	ThreadCount     int
	MaxTokens       int
	Temperature     float64
	TopK            int
	TopP            float64
	ReplaceNewlines bool
}

// CommandConfig describes one chat command and its prompt template.
// The template's {{PROMPT}} placeholder is replaced with the user's text.
type CommandConfig struct {
	Enabled     bool
	Description string
	Prompt      string
}

type UsageConfig struct {
	DBPath string
}

type Config struct {
	Authentication AuthenticationConfig
	Model          ModelConfig
	Inference      InferenceConfig
	Commands       map[string]CommandConfig
	Usage          UsageConfig
	LogLevel       zapcore.Level
}

var Data *Config = nil

// Init loads the config file at path into the package global and sets up
// the global logger. Any load error is fatal.
func Init(path string) {
	cfg, err := Load(path)
	if err != nil {
		Data = &Config{LogLevel: zapcore.DebugLevel}
		InitLogger()
		zap.L().Fatal("error reading config file", zap.Error(err))
	}

	Data = cfg
	InitLogger()
	zap.L().Debug("config loaded", zap.String("path", path))
}

// Load parses and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	def := Default()
	v.SetDefault("model.context_token_length", def.Model.ContextTokenLength)
	v.SetDefault("model.architecture", def.Model.Architecture)
	v.SetDefault("model.prefer_mmap", def.Model.PreferMmap)
	v.SetDefault("model.use_gpu", def.Model.UseGPU)
	v.SetDefault("model.gpu_layers", def.Model.GPULayers)
	v.SetDefault("inference.thread_count", def.Inference.ThreadCount)
	v.SetDefault("inference.max_tokens", def.Inference.MaxTokens)
	v.SetDefault("inference.temperature", def.Inference.Temperature)
	v.SetDefault("inference.top_k", def.Inference.TopK)
	v.SetDefault("inference.top_p", def.Inference.TopP)
	v.SetDefault("inference.replace_newlines", def.Inference.ReplaceNewlines)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		Authentication: AuthenticationConfig{
			DiscordToken: v.GetString("authentication.discord_token"),
			ClientID:     v.GetString("authentication.client_id"),
		},
		Model: ModelConfig{
			Path:               v.GetString("model.path"),
			ContextTokenLength: v.GetInt("model.context_token_length"),
			Architecture:       v.GetString("model.architecture"),
			PreferMmap:         v.GetBool("model.prefer_mmap"),
			UseGPU:             v.GetBool("model.use_gpu"),
			GPULayers:          v.GetInt("model.gpu_layers"),
		},
		Inference: InferenceConfig{
			ThreadCount:     v.GetInt("inference.thread_count"),
			MaxTokens:       v.GetInt("inference.max_tokens"),
			Temperature:     v.GetFloat64("inference.temperature"),
			TopK:            v.GetInt("inference.top_k"),
			TopP:            v.GetFloat64("inference.top_p"),
			ReplaceNewlines: v.GetBool("inference.replace_newlines"),
		},
		Usage: UsageConfig{
			DBPath: v.GetString("usage.db_path"),
		},
		Commands: def.Commands,
	}

	for name := range v.GetStringMap("commands") {
		key := "commands." + name

		command, known := cfg.Commands[name]
		if !known {
			command = CommandConfig{Enabled: true}
		}
		if v.IsSet(key + ".enabled") {
			command.Enabled = v.GetBool(key + ".enabled")
		}
		if v.IsSet(key + ".description") {
			command.Description = v.GetString(key + ".description")
		}
		if v.IsSet(key + ".prompt") {
			command.Prompt = v.GetString(key + ".prompt")
		}
		cfg.Commands[name] = command
	}

	switch v.GetString("log_level") {
	case "debug":
		cfg.LogLevel = zapcore.DebugLevel
	case "info":
		cfg.LogLevel = zapcore.InfoLevel
	case "warn":
		cfg.LogLevel = zapcore.WarnLevel
	case "error":
		cfg.LogLevel = zapcore.ErrorLevel
	default:
		cfg.LogLevel = zapcore.InfoLevel
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Authentication.DiscordToken == "" {
		return fmt.Errorf("authentication.discord_token is required")
	}
	if c.Authentication.ClientID == "" {
		return fmt.Errorf("authentication.client_id is required")
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if c.Model.ContextTokenLength <= 0 {
		return fmt.Errorf("model.context_token_length must be positive, got %d", c.Model.ContextTokenLength)
	}

	arch := strings.ToLower(c.Model.Architecture)
	valid := false
	for _, known := range Architectures {
		if arch == known {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("model.architecture must be one of %s, got %q",
			strings.Join(Architectures, ", "), c.Model.Architecture)
	}
	c.Model.Architecture = arch

	for name, command := range c.Commands {
		if command.Enabled && !strings.Contains(command.Prompt, "{{PROMPT}}") {
			return fmt.Errorf("commands.%s.prompt must contain the {{PROMPT}} placeholder", name)
		}
	}

	return nil
}

// Default returns the built-in configuration: a llama model with a 2048
// token context and the two stock commands.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Path:               "models/llama-2-7b-chat.ggmlv3.q2_K.bin",
			ContextTokenLength: 2048,
			Architecture:       "llama",
			PreferMmap:         true,
			UseGPU:             true,
		},
		Inference: InferenceConfig{
			ThreadCount:     8,
			Temperature:     0.8,
			TopK:            40,
			TopP:            0.95,
			ReplaceNewlines: true,
		},
		Commands: map[string]CommandConfig{
			"hallucinate": {
				Enabled:     true,
				Description: "Hallucinates some text.",
				Prompt:      "{{PROMPT}}",
			},
			"alpaca": {
				Enabled:     true,
				Description: "Responds to the provided instruction.",
				Prompt:      alpacaPrompt,
			},
		},
		LogLevel: zapcore.InfoLevel,
	}
}

// WriteDefault writes the default configuration as a TOML file. The
// authentication section is emitted empty and has to be filled in by hand.
func WriteDefault(path string) error {
	def := Default()

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("log_level", "info")
	v.Set("authentication.discord_token", "")
	v.Set("authentication.client_id", "")
	v.Set("model.path", def.Model.Path)
	v.Set("model.context_token_length", def.Model.ContextTokenLength)
	v.Set("model.architecture", def.Model.Architecture)
	v.Set("model.prefer_mmap", def.Model.PreferMmap)
	v.Set("model.use_gpu", def.Model.UseGPU)
	v.Set("model.gpu_layers", def.Model.GPULayers)
	v.Set("inference.thread_count", def.Inference.ThreadCount)
	v.Set("inference.max_tokens", def.Inference.MaxTokens)
	v.Set("inference.temperature", def.Inference.Temperature)
	v.Set("inference.top_k", def.Inference.TopK)
	v.Set("inference.top_p", def.Inference.TopP)
	v.Set("inference.replace_newlines", def.Inference.ReplaceNewlines)

	for name, command := range def.Commands {
		v.Set("commands."+name+".enabled", command.Enabled)
		v.Set("commands."+name+".description", command.Description)
		v.Set("commands."+name+".prompt", command.Prompt)
	}

	return v.WriteConfigAs(path)
}

func InitLogger() {
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(Data.LogLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := zapConfig.Build()
	defer zap.ReplaceGlobals(logger)
}
