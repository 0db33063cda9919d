package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
log_level = "debug"

[authentication]
discord_token = "token-123"
client_id = "9876"

[model]
path = "/models/llama-7b.gguf"
context_token_length = 4096
architecture = "llama"
prefer_mmap = false
use_gpu = true
gpu_layers = 20

[inference]
thread_count = 4
max_tokens = 256
temperature = 0.7
replace_newlines = false
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "token-123", cfg.Authentication.DiscordToken)
	assert.Equal(t, "9876", cfg.Authentication.ClientID)
	assert.Equal(t, "/models/llama-7b.gguf", cfg.Model.Path)
	assert.Equal(t, 4096, cfg.Model.ContextTokenLength)
	assert.Equal(t, "llama", cfg.Model.Architecture)
	assert.False(t, cfg.Model.PreferMmap)
	assert.True(t, cfg.Model.UseGPU)
	assert.Equal(t, 20, cfg.Model.GPULayers)
	assert.Equal(t, 4, cfg.Inference.ThreadCount)
	assert.Equal(t, 256, cfg.Inference.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Inference.Temperature, 1e-9)
	assert.False(t, cfg.Inference.ReplaceNewlines)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[authentication]
discord_token = "t"
client_id = "c"

[model]
path = "/models/m.bin"
`))
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Model.ContextTokenLength)
	assert.Equal(t, "llama", cfg.Model.Architecture)
	assert.True(t, cfg.Model.PreferMmap)
	assert.Equal(t, 8, cfg.Inference.ThreadCount)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)

	require.Contains(t, cfg.Commands, "hallucinate")
	require.Contains(t, cfg.Commands, "alpaca")
	assert.Equal(t, "{{PROMPT}}", cfg.Commands["hallucinate"].Prompt)
	assert.Contains(t, cfg.Commands["alpaca"].Prompt, "### Instruction:")
	assert.Contains(t, cfg.Commands["alpaca"].Prompt, "{{PROMPT}}")
}

func TestLoadCommandOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[authentication]
discord_token = "t"
client_id = "c"

[model]
path = "/models/m.bin"

[commands.alpaca]
enabled = false

[commands.pirate]
description = "Answers like a pirate."
prompt = "Answer like a pirate: {{PROMPT}}"
`))
	require.NoError(t, err)

	assert.False(t, cfg.Commands["alpaca"].Enabled)
	assert.True(t, cfg.Commands["hallucinate"].Enabled)
	require.Contains(t, cfg.Commands, "pirate")
	assert.True(t, cfg.Commands["pirate"].Enabled)
	assert.Equal(t, "Answer like a pirate: {{PROMPT}}", cfg.Commands["pirate"].Prompt)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, "[model\npath ="))
	assert.Error(t, err)
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no token", "[authentication]\nclient_id = \"c\"\n[model]\npath = \"/m.bin\"\n"},
		{"no client id", "[authentication]\ndiscord_token = \"t\"\n[model]\npath = \"/m.bin\"\n"},
		{"no model path", "[authentication]\ndiscord_token = \"t\"\nclient_id = \"c\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadBadArchitecture(t *testing.T) {
	_, err := Load(writeConfig(t, `
[authentication]
discord_token = "t"
client_id = "c"

[model]
path = "/m.bin"
architecture = "transformer9000"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "architecture")
}

func TestLoadBadContextLength(t *testing.T) {
	_, err := Load(writeConfig(t, `
[authentication]
discord_token = "t"
client_id = "c"

[model]
path = "/m.bin"
context_token_length = -1
`))
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteDefault(path))

	// The written file is only missing credentials.
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord_token")
}
