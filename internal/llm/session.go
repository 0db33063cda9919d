package llm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	llama "github.com/tcpipuk/llama-go"
	"go.uber.org/zap"

	"discord-llama-bot/internal/config"
)

// Session owns the loaded model weights and a single execution context.
// At most one generation runs at a time; concurrent callers queue on the
// internal mutex in arrival order.
type Session struct {
	mu        sync.Mutex
	model     *llama.Model
	ctx       *llama.Context
	inference config.InferenceConfig
}

// New loads the model described by the configuration. Errors here are
// fatal at startup: a missing or corrupt weights file, an architecture tag
// the engine does not know, or an engine load failure.
func New(cfg *config.Config) (*Session, error) {
	known := false
	for _, arch := range config.Architectures {
		if cfg.Model.Architecture == arch {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArchitecture, cfg.Model.Architecture)
	}

	if _, err := os.Stat(cfg.Model.Path); err != nil {
		return nil, fmt.Errorf("model file %q: %w", cfg.Model.Path, err)
	}

	gpuLayers := 0
	if cfg.Model.UseGPU {
		gpuLayers = cfg.Model.GPULayers
		if gpuLayers == 0 {
			gpuLayers = -1
		}
	}

	zap.L().Info("loading model",
		zap.String("path", cfg.Model.Path),
		zap.String("architecture", cfg.Model.Architecture),
		zap.Int("contextTokens", cfg.Model.ContextTokenLength),
		zap.Bool("mmap", cfg.Model.PreferMmap),
		zap.Int("gpuLayers", gpuLayers))

	start := time.Now()
	model, err := llama.LoadModel(cfg.Model.Path,
		llama.WithMMap(cfg.Model.PreferMmap),
		llama.WithGPULayers(gpuLayers),
	)
	if err != nil {
		return nil, fmt.Errorf("loading model %q: %w", cfg.Model.Path, err)
	}

	llamaCtx, err := model.NewContext(
		llama.WithContext(cfg.Model.ContextTokenLength),
		llama.WithThreads(cfg.Inference.ThreadCount),
	)
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("creating model context: %w", err)
	}

	zap.L().Info("model loaded", zap.Duration("took", time.Since(start)))

	return &Session{
		model:     model,
		ctx:       llamaCtx,
		inference: cfg.Inference,
	}, nil
}

// Generate runs the model over prompt until an end-of-text token or the
// configured token cap. The call blocks for the full generation; a nil
// seed samples from entropy.
func (s *Session) Generate(ctx context.Context, prompt string, seed *uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	opts := []llama.GenerateOption{
		llama.WithTemperature(float32(s.inference.Temperature)),
		llama.WithTopK(s.inference.TopK),
		llama.WithTopP(float32(s.inference.TopP)),
	}
	if s.inference.MaxTokens > 0 {
		opts = append(opts, llama.WithMaxTokens(s.inference.MaxTokens))
	}
	if seed != nil {
		opts = append(opts, llama.WithSeed(int(*seed)))
	}

	start := time.Now()
	text, err := s.ctx.Generate(prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("inference: %w", err)
	}

	zap.L().Debug("generation finished",
		zap.Duration("took", time.Since(start)),
		zap.Int("promptLen", len(prompt)),
		zap.Int("outputLen", len(text)))

	return text, nil
}

// Close releases the execution context and the model weights.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.ctx.Close()
		s.ctx = nil
	}
	if s.model != nil {
		s.model.Close()
		s.model = nil
	}
}
