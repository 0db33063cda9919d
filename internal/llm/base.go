package llm

import (
	"context"
	"errors"
)

// ErrUnknownArchitecture is returned when the configured architecture tag
// is not one the inference engine can load.
var ErrUnknownArchitecture = errors.New("unknown model architecture")

// Generator produces a text completion for a prompt. Implementations block
// until generation finishes; mid-generation cancellation is not supported.
type Generator interface {
	Generate(ctx context.Context, prompt string, seed *uint64) (string, error)
}
