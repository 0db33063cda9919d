package bot

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"discord-llama-bot/internal/config"
	"discord-llama-bot/internal/db"
	"discord-llama-bot/internal/llm"
)

// Discord caps messages at 2000 characters; chunking below that leaves
// room for markdown added around chunk boundaries.
const messageChunkSize = 1500

const promptPlaceholder = "{{PROMPT}}"

// Dispatch renders the invocation's prompt, runs the generator, and posts
// the result back to the invocation's origin. Generation failures are
// answered with an error notice instead of being propagated.
func Dispatch(ctx context.Context, inv *Invocation, gen llm.Generator, usage *db.UsageLog) {
	command, known := config.Data.Commands[inv.Command]
	if !known || !command.Enabled {
		return
	}

	prompt := RenderPrompt(command.Prompt, inv.Prompt, config.Data.Inference.ReplaceNewlines)

	zap.L().Info("generating",
		zap.String("id", inv.ID),
		zap.String("command", inv.Command),
		zap.Int("promptLen", len(prompt)))

	start := time.Now()
	text, err := gen.Generate(ctx, prompt, inv.Seed)
	took := time.Since(start)

	outcome := db.OutcomeOK
	if err != nil {
		outcome = db.OutcomeError
		zap.L().Error("inference failed",
			zap.String("id", inv.ID),
			zap.String("command", inv.Command),
			zap.Error(err))

		if sendErr := inv.reply.Send("Something went wrong during generation, sorry. Try again later."); sendErr != nil {
			zap.L().Error("error sending failure notice", zap.Error(sendErr))
		}
	} else {
		sendResponse(inv, text)
	}

	if usage != nil {
		record := db.Record{
			InvocationID: inv.ID,
			Command:      inv.Command,
			ChannelID:    inv.ChannelID,
			Outcome:      outcome,
			Duration:     took,
		}
		if err := usage.Add(record); err != nil {
			zap.L().Error("error recording usage", zap.Error(err))
		}
	}
}

func sendResponse(inv *Invocation, text string) {
	if strings.TrimSpace(text) == "" {
		zap.L().Warn("empty model response", zap.String("id", inv.ID))
		if err := inv.reply.Send("The model produced no output."); err != nil {
			zap.L().Error("error sending reply", zap.Error(err))
		}
		return
	}

	zap.L().Info("sending reply",
		zap.String("id", inv.ID),
		zap.Int("length", len(text)))

	for _, chunk := range ChunkMessage(text, messageChunkSize) {
		if err := inv.reply.Send(chunk); err != nil {
			zap.L().Error("error sending reply", zap.Error(err))
			return
		}
	}
}

// RenderPrompt substitutes the user's text into a command template. When
// replaceNewlines is set, literal "\n" sequences in the user text become
// real newlines first.
func RenderPrompt(template string, userPrompt string, replaceNewlines bool) string {
	if replaceNewlines {
		userPrompt = strings.ReplaceAll(userPrompt, `\n`, "\n")
	}

	return strings.ReplaceAll(template, promptPlaceholder, userPrompt)
}

// ChunkMessage splits text into pieces no longer than limit, preferring
// word boundaries. Words longer than the limit are split mid-word.
func ChunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	current := ""

	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, word := range strings.Split(text, " ") {
		for len(word) > limit {
			flush()
			chunks = append(chunks, word[:limit])
			word = word[limit:]
		}

		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) > limit:
			flush()
			current = word
		default:
			current += " " + word
		}
	}
	flush()

	return chunks
}
