package bot

import (
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"discord-llama-bot/internal/config"
)

// Invocation is one recognized command waiting for the model session.
// Invocations come from plain messages ("hallucinate <text>") or from the
// registered slash commands; both forms go through the same queue.
type Invocation struct {
	ID        string
	Command   string
	ChannelID string
	Prompt    string
	Seed      *uint64
	reply     replier
}

type replier interface {
	Send(content string) error
}

// Init connects to the Discord gateway, registers the enabled slash
// commands, and returns the session together with the invocation queue.
// The queue must be consumed serially to keep answers in arrival order.
func Init() (*discordgo.Session, chan *Invocation) {
	zap.L().Debug("initializing bot")

	discord, err := discordgo.New("Bot " + config.Data.Authentication.DiscordToken)
	if err != nil {
		zap.L().Panic("incorrect Discord token", zap.Error(err))
		return nil, nil
	}

	queue := make(chan *Invocation, 128)

	discord.AddHandler(func(session *discordgo.Session, message *discordgo.MessageCreate) {
		if message.Author == nil || message.Author.ID == config.Data.Authentication.ClientID || message.Author.Bot {
			return
		}

		name, prompt, ok := parseMessageCommand(message.Content, config.Data.Commands)
		if !ok {
			return
		}

		queue <- &Invocation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Command:   name,
			ChannelID: message.ChannelID,
			Prompt:    prompt,
			reply:     &messageReply{session: session, message: message},
		}
	})

	discord.AddHandler(func(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
		if interaction.Type != discordgo.InteractionApplicationCommand {
			return
		}

		data := interaction.ApplicationCommandData()
		command, known := config.Data.Commands[data.Name]
		if !known || !command.Enabled {
			return
		}

		var prompt string
		var seed *uint64
		for _, option := range data.Options {
			switch option.Name {
			case "prompt":
				prompt = option.StringValue()
			case "seed":
				value := uint64(option.IntValue())
				seed = &value
			}
		}

		// Ack immediately so queued work can outlive the interaction window.
		err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			zap.L().Error("error acknowledging interaction", zap.Error(err))
			return
		}

		queue <- &Invocation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Command:   data.Name,
			ChannelID: interaction.ChannelID,
			Prompt:    prompt,
			Seed:      seed,
			reply:     &interactionReply{session: session, interaction: interaction.Interaction},
		}
	})

	discord.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	err = discord.Open()
	if err != nil {
		zap.L().Panic("error initializing Discord bot", zap.Error(err))
		return nil, nil
	}

	if err := registerCommands(discord); err != nil {
		zap.L().Panic("error registering commands", zap.Error(err))
		return nil, nil
	}

	return discord, queue
}

// parseMessageCommand matches the leading token of a message against the
// enabled commands. Unrecognized leading tokens are ignored.
func parseMessageCommand(content string, commands map[string]config.CommandConfig) (string, string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", "", false
	}

	name := trimmed
	prompt := ""
	if idx := strings.IndexFunc(trimmed, unicode.IsSpace); idx >= 0 {
		name = trimmed[:idx]
		prompt = strings.TrimSpace(trimmed[idx:])
	}

	command, known := commands[name]
	if !known || !command.Enabled {
		return "", "", false
	}

	return name, prompt, true
}

// registerCommands reconciles Discord's global command set against the
// enabled commands, overwriting it on any mismatch.
func registerCommands(discord *discordgo.Session) error {
	appID := config.Data.Authentication.ClientID

	registered, err := discord.ApplicationCommands(appID, "")
	if err != nil {
		return err
	}

	registeredNames := make(map[string]bool, len(registered))
	for _, command := range registered {
		registeredNames[command.Name] = true
	}

	var seedMin float64 = 0
	var desired []*discordgo.ApplicationCommand
	matches := true
	for name, command := range config.Data.Commands {
		if !command.Enabled {
			continue
		}
		if !registeredNames[name] {
			matches = false
		}

		desired = append(desired, &discordgo.ApplicationCommand{
			Name:        name,
			Description: command.Description,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "The prompt.",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seed",
					Description: "The seed to use for sampling.",
					MinValue:    &seedMin,
				},
			},
		})
	}

	if len(registered) != len(desired) {
		matches = false
	}
	if matches {
		zap.L().Debug("slash commands already registered")
		return nil
	}

	zap.L().Info("registering slash commands", zap.Int("count", len(desired)))
	_, err = discord.ApplicationCommandBulkOverwrite(appID, "", desired)
	return err
}

type messageReply struct {
	session *discordgo.Session
	message *discordgo.MessageCreate
	sent    bool
}

func (r *messageReply) Send(content string) error {
	// The first chunk replies to the invoking message, the rest follow as
	// plain sends in the same channel.
	var err error
	if !r.sent {
		_, err = r.session.ChannelMessageSendReply(r.message.ChannelID, content, r.message.Reference())
	} else {
		_, err = r.session.ChannelMessageSend(r.message.ChannelID, content)
	}
	if err == nil {
		r.sent = true
	}
	return err
}

type interactionReply struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	sent        bool
}

func (r *interactionReply) Send(content string) error {
	var err error
	if !r.sent {
		_, err = r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
			Content: &content,
		})
	} else {
		_, err = r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content: content,
		})
	}
	if err == nil {
		r.sent = true
	}
	return err
}
