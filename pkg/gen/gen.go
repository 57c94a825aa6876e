// Package gen composes retrieved lore context into prompts and delegates to
// an external chat-completion provider, both for free-form generation and for
// per-field content suggestions.
package gen

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lorevault/lorevault/pkg/lore"
)

// DevModeSetting is the settings key for the process-wide development mode
// flag. When its value is "true" or "1", generation short-circuits to a
// deterministic placeholder without calling the provider at all.
const DevModeSetting = "dev_mode"

const systemRole = "You are a narrative assistant for a game studio, helping write dialogue or story events based on lore."

// Error wraps a generation provider failure with its cause.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gen: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Completer is the slice of the OpenAI client the generator needs; tests
// substitute a stub.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config fixes the sampling parameters. They are process configuration, not
// per-call tunables.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	DefaultTopK int // lore entries retrieved for FromPrompt
	RelatedTopK int // related entries retrieved for FieldContent
}

// DefaultConfig returns the stock generation parameters.
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4,
		Temperature: 0.7,
		MaxTokens:   300,
		DefaultTopK: 5,
		RelatedTopK: 3,
	}
}

// Generator orchestrates retrieval-grounded text generation against one
// store and one chat provider.
type Generator struct {
	completer Completer
	store     *lore.Store
	config    Config
	logger    lore.Logger
}

// New creates a generator. A nil logger defaults to the no-op logger.
func New(completer Completer, store *lore.Store, config Config, logger lore.Logger) *Generator {
	if logger == nil {
		logger = lore.NopLogger()
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = DefaultConfig().DefaultTopK
	}
	if config.RelatedTopK <= 0 {
		config.RelatedTopK = DefaultConfig().RelatedTopK
	}
	return &Generator{
		completer: completer,
		store:     store,
		config:    config,
		logger:    logger,
	}
}

// FromPrompt generates text grounded in lore context. When loreEntries is
// nil the most relevant stored entries are retrieved for the prompt;
// supplying a non-nil slice (even empty) uses it verbatim.
func (g *Generator) FromPrompt(ctx context.Context, prompt string, loreEntries []string) (string, error) {
	if dev, err := g.devMode(ctx); err != nil {
		return "", err
	} else if dev {
		return devPlaceholder("response", prompt), nil
	}

	if loreEntries == nil {
		entries, err := g.store.Relevant(ctx, prompt, g.config.DefaultTopK)
		if err != nil {
			return "", err
		}
		loreEntries = entries
	}

	finalPrompt := fmt.Sprintf(
		"Using the following lore context, write a response to: %s\n\nLore:\n%s\n\nResponse:",
		prompt, strings.Join(loreEntries, "\n"),
	)
	return g.complete(ctx, systemRole, finalPrompt)
}

// FieldRequest describes a per-field content suggestion.
type FieldRequest struct {
	EntryTitle     string
	FieldName      string
	TemplateType   string
	CurrentContent string
	UserPrompt     string
	Tags           []string
	Style          string
}

// FieldContent generates suggested content for a single field of an entry,
// grounded in related lore retrieved with the field's current content (or the
// entry title when the content is blank). An accidental "<field>: " prefix in
// the response is stripped.
func (g *Generator) FieldContent(ctx context.Context, req FieldRequest) (string, error) {
	if dev, err := g.devMode(ctx); err != nil {
		return "", err
	} else if dev {
		return devPlaceholder(req.FieldName, req.EntryTitle), nil
	}

	system := g.fieldSystemPrompt(req)

	query := strings.TrimSpace(req.CurrentContent)
	if query == "" {
		query = req.EntryTitle
	}
	related, err := g.store.Relevant(ctx, query, g.config.RelatedTopK)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write the %q field for the %s entry titled %q.",
		req.FieldName, strings.ToLower(orDefault(req.TemplateType, "lore")), req.EntryTitle)
	if strings.TrimSpace(req.CurrentContent) != "" {
		fmt.Fprintf(&b, "\n\nCurrent content:\n%s", req.CurrentContent)
	}
	if len(related) > 0 {
		fmt.Fprintf(&b, "\n\nRelated lore:\n%s", strings.Join(related, "\n"))
	}
	if strings.TrimSpace(req.UserPrompt) != "" {
		fmt.Fprintf(&b, "\n\nAdditional direction: %s", req.UserPrompt)
	}

	text, err := g.complete(ctx, system, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(text, req.FieldName+": "), nil
}

func (g *Generator) fieldSystemPrompt(req FieldRequest) string {
	var b strings.Builder
	b.WriteString(systemRole)
	fmt.Fprintf(&b, " You are writing the %q field of a world-building entry.", req.FieldName)
	if req.Style != "" {
		fmt.Fprintf(&b, " Write in a %s style.", req.Style)
	}
	if len(req.Tags) > 0 {
		fmt.Fprintf(&b, " The entry is tagged: %s.", strings.Join(req.Tags, ", "))
	}
	b.WriteString(" Respond with the field content only.")
	return b.String()
}

func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := g.completer.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", &Error{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Err: fmt.Errorf("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *Generator) devMode(ctx context.Context) (bool, error) {
	value, err := g.store.GetSetting(ctx, DevModeSetting, "")
	if err != nil {
		return false, err
	}
	return value == "true" || value == "1", nil
}

func devPlaceholder(what, subject string) string {
	return fmt.Sprintf("[dev mode] generated %s for %q suppressed", what, subject)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
