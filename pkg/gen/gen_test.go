package gen

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lorevault/lorevault/pkg/embed"
	"github.com/lorevault/lorevault/pkg/lore"
)

// stubCompleter records requests and replies with canned content.
type stubCompleter struct {
	calls    int
	lastReq  openai.ChatCompletionRequest
	response string
	err      error
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.response}},
		},
	}, nil
}

func newTestStore(t *testing.T) *lore.Store {
	t.Helper()

	store, err := lore.New(filepath.Join(t.TempDir(), "lore.db"), embed.NewSimple(8))
	if err != nil {
		t.Fatalf("lore.New() error = %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFromPromptWithSuppliedLore(t *testing.T) {
	store := newTestStore(t)
	completer := &stubCompleter{response: "The forge roars."}
	g := New(completer, store, DefaultConfig(), nil)

	got, err := g.FromPrompt(context.Background(), "describe the forge", []string{"Emberhold has a great forge."})
	if err != nil {
		t.Fatalf("FromPrompt() error = %v", err)
	}
	if got != "The forge roars." {
		t.Errorf("response = %q", got)
	}
	if completer.calls != 1 {
		t.Fatalf("completer calls = %d, want 1", completer.calls)
	}

	req := completer.lastReq
	if req.Model != openai.GPT4 {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 300 {
		t.Errorf("sampling = (%v, %v), want (0.7, 300)", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want system + user", len(req.Messages))
	}
	if !strings.Contains(req.Messages[0].Content, "narrative assistant") {
		t.Errorf("system message = %q", req.Messages[0].Content)
	}
	user := req.Messages[1].Content
	if !strings.Contains(user, "describe the forge") || !strings.Contains(user, "Emberhold has a great forge.") {
		t.Errorf("user message missing prompt or lore:\n%s", user)
	}
}

func TestFromPromptRetrievesLore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Create(ctx, lore.CreateRequest{
		Title:   "Emberhold",
		Content: "A forge city in the mountains.",
		Tags:    []string{"city"},
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	completer := &stubCompleter{response: "ok"}
	g := New(completer, store, DefaultConfig(), nil)

	if _, err := g.FromPrompt(ctx, "mountain forges", nil); err != nil {
		t.Fatalf("FromPrompt() error = %v", err)
	}
	if !strings.Contains(completer.lastReq.Messages[1].Content, "A forge city in the mountains.") {
		t.Errorf("retrieved lore missing from prompt:\n%s", completer.lastReq.Messages[1].Content)
	}
}

func TestDevModeSkipsProvider(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.SetSetting(ctx, DevModeSetting, "true"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	completer := &stubCompleter{response: "should never appear"}
	g := New(completer, store, DefaultConfig(), nil)

	got, err := g.FromPrompt(ctx, "anything", nil)
	if err != nil {
		t.Fatalf("FromPrompt() error = %v", err)
	}
	if !strings.Contains(got, "[dev mode]") {
		t.Errorf("response = %q, want dev placeholder", got)
	}

	field, err := g.FieldContent(ctx, FieldRequest{EntryTitle: "Garen", FieldName: "Role"})
	if err != nil {
		t.Fatalf("FieldContent() error = %v", err)
	}
	if !strings.Contains(field, "[dev mode]") || !strings.Contains(field, "Garen") {
		t.Errorf("field response = %q, want dev placeholder naming the entry", field)
	}

	if completer.calls != 0 {
		t.Errorf("completer calls = %d, want 0 in dev mode", completer.calls)
	}
}

func TestDevModeNumericFlag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.SetSetting(ctx, DevModeSetting, "1"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	completer := &stubCompleter{response: "no"}
	g := New(completer, store, DefaultConfig(), nil)

	if _, err := g.FromPrompt(ctx, "x", nil); err != nil {
		t.Fatalf("FromPrompt() error = %v", err)
	}
	if completer.calls != 0 {
		t.Errorf("completer calls = %d, want 0", completer.calls)
	}
}

func TestFieldContentPrompts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	completer := &stubCompleter{response: "A grizzled knight."}
	g := New(completer, store, DefaultConfig(), nil)

	got, err := g.FieldContent(ctx, FieldRequest{
		EntryTitle:     "Garen",
		FieldName:      "Role",
		TemplateType:   "Character",
		CurrentContent: "knight",
		UserPrompt:     "make him weary",
		Tags:           []string{"npc", "veteran"},
		Style:          "grim",
	})
	if err != nil {
		t.Fatalf("FieldContent() error = %v", err)
	}
	if got != "A grizzled knight." {
		t.Errorf("response = %q", got)
	}

	system := completer.lastReq.Messages[0].Content
	for _, want := range []string{`"Role" field`, "grim style", "npc, veteran"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q:\n%s", want, system)
		}
	}

	user := completer.lastReq.Messages[1].Content
	for _, want := range []string{"character entry", `"Garen"`, "knight", "make him weary"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestFieldContentStripsFieldPrefix(t *testing.T) {
	store := newTestStore(t)
	completer := &stubCompleter{response: "Role: Captain of the guard."}
	g := New(completer, store, DefaultConfig(), nil)

	got, err := g.FieldContent(context.Background(), FieldRequest{EntryTitle: "Garen", FieldName: "Role"})
	if err != nil {
		t.Fatalf("FieldContent() error = %v", err)
	}
	if got != "Captain of the guard." {
		t.Errorf("response = %q, want prefix stripped", got)
	}
}

func TestProviderErrorWrapped(t *testing.T) {
	store := newTestStore(t)
	cause := errors.New("quota exceeded")
	g := New(&stubCompleter{err: cause}, store, DefaultConfig(), nil)

	_, err := g.FromPrompt(context.Background(), "x", []string{})
	if err == nil {
		t.Fatal("expected provider error")
	}
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Errorf("error = %T, want *Error", err)
	}
	if !errors.Is(err, cause) {
		t.Error("error should unwrap to the provider cause")
	}
}

func TestEmptyChoicesIsError(t *testing.T) {
	store := newTestStore(t)
	g := New(emptyCompleter{}, store, DefaultConfig(), nil)

	if _, err := g.FromPrompt(context.Background(), "x", []string{}); err == nil {
		t.Error("expected error for empty choices")
	}
}

type emptyCompleter struct{}

func (emptyCompleter) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}
