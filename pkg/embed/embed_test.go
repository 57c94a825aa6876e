package embed

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxRunes int
		want     string
	}{
		{"short text untouched", "hello", 10, "hello"},
		{"exact length untouched", "hello", 5, "hello"},
		{"long text cut", "hello world", 5, "hello"},
		{"zero max disables truncation", "hello", 0, "hello"},
		{"multibyte runes counted not bytes", "héllø wörld", 5, "héllø"},
		{"empty text", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.text, tt.maxRunes); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.maxRunes, got, tt.want)
			}
		})
	}
}

func TestNewOpenAIValidation(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "not-a-model"}); err == nil {
		t.Error("expected error for unknown model")
	}

	e, err := NewOpenAI(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	if e.Dim() != 1536 {
		t.Errorf("default model dim = %d, want 1536", e.Dim())
	}
	if e.Model() != "text-embedding-3-small" {
		t.Errorf("default model = %q", e.Model())
	}

	large, err := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "text-embedding-3-large"})
	if err != nil {
		t.Fatalf("NewOpenAI(large) error = %v", err)
	}
	if large.Dim() != 3072 {
		t.Errorf("large model dim = %d, want 3072", large.Dim())
	}
}

func TestOpenAIEmbedBlankInput(t *testing.T) {
	e, err := NewOpenAI(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := e.Embed(context.Background(), text); !errors.Is(err, ErrEmptyText) {
			t.Errorf("Embed(%q) error = %v, want ErrEmptyText", text, err)
		}
	}
}

func TestOpenAIEmbedContextCancel(t *testing.T) {
	e, err := NewOpenAI(OpenAIConfig{
		APIKey:         "k",
		MaxRetries:     2,
		RetryBaseDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Embed(ctx, "some text")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	var embedErr *Error
	if !errors.As(err, &embedErr) {
		t.Errorf("error = %T, want *Error", err)
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("rate limited")
	err := &Error{Model: "text-embedding-3-small", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Error should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "text-embedding-3-small") {
		t.Errorf("Error() = %q, want model name included", err.Error())
	}
}

func TestSimpleDeterministic(t *testing.T) {
	e := NewSimple(32)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The Emberhold forge")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := e.Embed(ctx, "The Emberhold forge")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(a) != 32 || e.Dim() != 32 {
		t.Fatalf("dim = %d/%d, want 32", len(a), e.Dim())
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}

	c, err := e.Embed(ctx, "completely different text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical vectors")
	}
}

func TestSimpleUnitNorm(t *testing.T) {
	e := NewSimple(16)
	vec, err := e.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("squared norm = %v, want 1.0", norm)
	}
}

func TestSimpleBlankInput(t *testing.T) {
	e := NewSimple(16)
	if _, err := e.Embed(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("error = %v, want ErrEmptyText", err)
	}
}

func TestSimpleDefaultDimension(t *testing.T) {
	if got := NewSimple(0).Dim(); got != 64 {
		t.Errorf("Dim() = %d, want 64 default", got)
	}
}
