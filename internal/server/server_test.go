package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lorevault/lorevault/pkg/embed"
	"github.com/lorevault/lorevault/pkg/lore"
)

func newTestServer(t *testing.T) (*Server, *lore.Store) {
	t.Helper()

	store, err := lore.New(filepath.Join(t.TempDir(), "lore.db"), embed.NewSimple(8))
	if err != nil {
		t.Fatalf("lore.New() error = %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, nil), store
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestAddAndAll(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/lore/add",
		strings.NewReader(`{"title":"Aria","content":"A wandering bard.","tags":["bard"]}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec); body["status"] != "ok" {
		t.Errorf("add body = %v", body)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lore/all", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("all status = %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("data = %v, want array", body["data"])
	}
	if len(data) != 1 {
		t.Fatalf("records = %d, want 1", len(data))
	}
	record := data[0].(map[string]any)
	if record["title"] != "Aria" {
		t.Errorf("title = %v", record["title"])
	}
	if _, leaked := record["Embedding"]; leaked {
		t.Error("embedding leaked into API response")
	}
}

func TestAllEmptyStoreReturnsArray(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lore/all", nil))

	body := decodeEnvelope(t, rec)
	if _, ok := body["data"].([]any); !ok {
		t.Errorf("data = %v, want empty array not null", body["data"])
	}
}

func TestAddInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lore/add", strings.NewReader("not json")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["status"] != "error" {
		t.Errorf("body = %v", body)
	}
}

func TestAddBlankContentFails(t *testing.T) {
	srv, _ := newTestServer(t)

	// Blank title and content cannot be embedded; the store error surfaces
	// through the error envelope.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lore/add",
		strings.NewReader(`{"title":"","content":"","tags":[]}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["status"] != "error" || body["error"] == "" {
		t.Errorf("body = %v, want error with cause", body)
	}
}

func TestFilter(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	seed := []lore.CreateRequest{
		{Title: "Garen", Content: "A knight of Emberhold.", Tags: []string{"npc", "knight"}, Template: "Character"},
		{Title: "Emberhold", Content: "A forge city.", Tags: []string{"city"}, Template: "Location"},
		{Title: "Aria", Content: "A wandering bard.", Tags: []string{"npc", "bard"}, Template: "Character"},
	}
	for _, req := range seed {
		if err := store.Create(ctx, req); err != nil {
			t.Fatalf("Create(%q) error = %v", req.Title, err)
		}
	}

	tests := []struct {
		name       string
		query      string
		wantTitles []string
	}{
		{"by template", "template=Location", []string{"Emberhold"}},
		{"by substring", "q=knight", []string{"Garen"}},
		{"by single tag", "tags=bard", []string{"Aria"}},
		{"tags are conjunctive", "tags=npc,knight", []string{"Garen"}},
		{"template and tag", "template=Character&tags=npc", []string{"Garen", "Aria"}},
		{"no match", "q=dragon", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lore/filter?"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			data, ok := decodeEnvelope(t, rec)["data"].([]any)
			if !ok {
				t.Fatal("data is not an array")
			}
			var titles []string
			for _, item := range data {
				titles = append(titles, item.(map[string]any)["title"].(string))
			}
			if len(titles) != len(tt.wantTitles) {
				t.Fatalf("titles = %v, want %v", titles, tt.wantTitles)
			}
			for i := range titles {
				if titles[i] != tt.wantTitles[i] {
					t.Errorf("titles = %v, want %v", titles, tt.wantTitles)
				}
			}
		})
	}
}

func TestMethodRouting(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lore/add", nil))
	if rec.Code == http.StatusOK {
		t.Errorf("GET /lore/add status = %d, want rejection", rec.Code)
	}
}
