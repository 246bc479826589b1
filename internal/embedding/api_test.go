package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embedHandler(t *testing.T, dim int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		resp := embedResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: make([]float32, dim)})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestAPIEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 8))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-embed", APIKey: "sk-test", Dimension: 1536})
	vecs, err := p.Embed(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || len(vecs[0]) != 8 {
		t.Fatalf("got %d vectors of dim %d", len(vecs), len(vecs[0]))
	}
}

func TestAPIDimensionObservedOverridesConfigured(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 8))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, APIKey: "sk-test", Dimension: 1536})
	if p.Dimension() != 1536 {
		t.Fatalf("pre-call dimension = %d, want configured 1536", p.Dimension())
	}
	if _, err := p.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if p.Dimension() != 8 {
		t.Fatalf("post-call dimension = %d, want observed 8", p.Dimension())
	}
}

func TestAPIEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{}) // zero vectors for any input
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"x", "y"}); err == nil {
		t.Fatal("expected error when vector count disagrees with input count")
	}
}

func TestAPIEmbedNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestAPIEmbedEmptyInput(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unreachable.invalid"})
	vecs, err := p.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("got (%v, %v), want (nil, nil) without a network call", vecs, err)
	}
}
