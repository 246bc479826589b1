package corpus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestPassagesQueryAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/passages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("philosopher") != "Theophilus" || q.Get("topic") != "flux" || q.Get("limit") != "3" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(passagesResponse{Passages: []Passage{
			{Text: "everything flows", Title: "Fragments", Page: 12, Citation: "fr. 12"},
			{Text: "the road up and down", Title: "Fragments", Citation: "fr. 60"},
		}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, zap.NewNop())
	got, err := c.Passages(context.Background(), "Theophilus", "flux", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d passages, want 2", len(got))
	}
	if got[0].Text != "everything flows" || got[0].Citation != "fr. 12" || got[0].Page != 12 {
		t.Fatalf("passage = %+v", got[0])
	}
}

func TestPassagesTruncatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(passagesResponse{Passages: make([]Passage, 10)})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, zap.NewNop())
	got, err := c.Passages(context.Background(), "A", "x", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d passages, want the limit of 3", len(got))
	}
}

func TestPassagesNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, zap.NewNop())
	if _, err := c.Passages(context.Background(), "A", "x", 3); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestLibraryWithoutCacheDelegates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(passagesResponse{Passages: []Passage{{Text: "from service", Citation: "c"}}})
	}))
	defer srv.Close()

	l := NewLibrary(NewClient(ClientConfig{Endpoint: srv.URL}, zap.NewNop()), nil, zap.NewNop())
	got, err := l.Passages(context.Background(), "A", "x", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "from service" {
		t.Fatalf("got %+v", got)
	}
}
