package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["text"] != "hello world" {
			t.Fatalf("text = %q", body["text"])
		}
		_ = json.NewEncoder(w).Encode([]float64{0.1, 0.2, 0.3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("Embed() = %v", vec)
	}
}

func TestClientEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/batch-embed" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		var body map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		out := make([][]float64, len(body["texts"]))
		for i := range out {
			out[i] = []float64{float64(i)}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Fatalf("EmbedBatch() = %v", vecs)
	}
}

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(HealthInfo{Status: "healthy", Model: "all-MiniLM-L6-v2", EmbeddingDim: 384})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	info, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if info.Status != "healthy" || info.EmbeddingDim != 384 {
		t.Fatalf("Health() = %+v", info)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": `"text" cannot be empty`})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Embed(context.Background(), "")
	if err == nil {
		t.Fatalf("Embed() should fail on 400")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("error should carry the status: %v", err)
	}
}
