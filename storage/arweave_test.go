package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpload_PostsToGateway(t *testing.T) {
	var gotReq uploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tx" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(uploadResponse{ID: "arweave-tx-1"})
	}))
	defer srv.Close()

	u := NewArweaveUploader(Config{GatewayURL: srv.URL, Production: true}, discardLogger())
	id, err := u.Upload(context.Background(), []byte("export bytes"), "application/json", map[string]string{"App-Name": "Axobase"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != "arweave-tx-1" {
		t.Errorf("id = %q", id)
	}
	if gotReq.ContentType != "application/json" || gotReq.Tags["App-Name"] != "Axobase" {
		t.Errorf("request not forwarded: %+v", gotReq)
	}
}

func TestUpload_GatewayFailureFallsBackOutsideProduction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bundler melted", http.StatusBadGateway)
	}))
	defer srv.Close()

	u := NewArweaveUploader(Config{GatewayURL: srv.URL, Production: false}, discardLogger())
	id, err := u.Upload(context.Background(), []byte("export bytes"), "application/json", nil)
	if err != nil {
		t.Fatalf("expected placeholder fallback, got error: %v", err)
	}
	if !strings.HasPrefix(id, "mock_") || len(id) != len("mock_")+43 {
		t.Errorf("placeholder id = %q", id)
	}
}

func TestUpload_GatewayFailurePropagatesInProduction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bundler melted", http.StatusBadGateway)
	}))
	defer srv.Close()

	u := NewArweaveUploader(Config{GatewayURL: srv.URL, Production: true}, discardLogger())
	if _, err := u.Upload(context.Background(), []byte("export bytes"), "application/json", nil); err == nil {
		t.Fatal("expected error in production mode")
	}
}

func TestPlaceholder_IsDeterministic(t *testing.T) {
	a := Placeholder([]byte("same content"))
	b := Placeholder([]byte("same content"))
	c := Placeholder([]byte("other content"))
	if a != b {
		t.Errorf("placeholder not deterministic: %q vs %q", a, b)
	}
	if a == c {
		t.Error("distinct content produced the same placeholder")
	}
}
