package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/provenlab/provex/internal/provex/core"
	"github.com/provenlab/provex/internal/provex/storage"
)

func testServer(t *testing.T) (*Server, storage.Backend) {
	t.Helper()
	ctx := context.Background()
	backend, err := storage.NewSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	t.Cleanup(func() { backend.Close(ctx) })
	return New(backend, nil), backend
}

func seed(t *testing.T, backend storage.Backend) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	nodes := []*core.Node{
		{UUID: "n-a", Type: "data.int", Label: "x", CTime: now, MTime: now},
		{UUID: "n-b", Type: "process.calc", Label: "f", CTime: now, MTime: now,
			Attributes: map[string]any{"state": "finished"}},
	}
	for _, node := range nodes {
		if err := backend.Nodes().Create(ctx, node); err != nil {
			t.Fatalf("creating node %s: %v", node.UUID, err)
		}
	}
	link := &core.Link{Source: "n-a", Target: "n-b", Type: core.LinkInput, Label: "x"}
	if err := backend.Links().Create(ctx, link); err != nil {
		t.Fatalf("creating link: %v", err)
	}
	comment := &core.Comment{UUID: "c-1", NodeUUID: "n-b", CTime: now, MTime: now, Content: "note"}
	if err := backend.Comments().Create(ctx, comment); err != nil {
		t.Fatalf("creating comment: %v", err)
	}
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	server, _ := testServer(t)
	rec := get(t, server, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["backend"] != "sqlite" {
		t.Errorf("body = %v", body)
	}
}

func TestListNodes(t *testing.T) {
	server, backend := testServer(t)
	seed(t, backend)

	rec := get(t, server, "/api/nodes")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var nodes []NodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("listed %d nodes, want 2", len(nodes))
	}
}

func TestGetNode(t *testing.T) {
	server, backend := testServer(t)
	seed(t, backend)

	rec := get(t, server, "/api/nodes/n-b")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var node NodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &node); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if node.UUID != "n-b" || node.Type != "process.calc" {
		t.Errorf("node = %+v", node)
	}
	if node.Attributes["state"] != "finished" {
		t.Errorf("attributes = %v", node.Attributes)
	}

	if rec := get(t, server, "/api/nodes/n-missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing node status = %d, want 404", rec.Code)
	}
}

func TestGetLinks(t *testing.T) {
	server, backend := testServer(t)
	seed(t, backend)

	rec := get(t, server, "/api/nodes/n-b/links")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var links []LinkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &links); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("listed %d links, want 1", len(links))
	}
	if links[0].Source != "n-a" || links[0].Type != "input" {
		t.Errorf("link = %+v", links[0])
	}
}

func TestGetComments(t *testing.T) {
	server, backend := testServer(t)
	seed(t, backend)

	rec := get(t, server, "/api/nodes/n-b/comments")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var comments []CommentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &comments); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(comments) != 1 || comments[0].Content != "note" {
		t.Errorf("comments = %v", comments)
	}
}
