package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperjump/vecstore/internal/broadcast"
	"github.com/hyperjump/vecstore/internal/config"
	"github.com/hyperjump/vecstore/internal/jobs"
	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/internal/service"
)

func newTestServer(t *testing.T) (*Server, *service.Service) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Embedding.Dimensions = 16
	cfg.Embedding.CacheSize = 100
	config.ApplyDefaults(cfg)

	svc, err := service.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return NewServer(svc, &cfg.Server, nil), svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestStoreLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/stores/create", models.CreateStoreRequest{Name: "notes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d, body: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, http.MethodPost, "/stores/create", models.CreateStoreRequest{Name: "notes"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate create: got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/stores/add_texts", models.AddTextsRequest{
		Store: "notes",
		Texts: []string{"the quick brown fox", "a lazy dog sleeps", "rain falls in spain"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add_texts: got %d, body: %s", w.Code, w.Body.String())
	}
	var added struct {
		Entries []models.Entry `json:"entries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&added); err != nil {
		t.Fatal(err)
	}
	if len(added.Entries) != 3 {
		t.Fatalf("added %d entries, want 3", len(added.Entries))
	}

	w = doJSON(t, h, http.MethodGet, "/stores/info/notes", nil)
	var info models.StoreInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Entries != 3 || info.Vectors != 3 {
		t.Errorf("info: %+v", info)
	}

	w = doJSON(t, h, http.MethodPost, "/search", models.SearchRequest{Store: "notes", Query: "a lazy dog sleeps", K: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("search: got %d, body: %s", w.Code, w.Body.String())
	}
	var found struct {
		Results []models.SearchHit `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found.Results) != 1 || found.Results[0].Text != "a lazy dog sleeps" {
		t.Errorf("search results: %+v", found.Results)
	}

	w = doJSON(t, h, http.MethodPost, "/stores/delete_text", models.DeleteTextRequest{Store: "notes", ID: added.Entries[0].ID})
	if w.Code != http.StatusOK {
		t.Errorf("delete_text: got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/stores/delete_text", models.DeleteTextRequest{Store: "notes", ID: added.Entries[0].ID})
	if w.Code != http.StatusNotFound {
		t.Errorf("delete_text twice: got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/stores/list", nil)
	if !strings.Contains(w.Body.String(), `"notes"`) {
		t.Errorf("list: %s", w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/stores/delete/notes", nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete store: got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/stores/info/notes", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("info after delete: got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	if w := doJSON(t, h, http.MethodPost, "/stores/create", models.CreateStoreRequest{Name: "empty"}); w.Code != http.StatusCreated {
		t.Fatalf("create: got %d", w.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"bad name", http.MethodPost, "/stores/create", models.CreateStoreRequest{Name: "../x"}, http.StatusBadRequest},
		{"unknown model", http.MethodPost, "/stores/create", models.CreateStoreRequest{Name: "m", Model: "nope"}, http.StatusBadRequest},
		{"unknown store", http.MethodPost, "/search", models.SearchRequest{Store: "missing", Query: "q"}, http.StatusNotFound},
		{"empty query", http.MethodPost, "/search", models.SearchRequest{Store: "empty"}, http.StatusBadRequest},
		{"search empty store", http.MethodPost, "/search", models.SearchRequest{Store: "empty", Query: "q"}, http.StatusOK},
		{"graph on empty", http.MethodPost, "/graph_search", models.GraphSearchRequest{Store: "empty", Start: "a", End: "b"}, http.StatusBadRequest},
		{"too many steps", http.MethodPost, "/interpolate", models.InterpolateRequest{Store: "empty", SentenceA: "a", SentenceB: "b", Steps: 51}, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/jobs/nope", nil, http.StatusNotFound},
		{"build unknown store", http.MethodPost, "/stores/build_graph", models.BuildGraphRequest{Store: "missing"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("got %d, want %d (body: %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestUploadFile_QueuesIngest(t *testing.T) {
	srv, svc := newTestServer(t)
	h := srv.Handler()
	if w := doJSON(t, h, http.MethodPost, "/stores/create", models.CreateStoreRequest{Name: "docs"}); w.Code != http.StatusCreated {
		t.Fatalf("create: got %d", w.Code)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("store", "docs")
	_ = mw.WriteField("batch_size", "2")
	fw, err := mw.CreateFormFile("file", "lines.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("first\nsecond\nthird\n"))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/stores/upload_file", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload: got %d, body: %s", w.Code, w.Body.String())
	}
	var accepted models.JobAccepted
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if j, ok := svc.Hub.Job(accepted.JobID); ok && j.Status.Terminal() {
			if j.Status != jobs.StatusDone {
				t.Fatalf("job failed: %s", j.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(t, h, http.MethodGet, "/stores/docs/entries?q=second", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "second") {
		t.Errorf("entries lookup: %d %s", w.Code, w.Body.String())
	}
}

func TestModels(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/models/catalog", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "hash/embed-v1") {
		t.Errorf("catalog: %d %s", w.Code, w.Body.String())
	}
}

func TestJobsSocket_StreamsUpdates(t *testing.T) {
	srv, svc := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, err := svc.CreateStore("empty", ""); err != nil {
		t.Fatal(err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/jobs", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	job, err := svc.SubmitGraphBuild(context.Background(), models.BuildGraphRequest{Store: "empty"})
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var seen []jobs.Status
	for {
		var msg broadcast.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		if msg.Type != broadcast.MessageTypeJobUpdate || msg.Job.ID != job.ID {
			continue
		}
		seen = append(seen, msg.Job.Status)
		if msg.Job.Status.Terminal() {
			break
		}
	}
	if last := seen[len(seen)-1]; last != jobs.StatusFailed {
		t.Errorf("final status = %s, want failed (empty index)", last)
	}
}
