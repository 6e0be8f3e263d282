package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/internal/store"
)

const defaultLookupLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	infos, err := s.svc.Stores.List()
	if err != nil {
		s.respondStoreError(w, "list stores failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"stores": infos})
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("create store request", zap.String("store", req.Name), zap.String("model", req.Model))
	info, err := s.svc.CreateStore(req.Name, req.Model)
	if err != nil {
		s.respondStoreError(w, "create store failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleStoreInfo(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stores.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.respondStoreError(w, "store info failed", err)
		return
	}
	info, err := st.Info()
	if err != nil {
		s.respondStoreError(w, "store info failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stores.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.respondStoreError(w, "list entries failed", err)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": st.Entries()})
		return
	}
	limit := defaultLookupLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	fuzziness, _ := strconv.Atoi(r.URL.Query().Get("fuzziness"))
	entries, err := st.Lookup(q, limit, fuzziness)
	if err != nil {
		s.respondStoreError(w, "lookup failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleAddTexts(w http.ResponseWriter, r *http.Request) {
	var req models.AddTextsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.Stores.Get(req.Store)
	if err != nil {
		s.respondStoreError(w, "add texts failed", err)
		return
	}
	texts := req.AllTexts()
	s.logger.Debug("add texts request", zap.String("store", req.Store), zap.Int("count", len(texts)))
	entries, err := st.AddTexts(r.Context(), texts, req.BatchSize, nil)
	if err != nil {
		s.respondStoreError(w, "add texts failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"entries": entries})
}

func (s *Server) handleDeleteText(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Store == "" || req.ID == "" {
		s.respondError(w, http.StatusBadRequest, "store and id are required")
		return
	}
	st, err := s.svc.Stores.Get(req.Store)
	if err != nil {
		s.respondStoreError(w, "delete text failed", err)
		return
	}
	removed, err := st.Delete(r.Context(), req.ID)
	if err != nil {
		s.respondStoreError(w, "delete text failed", err)
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "entry not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "deleted"})
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.logger.Debug("delete store request", zap.String("store", name))
	if err := s.svc.Stores.Delete(name); err != nil {
		s.respondStoreError(w, "delete store failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	storeName := r.FormValue("store")
	if storeName == "" {
		s.respondError(w, http.StatusBadRequest, "store is required")
		return
	}
	batchSize := 0
	if v := r.FormValue("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "batch_size must be a positive integer")
			return
		}
		batchSize = n
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	s.logger.Debug("upload request", zap.String("store", storeName), zap.String("file", header.Filename))
	job, err := s.svc.SubmitIngest(r.Context(), storeName, header.Filename, file, batchSize)
	if err != nil {
		s.respondStoreError(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, models.JobAccepted{JobID: job.ID})
}

func (s *Server) handleBuildGraph(w http.ResponseWriter, r *http.Request) {
	var req models.BuildGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Store == "" {
		s.respondError(w, http.StatusBadRequest, "store is required")
		return
	}
	job, err := s.svc.SubmitGraphBuild(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, "build graph failed", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, models.JobAccepted{JobID: job.ID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.Stores.Get(req.Store)
	if err != nil {
		s.respondStoreError(w, "search failed", err)
		return
	}
	s.logger.Debug("search request", zap.String("store", req.Store), zap.String("query", req.Query), zap.Int("k", req.K))
	hits, err := st.Search(r.Context(), req.Query, req.K)
	if err != nil {
		s.respondStoreError(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

func (s *Server) handleGraphSearch(w http.ResponseWriter, r *http.Request) {
	var req models.GraphSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.Stores.Get(req.Store)
	if err != nil {
		s.respondStoreError(w, "graph search failed", err)
		return
	}
	path, err := st.GraphSearch(r.Context(), req.Start, req.End, req.K)
	if err != nil {
		s.respondStoreError(w, "graph search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, path)
}

func (s *Server) handleInterpolate(w http.ResponseWriter, r *http.Request) {
	var req models.InterpolateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.Stores.Get(req.Store)
	if err != nil {
		s.respondStoreError(w, "interpolate failed", err)
		return
	}
	resp, err := st.Interpolate(r.Context(), req.SentenceA, req.SentenceB, req.Steps, req.K)
	if err != nil {
		s.respondStoreError(w, "interpolate failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.svc.Jobs()})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.svc.Hub.Job(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleModelCatalog(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": s.svc.Registry.Catalog()})
}

func (s *Server) handleModelLocal(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": s.svc.Registry.Local()})
}

// respondStoreError maps store and job errors to a status code. Anything
// unrecognised is a 500 and is logged.
func (s *Server) respondStoreError(w http.ResponseWriter, msg string, err error) {
	var (
		verr *store.ValidationError
		derr *store.DimensionMismatchError
		cerr *store.ConsistencyError
	)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNoPath):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr), errors.Is(err, store.ErrEmptyIndex), errors.As(err, &derr):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cerr):
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
