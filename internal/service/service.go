// Package service wires the stores, the job pipeline, the broadcaster and the
// inbox watcher into one process-scoped value.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/broadcast"
	"github.com/hyperjump/vecstore/internal/config"
	"github.com/hyperjump/vecstore/internal/embedding"
	"github.com/hyperjump/vecstore/internal/extract"
	"github.com/hyperjump/vecstore/internal/graph"
	"github.com/hyperjump/vecstore/internal/jobs"
	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/internal/store"
	"github.com/hyperjump/vecstore/internal/watcher"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// Service owns every long-lived component. Build it with New, call Start once,
// and Close on shutdown.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry *embedding.Registry
	Stores   *store.Manager
	Hub      *broadcast.Hub

	repo   jobs.Repository
	queue  *jobs.Queue
	worker *jobs.Worker
	inbox  *watcher.Inbox

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the service from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	logger = utils.OrNop(logger)

	reg := embedding.DefaultRegistry(embedding.Options{
		ModelsDir:   cfg.Embedding.ModelsDir,
		MaxTokens:   cfg.Embedding.MaxTokens,
		CacheSize:   cfg.Embedding.CacheSize,
		Concurrency: cfg.Embedding.Concurrency,
	}, logger.Named("embedding"))
	if spec, ok := reg.Lookup(embedding.HashModelID); ok && cfg.Embedding.Dimensions > 0 {
		spec.Dimensions = cfg.Embedding.Dimensions
		reg.Register(spec)
	}

	stores, err := store.NewManager(cfg.StoresDir(), reg,
		store.WithManagerLogger(logger.Named("stores")),
		store.WithDefaultGraphParams(graph.Params{
			K:              cfg.Graph.K,
			EfConstruction: cfg.Graph.EfConstruction,
			M:              cfg.Graph.M,
			InsertChunk:    cfg.Graph.InsertChunk,
		}),
	)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	repo, err := jobs.OpenRepository(cfg.Jobs.Backend, cfg.JobsDir(), cfg.JobsDBPath(), logger.Named("jobs"))
	if err != nil {
		_ = stores.Close()
		_ = reg.Close()
		return nil, err
	}
	if err := os.MkdirAll(cfg.UploadsDir(), 0755); err != nil {
		_ = repo.Close()
		_ = stores.Close()
		_ = reg.Close()
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	hub := broadcast.NewHub(broadcast.WithLogger(logger.Named("broadcast")))
	queue := jobs.NewQueue()
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		Registry: reg,
		Stores:   stores,
		Hub:      hub,
		repo:     repo,
		queue:    queue,
		worker:   jobs.NewWorker(queue, repo, hub, stores, extract.ReadRecords, jobs.WithLogger(logger.Named("worker"))),
	}
	if cfg.Watch.Enabled {
		s.inbox = watcher.NewInbox(cfg.Watch.InboxDir, cfg.Watch.Extensions, s.submitInboxFile,
			watcher.WithLogger(logger.Named("inbox")))
	}
	return s, nil
}

// Start requeues unfinished jobs, then starts the worker and, when enabled, the
// inbox watcher. Both stop when ctx is cancelled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	n, err := s.worker.Recover(ctx)
	if err != nil {
		s.cancel()
		return fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("requeued unfinished jobs", zap.Int("count", n))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker.Run(ctx)
	}()

	if s.inbox != nil {
		if err := s.inbox.Start(ctx); err != nil {
			s.cancel()
			s.wg.Wait()
			return fmt.Errorf("start inbox: %w", err)
		}
	}
	return nil
}

// Close stops background work and releases every component. A job in flight
// finishes its current chunk and is resumed on the next start.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.inbox != nil {
		s.inbox.Stop()
	}
	s.wg.Wait()
	return errors.Join(s.Stores.Close(), s.Registry.Close(), s.repo.Close())
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// CreateStore creates a store, using the default model when model is empty.
func (s *Service) CreateStore(name, model string) (models.StoreInfo, error) {
	if model == "" {
		model = s.cfg.Embedding.DefaultModel
	}
	st, err := s.Stores.Create(name, model)
	if err != nil {
		return models.StoreInfo{}, err
	}
	return st.Info()
}

// SubmitIngest saves src under the uploads directory and queues an ingest job
// for it.
func (s *Service) SubmitIngest(ctx context.Context, storeName, filename string, src io.Reader, batchSize int) (jobs.Job, error) {
	if err := s.checkSource(storeName, filename); err != nil {
		return jobs.Job{}, err
	}
	dst := s.uploadPath(filename)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return jobs.Job{}, fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return jobs.Job{}, fmt.Errorf("save upload: %w", err)
	}
	return s.queueIngest(ctx, storeName, filename, dst, batchSize)
}

// SubmitIngestFile moves the file at path under the uploads directory and queues
// an ingest job for it.
func (s *Service) SubmitIngestFile(ctx context.Context, storeName, path string, batchSize int) (jobs.Job, error) {
	filename := filepath.Base(path)
	if err := s.checkSource(storeName, filename); err != nil {
		return jobs.Job{}, err
	}
	dst := s.uploadPath(filename)
	if err := moveFile(path, dst); err != nil {
		return jobs.Job{}, err
	}
	return s.queueIngest(ctx, storeName, filename, dst, batchSize)
}

func (s *Service) submitInboxFile(storeName, path string) error {
	_, err := s.SubmitIngestFile(context.Background(), storeName, path, 0)
	return err
}

func (s *Service) checkSource(storeName, filename string) error {
	if _, err := s.Stores.Get(storeName); err != nil {
		return err
	}
	if ext := filepath.Ext(filename); ext != "" && !extract.Supported(ext) {
		return &store.ValidationError{Field: "file", Message: fmt.Sprintf("unsupported file type %q", ext)}
	}
	return nil
}

func (s *Service) uploadPath(filename string) string {
	base := strings.ReplaceAll(filepath.Base(filename), string(filepath.Separator), "_")
	return filepath.Join(s.cfg.UploadsDir(), uuid.NewString()+"_"+base)
}

func (s *Service) queueIngest(ctx context.Context, storeName, filename, path string, batchSize int) (jobs.Job, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.Jobs.DefaultBatchSize
	}
	return s.submit(ctx, jobs.NewIngestJob(storeName, filename, path, batchSize))
}

// SubmitGraphBuild queues a graph build. Zero parameters take the configured defaults.
func (s *Service) SubmitGraphBuild(ctx context.Context, req models.BuildGraphRequest) (jobs.Job, error) {
	if _, err := s.Stores.Get(req.Store); err != nil {
		return jobs.Job{}, err
	}
	if req.K <= 0 {
		req.K = s.cfg.Graph.K
	}
	if req.EfConstruction <= 0 {
		req.EfConstruction = s.cfg.Graph.EfConstruction
	}
	if req.M <= 0 {
		req.M = s.cfg.Graph.M
	}
	if req.M < 2 {
		return jobs.Job{}, &store.ValidationError{Field: "m", Message: "must be at least 2"}
	}
	return s.submit(ctx, jobs.NewGraphBuildJob(req.Store, req.K, req.EfConstruction, req.M))
}

// submit queues j and returns its state at submission. The worker owns j
// afterwards.
func (s *Service) submit(ctx context.Context, j *jobs.Job) (jobs.Job, error) {
	snap := j.Snapshot()
	if err := s.worker.Submit(ctx, j); err != nil {
		return jobs.Job{}, err
	}
	return snap, nil
}

// Jobs returns the latest snapshot of every known job.
func (s *Service) Jobs() []jobs.Job {
	return s.Hub.Jobs()
}

// moveFile renames src to dst, copying when they are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
