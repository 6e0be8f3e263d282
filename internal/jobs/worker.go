package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/graph"
	"github.com/hyperjump/vecstore/internal/store"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// Publisher receives a snapshot after every persisted job change.
type Publisher interface {
	Publish(job Job)
}

// StoreProvider resolves store names.
type StoreProvider interface {
	Get(name string) (*store.Store, error)
}

// SourceReader returns the ordered logical records of an ingest source file.
type SourceReader func(path string) ([]string, error)

// Worker drains the queue on a single goroutine, one job at a time.
type Worker struct {
	queue  *Queue
	repo   Repository
	pub    Publisher
	stores StoreProvider
	read   SourceReader
	logger *zap.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = utils.OrNop(l)
	}
}

// NewWorker creates a Worker.
func NewWorker(queue *Queue, repo Repository, pub Publisher, stores StoreProvider, read SourceReader, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:  queue,
		repo:   repo,
		pub:    pub,
		stores: stores,
		read:   read,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit persists a new job, publishes it and queues it.
func (w *Worker) Submit(ctx context.Context, j *Job) error {
	if err := w.commit(ctx, j); err != nil {
		return err
	}
	w.queue.Push(j)
	w.logger.Info("job queued", zap.String("job", j.ID), zap.String("kind", string(j.Kind)), zap.String("store", j.Store))
	return nil
}

// Recover loads every persisted job. Pending and processing jobs are reset to
// pending and queued again; finished jobs are only published. It returns the
// number of requeued jobs.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	all, err := w.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	requeued := 0
	for _, j := range all {
		if j.Status.Terminal() {
			w.pub.Publish(j.Snapshot())
			continue
		}
		j.Status = StatusPending
		j.log("Job requeued after restart.")
		if err := w.commit(ctx, j); err != nil {
			return requeued, err
		}
		w.queue.Push(j)
		requeued++
		w.logger.Info("job requeued", zap.String("job", j.ID), zap.String("store", j.Store))
	}
	return requeued, nil
}

// Run processes jobs until ctx is cancelled. A failing job never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		j, err := w.queue.Pop(ctx)
		if err != nil {
			return
		}
		w.process(ctx, j)
	}
}

// commit stamps, persists and publishes j. Persistence outlives cancellation so
// the last state before shutdown is recorded.
func (w *Worker) commit(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now().UTC()
	if err := w.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	w.pub.Publish(j.Snapshot())
	return nil
}

func (w *Worker) process(ctx context.Context, j *Job) {
	logger := w.logger.With(zap.String("job", j.ID), zap.String("kind", string(j.Kind)), zap.String("store", j.Store))

	j.Status = StatusProcessing
	j.Error, j.ErrorKind = "", ""
	switch {
	case j.Kind == KindGraphBuild:
		j.log("Graph build started.")
	case j.Processed > 0:
		j.log("Job resumed.")
	default:
		j.log("Job started.")
	}
	if err := w.commit(ctx, j); err != nil {
		logger.Error("failed to persist job start", zap.Error(err))
	}
	logger.Info("job started")
	start := time.Now()

	err := w.execute(ctx, j)
	switch {
	case err == nil:
		j.Status = StatusDone
		j.Progress = 100
		if j.Kind == KindGraphBuild {
			j.log("Graph build finished successfully.")
		} else {
			j.log("Ingestion finished successfully.")
		}
		logger.Info("job done", zap.Duration("elapsed", time.Since(start)))
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Left in processing so recovery picks it up on the next start.
		j.log("Job interrupted by shutdown.")
		logger.Info("job interrupted", zap.Int("processed", j.Processed))
	default:
		j.Status = StatusFailed
		j.Error = err.Error()
		j.ErrorKind = Classify(err)
		if j.Kind == KindGraphBuild {
			j.log("Graph build failed: " + j.Error)
		} else {
			j.log("Error: " + j.Error)
		}
		logger.Warn("job failed", zap.String("error_kind", string(j.ErrorKind)), zap.Error(err))
	}
	if err := w.commit(ctx, j); err != nil {
		logger.Error("failed to persist job result", zap.Error(err))
	}
}

// execute runs the job body, converting panics into errors.
func (w *Worker) execute(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", zap.String("job", j.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = &panicError{value: r}
		}
	}()
	st, err := w.stores.Get(j.Store)
	if err != nil {
		return err
	}
	tr := &jobTracker{ctx: ctx, w: w, job: j}
	switch j.Kind {
	case KindIngest:
		return w.ingest(ctx, st, j, tr)
	case KindGraphBuild:
		return st.BuildGraph(ctx, graph.Params{K: j.K, EfConstruction: j.EfConstruction, M: j.M}, tr)
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

// ingest resumes from the persisted entry count: the index is reconciled first,
// then the first Count() records of the source are skipped. This is only
// idempotent while the source file is unchanged between attempts.
func (w *Worker) ingest(ctx context.Context, st *store.Store, j *Job, tr *jobTracker) error {
	if err := st.Reconcile(ctx, j.BatchSize, tr); err != nil {
		return err
	}
	already := st.Count()
	records, err := w.read(j.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", j.Filename, err)
	}
	remaining := records[min(already, len(records)):]
	if err := tr.Begin(len(records), len(records)-len(remaining),
		fmt.Sprintf("Starting ingestion of %d texts (batch=%d).", len(remaining), j.BatchSize)); err != nil {
		return err
	}
	_, err = st.AddTexts(ctx, remaining, j.BatchSize, tr)
	return err
}
