package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/storage"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// Repository persists job records.
type Repository interface {
	Save(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns every persisted job ordered by creation time.
	List(ctx context.Context) ([]*Job, error)
	Close() error
}

// Backend names accepted by OpenRepository.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenRepository opens the repository for backend. dir holds file records and
// dbPath the SQLite database.
func OpenRepository(backend, dir, dbPath string, logger *zap.Logger) (Repository, error) {
	switch backend {
	case "", BackendFile:
		return NewFileRepository(dir, logger)
	case BackendSQLite:
		return NewSQLiteRepository(dbPath)
	default:
		return nil, fmt.Errorf("unknown jobs backend %q", backend)
	}
}

// FileRepository stores each job as <dir>/<id>.json, replaced atomically on save.
type FileRepository struct {
	dir    string
	logger *zap.Logger
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string, logger *zap.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create jobs dir: %w", err)
	}
	return &FileRepository{dir: dir, logger: utils.OrNop(logger)}, nil
}

func (r *FileRepository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *FileRepository) Save(_ context.Context, j *Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := storage.WriteFileAtomic(r.path(j.ID), data, 0644); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (r *FileRepository) Get(_ context.Context, id string) (*Job, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j, err := readJobFile(r.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, err
}

// List skips records that cannot be parsed and logs them.
func (r *FileRepository) List(_ context.Context) ([]*Job, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(files))
	for _, f := range files {
		j, err := readJobFile(f)
		if err != nil {
			r.logger.Warn("skipping unreadable job record", zap.String("file", f), zap.Error(err))
			continue
		}
		out = append(out, j)
	}
	sortByCreation(out)
	return out, nil
}

func (r *FileRepository) Close() error { return nil }

func readJobFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &j, nil
}

func sortByCreation(jobs []*Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
}

const recordKind = "job"

// SQLiteRepository keeps job snapshots in a SQLite records table.
type SQLiteRepository struct {
	records *storage.SQLiteRecords
}

// NewSQLiteRepository opens or creates the database at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	records, err := storage.NewSQLiteRecords(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteRepository{records: records}, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return r.records.Put(ctx, storage.Record{
		Kind:      recordKind,
		ID:        j.ID,
		Status:    string(j.Status),
		Body:      data,
		CreatedAt: j.CreatedAt,
	})
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Job, error) {
	rec, err := r.records.Get(ctx, recordKind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(rec.Body, &j); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", id, err)
	}
	return &j, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*Job, error) {
	recs, err := r.records.List(ctx, recordKind)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(recs))
	for _, rec := range recs {
		var j Job
		if err := json.Unmarshal(rec.Body, &j); err != nil {
			return nil, fmt.Errorf("parse job %s: %w", rec.ID, err)
		}
		out = append(out, &j)
	}
	sortByCreation(out)
	return out, nil
}

func (r *SQLiteRepository) Close() error {
	return r.records.Close()
}
