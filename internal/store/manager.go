package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/vecstore/internal/embedding"
	"github.com/hyperjump/vecstore/internal/graph"
	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/pkg/utils"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Manager owns the stores directory and hands out one shared *Store per name, so
// the worker and request handlers contend on the same per-store lock.
type Manager struct {
	root        string
	registry    *embedding.Registry
	logger      *zap.Logger
	graphParams graph.Params
	builds      singleflight.Group

	mu     sync.Mutex
	stores map[string]*Store
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger passed to every store.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = utils.OrNop(l)
	}
}

// WithDefaultGraphParams sets the graph parameters used for lazy builds.
func WithDefaultGraphParams(p graph.Params) ManagerOption {
	return func(m *Manager) {
		m.graphParams = p
	}
}

// NewManager returns a manager rooted at root, creating it if needed.
func NewManager(root string, registry *embedding.Registry, opts ...ManagerOption) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create stores dir: %w", err)
	}
	m := &Manager{
		root:        root,
		registry:    registry,
		logger:      zap.NewNop(),
		graphParams: graph.Params{K: 10, EfConstruction: 200, M: 32, InsertChunk: 4},
		stores:      make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ValidateName rejects names that are not safe as a single path element.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return &ValidationError{Field: "store name", Message: fmt.Sprintf("%q must be 1-64 characters of letters, digits, '.', '_' or '-'", name)}
	}
	return nil
}

func (m *Manager) storeOptions() []Option {
	return []Option{
		WithLogger(m.logger.With(zap.String("component", "store"))),
		WithGraphParams(m.graphParams),
		withBuildGroup(&m.builds),
	}
}

// Create makes a new empty store bound to model.
func (m *Manager) Create(name, model string) (*Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, ok := m.registry.Lookup(model); !ok {
		return nil, &ValidationError{Field: "model", Message: fmt.Sprintf("unknown model %q", model)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dir := filepath.Join(m.root, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, &ValidationError{Field: "store name", Message: fmt.Sprintf("store %q already exists", name)}
	}
	enc, err := m.registry.Encoder(model)
	if err != nil {
		return nil, err
	}
	s, err := Create(dir, models.StoreMeta{Name: name, Model: model}, enc, m.storeOptions()...)
	if err != nil {
		return nil, err
	}
	m.stores[name] = s
	m.logger.Info("store created", zap.String("store", name), zap.String("model", model))
	return s, nil
}

// Get returns the named store, opening it on first use.
func (m *Manager) Get(name string) (*Store, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	dir := filepath.Join(m.root, name)
	meta, err := readMeta(dir)
	if err != nil {
		return nil, err
	}
	enc, err := m.registry.Encoder(meta.Model)
	if err != nil {
		return nil, err
	}
	s, err := Open(dir, enc, m.storeOptions()...)
	if err != nil {
		return nil, err
	}
	m.stores[name] = s
	return s, nil
}

// Names lists store directories in lexical order.
func (m *Manager) Names() ([]string, error) {
	dirEntries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	var names []string
	for _, d := range dirEntries {
		if !d.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.root, d.Name(), metaFile)); err == nil {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// List returns info for every store. Stores that fail to open are skipped and logged.
func (m *Manager) List() ([]models.StoreInfo, error) {
	names, err := m.Names()
	if err != nil {
		return nil, err
	}
	infos := make([]models.StoreInfo, 0, len(names))
	for _, name := range names {
		s, err := m.Get(name)
		if err != nil {
			m.logger.Warn("skipping store", zap.String("store", name), zap.Error(err))
			continue
		}
		info, err := s.Info()
		if err != nil {
			m.logger.Warn("store info failed", zap.String("store", name), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete irreversibly removes the named store.
func (m *Manager) Delete(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.stores, name)
	m.mu.Unlock()
	if err := s.destroy(); err != nil {
		return err
	}
	m.logger.Info("store deleted", zap.String("store", name))
	return nil
}

// Close closes every open store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %q: %w", name, err))
		}
		delete(m.stores, name)
	}
	return errors.Join(errs...)
}
