// Package broadcast keeps the latest snapshot of every job and fans updates out
// to subscribers.
package broadcast

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/jobs"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// MessageTypeJobUpdate is the type of every message sent to subscribers.
const MessageTypeJobUpdate = "job_update"

const defaultOutbox = 64

// Message is the payload delivered to subscribers.
type Message struct {
	Type string   `json:"type"`
	Job  jobs.Job `json:"job"`
}

// Sink delivers messages to one subscriber, for example a websocket connection.
type Sink interface {
	Send(Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message) error

func (f SinkFunc) Send(m Message) error { return f(m) }

// Hub is the job directory plus the set of subscribers. Publish never blocks:
// each subscriber has its own bounded outbox drained by its own goroutine, and a
// subscriber whose outbox is full or whose send fails is dropped.
type Hub struct {
	mu     sync.Mutex
	jobs   map[string]jobs.Job
	subs   map[*Subscription]struct{}
	outbox int
	logger *zap.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = utils.OrNop(l) }
}

// WithOutboxSize sets the per-subscriber buffer used after the initial snapshot.
func WithOutboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.outbox = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		jobs:   make(map[string]jobs.Job),
		subs:   make(map[*Subscription]struct{}),
		outbox: defaultOutbox,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one registered sink.
type Subscription struct {
	hub  *Hub
	out  chan Message
	done chan struct{}
	once sync.Once
}

// Done is closed once the subscription stops delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Publish records the snapshot and queues it for every subscriber.
func (h *Hub) Publish(job jobs.Job) {
	msg := Message{Type: MessageTypeJobUpdate, Job: job}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[job.ID] = job
	for sub := range h.subs {
		select {
		case sub.out <- msg:
		default:
			h.logger.Warn("dropping slow subscriber", zap.String("job", job.ID))
			h.removeLocked(sub)
		}
	}
}

// Subscribe registers sink. The sink first receives every known job, then a full
// snapshot on each change.
func (h *Hub) Subscribe(sink Sink) *Subscription {
	h.mu.Lock()
	snapshot := h.sortedLocked()
	sub := &Subscription{
		hub:  h,
		out:  make(chan Message, len(snapshot)+h.outbox),
		done: make(chan struct{}),
	}
	for _, j := range snapshot {
		sub.out <- Message{Type: MessageTypeJobUpdate, Job: j}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer close(sub.done)
		for msg := range sub.out {
			if err := sink.Send(msg); err != nil {
				h.logger.Debug("subscriber send failed", zap.Error(err))
				h.remove(sub)
				return
			}
		}
	}()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.once.Do(func() { close(sub.out) })
}

// Jobs returns every known job ordered by creation time.
func (h *Hub) Jobs() []jobs.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sortedLocked()
}

// Job returns the latest snapshot of id.
func (h *Hub) Job(id string) (jobs.Job, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	j, ok := h.jobs[id]
	return j, ok
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) sortedLocked() []jobs.Job {
	out := make([]jobs.Job, 0, len(h.jobs))
	for _, j := range h.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}
