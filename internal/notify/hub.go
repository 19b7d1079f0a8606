// internal/notify/hub.go
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	subscriberBuffer = 32
	// DefaultBacklog is how many messages are kept for a recipient with no
	// open connection.
	DefaultBacklog = 20
	// DefaultBacklogAge is how long a kept message stays deliverable.
	DefaultBacklogAge = 15 * time.Minute
	// DefaultBacklogRecipients caps how many recipients have kept messages.
	DefaultBacklogRecipients = 1000
)

type subscriber struct {
	ch chan string
}

type queued struct {
	text string
	at   time.Time
}

// Hub routes notifications to websocket subscribers keyed by recipient id.
// Messages for a recipient nobody listens to are kept in a bounded backlog and
// flushed to the next subscriber.
type Hub struct {
	mu            sync.Mutex
	subs          map[int64]map[*subscriber]struct{}
	backlog       map[int64][]queued
	limit         int
	maxAge        time.Duration
	maxRecipients int
	now           func() time.Time
	logger        *logrus.Logger
}

type HubOption func(*Hub)

// WithBacklogAge drops kept messages older than d.
func WithBacklogAge(d time.Duration) HubOption {
	return func(h *Hub) { h.maxAge = d }
}

// WithBacklogRecipients keeps messages for at most n recipients; the one
// notified least recently is evicted first.
func WithBacklogRecipients(n int) HubOption {
	return func(h *Hub) { h.maxRecipients = n }
}

func NewHub(logger *logrus.Logger, backlog int, opts ...HubOption) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	h := &Hub{
		subs:          make(map[int64]map[*subscriber]struct{}),
		backlog:       make(map[int64][]queued),
		limit:         backlog,
		maxAge:        DefaultBacklogAge,
		maxRecipients: DefaultBacklogRecipients,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a listener for recipient. The returned func must be
// called once the listener goes away.
func (h *Hub) Subscribe(recipient int64) (<-chan string, func()) {
	s := &subscriber{ch: make(chan string, subscriberBuffer+h.limit)}

	h.mu.Lock()
	if h.subs[recipient] == nil {
		h.subs[recipient] = make(map[*subscriber]struct{})
	}
	h.subs[recipient][s] = struct{}{}
	cutoff := h.now().Add(-h.maxAge)
	for _, q := range h.backlog[recipient] {
		if q.at.After(cutoff) {
			s.ch <- q.text
		}
	}
	delete(h.backlog, recipient)
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[recipient], s)
			if len(h.subs[recipient]) == 0 {
				delete(h.subs, recipient)
			}
			close(s.ch)
		})
	}
}

func (h *Hub) Notify(_ context.Context, recipient int64, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[recipient]
	if len(subs) == 0 {
		h.keep(recipient, text)
		return nil
	}
	for s := range subs {
		select {
		case s.ch <- text:
		default:
			h.logger.WithField("recipient", recipient).Warn("subscriber too slow, dropping notification")
		}
	}
	return nil
}

// keep appends text to recipient's backlog. Callers hold h.mu.
func (h *Hub) keep(recipient int64, text string) {
	now := h.now()
	if _, ok := h.backlog[recipient]; !ok && len(h.backlog) >= h.maxRecipients {
		h.pruneExpired(now)
		if len(h.backlog) >= h.maxRecipients {
			h.evictStalest()
		}
	}

	q := append(h.backlog[recipient], queued{text: text, at: now})
	if len(q) > h.limit {
		q = q[len(q)-h.limit:]
	}
	h.backlog[recipient] = q
}

func (h *Hub) pruneExpired(now time.Time) {
	cutoff := now.Add(-h.maxAge)
	for id, q := range h.backlog {
		if !q[len(q)-1].at.After(cutoff) {
			delete(h.backlog, id)
		}
	}
}

// evictStalest drops the recipient whose newest kept message is oldest.
func (h *Hub) evictStalest() {
	var (
		victim int64
		oldest time.Time
		found  bool
	)
	for id, q := range h.backlog {
		last := q[len(q)-1].at
		if !found || last.Before(oldest) {
			victim, oldest, found = id, last, true
		}
	}
	if found {
		delete(h.backlog, victim)
		h.logger.WithField("recipient", victim).Debug("backlog full, evicting recipient")
	}
}

// Subscribers returns the number of open listeners for recipient.
func (h *Hub) Subscribers(recipient int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[recipient])
}

// BacklogRecipients returns how many recipients have kept messages.
func (h *Hub) BacklogRecipients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.backlog)
}
