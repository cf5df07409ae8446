// Package broadcast fans live readings and session changes out to stream
// subscribers. Publishing never blocks: a subscriber that falls behind loses
// its oldest buffered events and is flagged as lagging.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// DefaultBufferSize is the per-subscriber outbound buffer when none is configured.
const DefaultBufferSize = 64

var (
	ErrClosed             = errors.New("broadcast: broadcaster is closed")
	ErrSubscriberExists   = errors.New("broadcast: subscriber already exists")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
	ErrSubscriberClosed   = errors.New("broadcast: subscriber is closed")
)

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(ev models.Event)
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
	Buffered int    `json:"buffered"`
	Lagging  bool   `json:"lagging"`
}

// Stats aggregates delivery across subscribers.
type Stats struct {
	TotalPublished uint64                     `json:"total_published"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

type scaleSnapshot struct {
	reading *models.Event
	session *models.Event
}

// Broadcaster keeps the subscriber registry and the latest per-scale state.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	// latest is written under the read lock by concurrent publishers and read
	// under the write lock by Subscribe, so a new subscriber sees each publish
	// either in its snapshot or in its buffer, never both.
	latest sync.Map // int -> *scaleSnapshot

	bufferSize     int
	totalPublished uint64
	logger         *zap.Logger
}

// New creates a broadcaster whose subscribers buffer up to bufferSize events.
func New(bufferSize int, logger *zap.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a subscriber under id and seeds its buffer with the
// current per-scale snapshot.
func (b *Broadcaster) Subscribe(id string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := newSubscriber(id, b.bufferSize, b.logger)
	for _, ev := range b.snapshotLocked() {
		sub.push(ev)
	}
	b.subscribers[id] = sub

	b.logger.Debug("subscriber registered", zap.String("subscriber", id), zap.Int("snapshot_events", sub.Len()))
	return sub, nil
}

// Unsubscribe removes a subscriber and wakes any pending Next call.
func (b *Broadcaster) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	sub.close()
	delete(b.subscribers, id)
	return nil
}

// Publish records ev in the per-scale snapshot and pushes it to every subscriber.
func (b *Broadcaster) Publish(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.totalPublished, 1)
	b.remember(ev)

	for _, sub := range b.subscribers {
		sub.push(ev)
	}
}

// Snapshot returns the latest reading and session event of every scale.
func (b *Broadcaster) Snapshot() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Stats returns delivery statistics.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		TotalPublished: atomic.LoadUint64(&b.totalPublished),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		out.Subscribers[id] = sub.Stats()
	}
	return out
}

// Close shuts the broadcaster and all subscribers down.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		sub.close()
	}
	b.subscribers = nil
}

func (b *Broadcaster) remember(ev models.Event) {
	stored := ev
	if ev.Session != nil {
		s := ev.Session.Clone()
		stored.Session = &s
	}

	value, _ := b.latest.LoadOrStore(ev.ScaleID, &scaleSnapshot{})
	snap := value.(*scaleSnapshot)

	// events for one scale come from that scale's pipeline, which is sequential
	switch ev.Type {
	case models.EventSession:
		next := &scaleSnapshot{reading: snap.reading, session: &stored}
		b.latest.Store(ev.ScaleID, next)
	default:
		next := &scaleSnapshot{reading: &stored, session: snap.session}
		b.latest.Store(ev.ScaleID, next)
	}
}

func (b *Broadcaster) snapshotLocked() []models.Event {
	var ids []int
	b.latest.Range(func(key, _ any) bool {
		ids = append(ids, key.(int))
		return true
	})
	sort.Ints(ids)

	events := make([]models.Event, 0, len(ids)*2)
	for _, id := range ids {
		value, ok := b.latest.Load(id)
		if !ok {
			continue
		}
		snap := value.(*scaleSnapshot)
		if snap.reading != nil {
			events = append(events, *snap.reading)
		}
		if snap.session != nil {
			ev := *snap.session
			s := ev.Session.Clone()
			ev.Session = &s
			events = append(events, ev)
		}
	}
	return events
}

// Subscriber is one stream consumer with a bounded drop-oldest buffer.
type Subscriber struct {
	id     string
	logger *zap.Logger

	mu      sync.Mutex
	buf     []models.Event
	head    int
	size    int
	closed  bool
	lagging bool
	sent    uint64
	dropped uint64

	notify chan struct{}
}

func newSubscriber(id string, capacity int, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		id:     id,
		logger: logger,
		buf:    make([]models.Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

// ID returns the connection handle the subscriber was registered with.
func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) push(ev models.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.dropped++
		if !s.lagging {
			s.lagging = true
			s.logger.Warn("stream subscriber lagging, dropping oldest events",
				zap.String("subscriber", s.id),
				zap.Int("buffer", len(s.buf)))
		}
	}
	s.buf[(s.head+s.size)%len(s.buf)] = ev
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryNext returns the oldest buffered event without blocking.
func (s *Subscriber) TryNext() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked()
}

// Next blocks until an event is buffered, the subscriber is closed or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (models.Event, error) {
	for {
		s.mu.Lock()
		if ev, ok := s.popLocked(); ok {
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return models.Event{}, ErrSubscriberClosed
		}

		select {
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Len returns the number of buffered events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Stats returns the subscriber's delivery statistics.
func (s *Subscriber) Stats() SubscriberStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubscriberStats{Sent: s.sent, Dropped: s.dropped, Buffered: s.size, Lagging: s.lagging}
}

func (s *Subscriber) popLocked() (models.Event, bool) {
	if s.size == 0 {
		return models.Event{}, false
	}
	ev := s.buf[s.head]
	s.buf[s.head] = models.Event{}
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	s.sent++
	if s.size == 0 && s.lagging {
		s.lagging = false
		s.logger.Info("stream subscriber caught up", zap.String("subscriber", s.id), zap.Uint64("dropped_total", s.dropped))
	}
	return ev, true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
