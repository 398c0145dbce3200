package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 10 * time.Second
)

// Conn is one live subscriber connection.
type Conn interface {
	WriteMessage(ctx context.Context, payload []byte) error
	Close() error
}

// Snapshotter produces the full current state for new subscribers.
type Snapshotter interface {
	Snapshot(ctx context.Context) (board.Event, error)
}

type Options struct {
	// QueueSize bounds the events buffered per subscriber while its writer is
	// busy. A subscriber whose queue is full is evicted, so it should cover
	// the largest burst of expiries expected at once.
	QueueSize    int
	WriteTimeout time.Duration
}

// Hub fans events out to every registered subscriber. Each subscriber has its
// own queue and writer, so a slow or broken connection never delays others and
// every subscriber sees events in the order they were broadcast.
type Hub struct {
	snapshot     Snapshotter
	keys         board.KeyScheme
	queueSize    int
	writeTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	id    string
	conn  Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func New(snapshot Snapshotter, keys board.KeyScheme, opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Hub{
		snapshot:     snapshot,
		keys:         keys,
		queueSize:    opts.QueueSize,
		writeTimeout: opts.WriteTimeout,
		subs:         make(map[string]*subscriber),
	}
}

// Register adds conn and queues the current snapshot ahead of any event
// broadcast after this call. It returns the subscriber id.
func (h *Hub) Register(ctx context.Context, conn Conn) (string, error) {
	s := &subscriber{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan []byte, h.queueSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()

	ev, err := h.snapshot.Snapshot(ctx)
	if err != nil {
		h.evict(s)
		return "", fmt.Errorf("hub: snapshot: %w", err)
	}
	first, err := json.Marshal(ev)
	if err != nil {
		h.evict(s)
		return "", fmt.Errorf("hub: encode snapshot: %w", err)
	}

	zap.L().Named("hub").Info("subscriber registered", zap.String("subscriber", s.id), zap.Int("rooms", len(ev.Rooms)))
	go h.writeLoop(s, first)
	return s.id, nil
}

// Unregister removes a subscriber and closes its connection.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s := h.subs[id]
	h.mu.Unlock()
	if s != nil {
		h.evict(s)
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast queues ev for every subscriber.
func (h *Hub) Broadcast(ev board.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("hub: encode event: %w", err)
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case <-s.done:
		case s.queue <- payload:
		default:
			zap.L().Named("hub").Debug("subscriber queue full, evicting", zap.String("subscriber", s.id))
			h.evict(s)
		}
	}
	return nil
}

// Close evicts every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (h *Hub) evict(s *subscriber) {
	h.mu.Lock()
	if cur, ok := h.subs[s.id]; ok && cur == s {
		delete(h.subs, s.id)
	}
	h.mu.Unlock()
	s.close()
}

func (h *Hub) writeLoop(s *subscriber, first []byte) {
	defer h.evict(s)
	if !h.write(s, first) {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.queue:
			if !h.write(s, payload) {
				return
			}
		}
	}
}

func (h *Hub) write(s *subscriber, payload []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	if err := s.conn.WriteMessage(ctx, payload); err != nil {
		zap.L().Named("hub").Debug("delivery failed, evicting", zap.String("subscriber", s.id), zap.Error(err))
		return false
	}
	return true
}
