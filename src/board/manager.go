package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board/validate"
)

const (
	DefaultPrefix  = "room"
	DefaultChannel = "newroom"
	DefaultTTL     = 120 * time.Second
)

// Store is the expiring key-value backend the board writes through.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Options configures a Manager. Zero values fall back to the defaults.
type Options struct {
	Prefix  string
	TTL     time.Duration
	Channel string
	// Keyevents is set when the backend reports deletions itself, in which
	// case the manager only announces creations.
	Keyevents bool
}

// Manager keeps at most one room per owner and announces every change.
type Manager struct {
	store     Store
	pipeline  *validate.Pipeline
	keys      KeyScheme
	ttl       time.Duration
	channel   string
	keyevents bool
}

func NewManager(store Store, pipeline *validate.Pipeline, opts Options) *Manager {
	if pipeline == nil {
		pipeline = validate.New()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	return &Manager{
		store:     store,
		pipeline:  pipeline,
		keys:      KeyScheme{Prefix: opts.Prefix},
		ttl:       opts.TTL,
		channel:   opts.Channel,
		keyevents: opts.Keyevents,
	}
}

func (m *Manager) Keys() KeyScheme    { return m.keys }
func (m *Manager) TTL() time.Duration { return m.ttl }
func (m *Manager) Channel() string    { return m.channel }

// Validate runs the pipeline and converts the result into a Room.
func (m *Manager) Validate(raw validate.Fields) (Room, error) {
	fields, err := m.pipeline.Validate(raw)
	if err != nil {
		return Room{}, err
	}
	room, err := FromFields(fields)
	if err != nil {
		zap.L().Named("board").Error("validator contract violated", zap.Error(err))
		return Room{}, err
	}
	return room, nil
}

// Save validates raw, removes any room the same owner already has and stores
// the new one with the configured TTL.
func (m *Manager) Save(ctx context.Context, raw validate.Fields) (Room, error) {
	room, err := m.Validate(raw)
	if err != nil {
		return Room{}, err
	}
	log := zap.L().Named("board")

	ownerKeys, err := m.store.Keys(ctx, m.keys.OwnerPattern(room.Owner.ID))
	if err != nil {
		return Room{}, fmt.Errorf("%w: scan owner keys: %w", ErrBackend, err)
	}
	if len(ownerKeys) > 0 {
		log.Debug("owner has rooms", zap.String("owner", room.Owner.ID), zap.Strings("keys", ownerKeys))
		if err := m.removeKeys(ctx, ownerKeys); err != nil {
			return Room{}, err
		}
	}

	payload, err := json.Marshal(room)
	if err != nil {
		return Room{}, fmt.Errorf("board: encode room: %w", err)
	}
	if err := m.store.Put(ctx, m.keys.Key(room.Owner.ID, room.ID), payload, m.ttl); err != nil {
		return Room{}, fmt.Errorf("%w: store room: %w", ErrBackend, err)
	}
	if err := m.publish(ctx, PartialEvent(room)); err != nil {
		return Room{}, err
	}
	return room, nil
}

// Destroy removes the room described by raw. A room that does not exist is
// not an error.
func (m *Manager) Destroy(ctx context.Context, raw validate.Fields) error {
	room, err := m.Validate(raw)
	if err != nil {
		return err
	}
	keys, err := m.store.Keys(ctx, m.keys.RoomPattern(room.Owner.ID, room.ID))
	if err != nil {
		return fmt.Errorf("%w: scan room keys: %w", ErrBackend, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return m.removeKeys(ctx, keys)
}

// removeKeys deletes keys and, unless the backend announces deletions on its
// own, publishes one delete event per key.
func (m *Manager) removeKeys(ctx context.Context, keys []string) error {
	if err := m.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%w: delete keys: %w", ErrBackend, err)
	}
	if m.keyevents {
		return nil
	}
	for _, key := range keys {
		_, roomID, ok := m.keys.Split(key)
		if !ok {
			continue
		}
		if err := m.publish(ctx, DeleteEvent(roomID)); err != nil {
			return err
		}
	}
	return nil
}

// ListAll returns every room currently stored. Keys that expire between the
// scan and the fetch are skipped.
func (m *Manager) ListAll(ctx context.Context) ([]Room, error) {
	keys, err := m.store.Keys(ctx, m.keys.AllPattern())
	if err != nil {
		return nil, fmt.Errorf("%w: scan rooms: %w", ErrBackend, err)
	}
	rooms := make([]Room, 0, len(keys))
	if len(keys) == 0 {
		return rooms, nil
	}
	values, err := m.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch rooms: %w", ErrBackend, err)
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		var room Room
		if err := json.Unmarshal(v, &room); err != nil {
			zap.L().Named("board").Warn("skipping undecodable room", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// Snapshot wraps ListAll in an "all" event.
func (m *Manager) Snapshot(ctx context.Context) (Event, error) {
	rooms, err := m.ListAll(ctx)
	if err != nil {
		return Event{}, err
	}
	return AllEvent(rooms), nil
}

func (m *Manager) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("board: encode event: %w", err)
	}
	if err := m.store.Publish(ctx, m.channel, payload); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrBackend, ev.Type, err)
	}
	return nil
}

// IsBackendError reports whether err came from the record store.
func IsBackendError(err error) bool { return errors.Is(err, ErrBackend) }
