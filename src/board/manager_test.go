package board

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/stake-plus/roomboard/src/board/validate"
	"github.com/stake-plus/roomboard/src/data"
)

// idStage copies the raw id through, like the smallest possible plugin.
var idStage = validate.StageFunc(func(raw, acc validate.Fields) (validate.Fields, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, validate.Errorf("id", "id must not be empty.")
	}
	return validate.Fields{"id": id}, nil
})

type memStore struct {
	mu        sync.Mutex
	values    map[string][]byte
	ttls      map[string]time.Duration
	published []Event
	failPub   error
	failKeys  error
}

func newMemStore() *memStore {
	return &memStore{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys != nil {
		return nil, s.failKeys
	}
	var out []string
	for k := range s.values {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) GetMany(_ context.Context, keys []string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = s.values[k]
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *memStore) Publish(_ context.Context, _ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPub != nil {
		return s.failPub
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	s.published = append(s.published, ev)
	return nil
}

func (s *memStore) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.published...)
}

func submission(owner, id string) validate.Fields {
	return validate.Fields{"id": id, "owner": map[string]any{"id": owner, "name": "alice"}, "time": 1499794027}
}

func TestManager_SaveReplacesOwnersRoom(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{TTL: 10 * time.Second})
	ctx := context.Background()

	if _, err := m.Save(ctx, submission("1", "1234567")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(ctx, submission("1", "7654321")); err != nil {
		t.Fatal(err)
	}

	keys, _ := store.Keys(ctx, "room:*")
	if len(keys) != 1 || keys[0] != "room:1:7654321" {
		t.Fatalf("keys = %v", keys)
	}
	if ttl := store.ttls["room:1:7654321"]; ttl != 10*time.Second {
		t.Errorf("ttl = %v", ttl)
	}

	evs := store.events()
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	if evs[0].Type != EventPartial || evs[0].Rooms[0].ID != "1234567" {
		t.Errorf("evs[0] = %+v", evs[0])
	}
	if evs[1].Type != EventDelete || len(evs[1].IDs) != 1 || evs[1].IDs[0] != "1234567" {
		t.Errorf("evs[1] = %+v", evs[1])
	}
	if evs[2].Type != EventPartial || evs[2].Rooms[0].ID != "7654321" {
		t.Errorf("evs[2] = %+v", evs[2])
	}
}

func TestManager_SaveSameRoomAgain(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.Save(ctx, submission("1", "1234567")); err != nil {
			t.Fatal(err)
		}
	}
	keys, _ := store.Keys(ctx, "room:*")
	if len(keys) != 1 {
		t.Errorf("keys = %v", keys)
	}
	evs := store.events()
	if len(evs) != 3 || evs[1].Type != EventDelete {
		t.Errorf("events = %+v", evs)
	}
}

func TestManager_SaveRejectsInvalidInput(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{})

	_, err := m.Save(context.Background(), validate.Fields{"id": "1234567", "owner": map[string]any{"id": ""}})
	if !validate.IsUserError(err) {
		t.Fatalf("err = %v, want a user error", err)
	}
	if len(store.values) != 0 || len(store.events()) != 0 {
		t.Error("invalid input must not touch the store")
	}
}

func TestManager_PluginContractViolation(t *testing.T) {
	dropID := validate.StageFunc(func(raw, acc validate.Fields) (validate.Fields, error) {
		return validate.Fields{"id": ""}, nil
	})
	store := newMemStore()
	m := NewManager(store, validate.New(idStage, dropID), Options{})

	_, err := m.Save(context.Background(), submission("1", "1234567"))
	if !errors.Is(err, ErrPluginContract) {
		t.Fatalf("err = %v, want ErrPluginContract", err)
	}
	if validate.IsUserError(err) {
		t.Error("contract violations are not user errors")
	}
	if len(store.values) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestManager_Destroy(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{})
	ctx := context.Background()

	if err := m.Destroy(ctx, submission("1", "1234567")); err != nil {
		t.Fatalf("destroying a missing room: %v", err)
	}
	if len(store.events()) != 0 {
		t.Error("no event expected for a missing room")
	}

	if _, err := m.Save(ctx, submission("1", "1234567")); err != nil {
		t.Fatal(err)
	}
	if err := m.Destroy(ctx, submission("2", "1234567")); err != nil {
		t.Fatal(err)
	}
	if len(store.values) != 1 {
		t.Fatal("another owner must not destroy the room")
	}
	if err := m.Destroy(ctx, submission("1", "1234567")); err != nil {
		t.Fatal(err)
	}
	if len(store.values) != 0 {
		t.Error("room should be gone")
	}
	evs := store.events()
	last := evs[len(evs)-1]
	if last.Type != EventDelete || last.IDs[0] != "1234567" {
		t.Errorf("last event = %+v", last)
	}
}

func TestManager_KeyeventsSuppressDeleteAnnouncements(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{Keyevents: true})
	ctx := context.Background()

	_, _ = m.Save(ctx, submission("1", "1234567"))
	_, _ = m.Save(ctx, submission("1", "7654321"))
	_ = m.Destroy(ctx, submission("1", "7654321"))

	for _, ev := range store.events() {
		if ev.Type == EventDelete {
			t.Fatalf("unexpected delete announcement %+v", ev)
		}
	}
	if len(store.events()) != 2 {
		t.Errorf("got %d events, want 2 partials", len(store.events()))
	}
}

func TestManager_BackendErrors(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{})
	ctx := context.Background()

	store.failPub = errors.New("connection reset")
	_, err := m.Save(ctx, submission("1", "1234567"))
	if !IsBackendError(err) {
		t.Fatalf("err = %v, want backend error", err)
	}
	if len(store.values) != 1 {
		t.Error("record stays after a failed announcement")
	}

	store.failKeys = errors.New("timeout")
	if _, err := m.ListAll(ctx); !IsBackendError(err) {
		t.Errorf("ListAll err = %v", err)
	}
}

func TestManager_ListAllAndSnapshot(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, validate.New(idStage), Options{})
	ctx := context.Background()

	ev, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventAll || len(ev.Rooms) != 0 {
		t.Errorf("empty snapshot = %+v", ev)
	}

	for i, owner := range []string{"1", "2", "3"} {
		if _, err := m.Save(ctx, submission(owner, []string{"1111111", "2222222", "3333333"}[i])); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.Put(ctx, "room:4:broken", []byte("{"), time.Minute)

	rooms, err := m.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 3 {
		t.Errorf("got %d rooms, want 3", len(rooms))
	}
}

func TestManager_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := data.NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	store := data.NewRedisStore(rdb)
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, DefaultChannel, false)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	m := NewManager(store, validate.New(idStage), Options{TTL: 30 * time.Second})
	if _, err := m.Save(ctx, submission("1", "1234567")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(ctx, submission("1", "7654321")); err != nil {
		t.Fatal(err)
	}

	want := []string{EventPartial, EventDelete, EventPartial}
	for i, typ := range want {
		select {
		case n := <-sub.C():
			var ev Event
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Type != typ {
				t.Errorf("event %d = %s, want %s", i, ev.Type, typ)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	if mr.Exists("room:1:1234567") || !mr.Exists("room:1:7654321") {
		t.Error("owner should hold only the newest room")
	}
	if ttl := mr.TTL("room:1:7654321"); ttl != 30*time.Second {
		t.Errorf("ttl = %v", ttl)
	}

	mr.FastForward(31 * time.Second)
	rooms, err := m.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 0 {
		t.Errorf("rooms after expiry = %v", rooms)
	}
}
