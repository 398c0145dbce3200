package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/data"
)

type fakeConn struct {
	mu      sync.Mutex
	fail    bool
	block   chan struct{}
	closed  chan struct{}
	once    sync.Once
	written chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{}), written: make(chan []byte, 100)}
}

func (c *fakeConn) WriteMessage(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	fail, block := c.fail, c.block
	c.mu.Unlock()
	if fail {
		return errors.New("broken pipe")
	}
	if block != nil {
		select {
		case <-block:
		case <-c.closed:
			return errors.New("closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.written <- payload
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) next(t *testing.T) board.Event {
	t.Helper()
	select {
	case p := <-c.written:
		var ev board.Event
		if err := json.Unmarshal(p, &ev); err != nil {
			t.Fatalf("decode %s: %v", p, err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return board.Event{}
}

type fakeSnapshot struct {
	rooms []board.Room
	err   error
}

func (f fakeSnapshot) Snapshot(context.Context) (board.Event, error) {
	if f.err != nil {
		return board.Event{}, f.err
	}
	return board.AllEvent(f.rooms), nil
}

func room(owner, id string) board.Room {
	return board.Room{ID: id, Owner: board.Identity{ID: owner}, Time: 1499794027}
}

var keys = board.KeyScheme{Prefix: "room"}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_RegisterSendsSnapshotFirst(t *testing.T) {
	snap := fakeSnapshot{rooms: []board.Room{room("1", "1111111"), room("2", "2222222"), room("3", "3333333")}}
	h := New(snap, keys, Options{})
	c := newFakeConn()

	if _, err := h.Register(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if err := h.Broadcast(board.DeleteEvent("1111111")); err != nil {
		t.Fatal(err)
	}

	first := c.next(t)
	if first.Type != board.EventAll || len(first.Rooms) != 3 {
		t.Fatalf("first event = %+v, want all with 3 rooms", first)
	}
	second := c.next(t)
	if second.Type != board.EventDelete || len(second.IDs) != 1 || second.IDs[0] != "1111111" {
		t.Errorf("second event = %+v", second)
	}
}

func TestHub_EmptySnapshotHasEmptyData(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	c := newFakeConn()
	if _, err := h.Register(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-c.written:
		if string(p) != `{"type":"all","data":[]}` {
			t.Errorf("payload = %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
}

func TestHub_BroadcastPreservesOrderPerSubscriber(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, c := range conns {
		if _, err := h.Register(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		_ = h.Broadcast(board.DeleteEvent(id))
	}

	for _, c := range conns {
		c.next(t) // snapshot
		for _, want := range ids {
			ev := c.next(t)
			if ev.IDs[0] != want {
				t.Fatalf("got %v, want %s", ev.IDs, want)
			}
		}
	}
}

func TestHub_FailedDeliveryEvictsOnlyThatSubscriber(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	good, bad := newFakeConn(), newFakeConn()
	for _, c := range []*fakeConn{good, bad} {
		if _, err := h.Register(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	good.next(t)
	bad.next(t)

	bad.mu.Lock()
	bad.fail = true
	bad.mu.Unlock()

	_ = h.Broadcast(board.PartialEvent(room("1", "1234567")))

	if ev := good.next(t); ev.Type != board.EventPartial {
		t.Errorf("good got %+v", ev)
	}
	waitFor(t, func() bool { return h.Len() == 1 })
	if !bad.isClosed() {
		t.Error("failed connection should be closed")
	}

	_ = h.Broadcast(board.DeleteEvent("1234567"))
	if ev := good.next(t); ev.Type != board.EventDelete {
		t.Errorf("good got %+v", ev)
	}
}

func TestHub_LaggingSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{QueueSize: 1})
	slow, fast := newFakeConn(), newFakeConn()
	slow.block = make(chan struct{})

	if _, err := h.Register(context.Background(), slow); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Register(context.Background(), fast); err != nil {
		t.Fatal(err)
	}
	fast.next(t)

	for _, id := range []string{"a", "b", "c"} {
		_ = h.Broadcast(board.DeleteEvent(id))
		if ev := fast.next(t); ev.IDs[0] != id {
			t.Fatalf("fast got %v, want %s", ev.IDs, id)
		}
	}

	waitFor(t, func() bool { return h.Len() == 1 })
	if !slow.isClosed() {
		t.Error("slow subscriber should have been evicted")
	}
}

func TestHub_BurstWithinQueueKeepsSubscriber(t *testing.T) {
	const burst = 8
	h := New(fakeSnapshot{}, keys, Options{QueueSize: burst})
	c := newFakeConn()
	release := make(chan struct{})
	c.block = release

	if _, err := h.Register(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	ids := make([]string, burst)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		_ = h.Broadcast(board.DeleteEvent(ids[i]))
	}
	if h.Len() != 1 || c.isClosed() {
		t.Fatal("subscriber evicted by a burst that fits its queue")
	}

	close(release)
	if ev := c.next(t); ev.Type != board.EventAll {
		t.Fatalf("first = %s, want all", ev.Type)
	}
	for _, id := range ids {
		if ev := c.next(t); ev.IDs[0] != id {
			t.Fatalf("got %v, want %s", ev.IDs, id)
		}
	}
}

func TestNew_DefaultQueueSize(t *testing.T) {
	if h := New(fakeSnapshot{}, keys, Options{}); h.queueSize != DefaultQueueSize {
		t.Errorf("queueSize = %d, want %d", h.queueSize, DefaultQueueSize)
	}
}

func TestHub_Unregister(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	c := newFakeConn()
	id, err := h.Register(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	h.Unregister(id)
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
	if !c.isClosed() {
		t.Error("connection should be closed")
	}
	h.Unregister(id)
}

func TestHub_RegisterSnapshotError(t *testing.T) {
	h := New(fakeSnapshot{err: errors.New("redis down")}, keys, Options{})
	c := newFakeConn()
	if _, err := h.Register(context.Background(), c); err == nil {
		t.Fatal("expected an error")
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
	if !c.isClosed() {
		t.Error("connection should be closed")
	}
}

func TestHub_Close(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	c := newFakeConn()
	if _, err := h.Register(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	h.Close()
	if h.Len() != 0 || !c.isClosed() {
		t.Error("Close should evict every subscriber")
	}
}

func TestHub_RunForwardsNotificationsInOrder(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	c := newFakeConn()
	if _, err := h.Register(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	c.next(t)

	partial, _ := json.Marshal(board.PartialEvent(room("1", "7654321")))
	in := make(chan data.Notification, 4)
	in <- data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:set", Payload: "room:1:7654321"}
	in <- data.Notification{Source: data.SourceAnnouncement, Channel: "newroom", Payload: string(partial)}
	in <- data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:expired", Payload: "room:1:7654321"}
	close(in)

	if err := h.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	if ev := c.next(t); ev.Type != board.EventPartial || ev.Rooms[0].ID != "7654321" {
		t.Errorf("first = %+v", ev)
	}
	if ev := c.next(t); ev.Type != board.EventDelete || ev.IDs[0] != "7654321" {
		t.Errorf("second = %+v", ev)
	}
}

func TestHub_RunStopsOnContext(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Run(ctx, make(chan data.Notification)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHub_Translate(t *testing.T) {
	h := New(fakeSnapshot{}, keys, Options{})

	cases := []struct {
		name string
		n    data.Notification
		want *board.Event
	}{
		{"expired", data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:expired", Payload: "room:1:1234567"}, &board.Event{Type: board.EventDelete, IDs: []string{"1234567"}}},
		{"del", data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:del", Payload: "room:1:1234567"}, &board.Event{Type: board.EventDelete, IDs: []string{"1234567"}}},
		{"set", data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:set", Payload: "room:1:1234567"}, nil},
		{"expire", data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:expire", Payload: "room:1:1234567"}, nil},
		{"foreign key", data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:del", Payload: "session:abc"}, nil},
		{"other command", data.Notification{Source: data.SourceKeyevent, Channel: "__keyevent@0__:rename_from", Payload: "room:1:1234567"}, nil},
		{"bad announcement", data.Notification{Source: data.SourceAnnouncement, Channel: "newroom", Payload: "not json"}, nil},
		{"announcement", data.Notification{Source: data.SourceAnnouncement, Channel: "newroom", Payload: `{"type":"delete","data":[{"id":"1"}]}`}, &board.Event{Type: board.EventDelete, IDs: []string{"1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := h.Translate(tc.n)
			if tc.want == nil {
				if ok {
					t.Errorf("expected no event, got %+v", ev)
				}
				return
			}
			if !ok {
				t.Fatal("expected an event")
			}
			if ev.Type != tc.want.Type || len(ev.IDs) != len(tc.want.IDs) || ev.IDs[0] != tc.want.IDs[0] {
				t.Errorf("got %+v, want %+v", ev, *tc.want)
			}
		})
	}
}
