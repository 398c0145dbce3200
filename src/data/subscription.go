package data

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Source tells where a notification came from.
type Source int

const (
	// SourceAnnouncement is a message a writer published on the change channel.
	SourceAnnouncement Source = iota
	// SourceKeyevent is a keyevent notification generated by Redis itself.
	SourceKeyevent
)

func (s Source) String() string {
	switch s {
	case SourceAnnouncement:
		return "announcement"
	case SourceKeyevent:
		return "keyevent"
	default:
		return "unknown"
	}
}

// Notification is one raw change message. For keyevents Channel holds the
// event channel (e.g. __keyevent@0__:expired) and Payload the key.
type Notification struct {
	Source  Source
	Channel string
	Payload string
}

// Subscription delivers notifications in the order Redis sent them.
type Subscription struct {
	ps   *redis.PubSub
	c    chan Notification
	done chan struct{}
	once sync.Once
}

// Subscribe listens on the announcement channel and, when keyevents is set,
// on the keyevent pattern as well.
func (s *RedisStore) Subscribe(ctx context.Context, channel string, keyevents bool) (*Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	if keyevents {
		if err := ps.PSubscribe(ctx, s.KeyeventPattern()); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("psubscribe keyevents: %w", err)
		}
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &Subscription{
		ps:   ps,
		c:    make(chan Notification),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

func (sub *Subscription) forward() {
	defer close(sub.c)
	in := sub.ps.Channel()
	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			n := Notification{Source: SourceAnnouncement, Channel: msg.Channel, Payload: msg.Payload}
			if msg.Pattern != "" {
				n.Source = SourceKeyevent
			}
			select {
			case sub.c <- n:
			case <-sub.done:
				return
			}
		}
	}
}

// C returns the notification stream. It is closed after Close.
func (sub *Subscription) C() <-chan Notification { return sub.c }

func (sub *Subscription) Close() error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		err = sub.ps.Close()
	})
	return err
}
