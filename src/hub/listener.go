package hub

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/data"
)

// Run broadcasts every notification from in, in arrival order, until ctx is
// done or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan data.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-in:
			if !ok {
				return nil
			}
			ev, ok := h.Translate(n)
			if !ok {
				continue
			}
			if err := h.Broadcast(ev); err != nil {
				zap.L().Named("hub").Warn("broadcast failed", zap.Error(err))
			}
		}
	}
}

// Translate maps a raw notification to a board event. Keyevents only matter
// when a key disappears; set and expire are already covered by the writer's
// own announcement.
func (h *Hub) Translate(n data.Notification) (board.Event, bool) {
	log := zap.L().Named("hub")

	switch n.Source {
	case data.SourceAnnouncement:
		var ev board.Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			log.Warn("ignoring malformed announcement", zap.String("channel", n.Channel), zap.Error(err))
			return board.Event{}, false
		}
		return ev, true

	case data.SourceKeyevent:
		command := n.Channel[strings.LastIndex(n.Channel, ":")+1:]
		switch command {
		case "expired", "del":
			_, roomID, ok := h.keys.Split(n.Payload)
			if !ok {
				return board.Event{}, false
			}
			return board.DeleteEvent(roomID), true
		case "set", "expire":
			return board.Event{}, false
		default:
			log.Debug("no action for keyevent", zap.String("channel", n.Channel))
			return board.Event{}, false
		}
	}
	return board.Event{}, false
}
