package board

import (
	"encoding/json"
	"fmt"
)

const (
	EventPartial = "partial"
	EventDelete  = "delete"
	EventAll     = "all"
)

// Event is the single shape every subscriber sees. Partial and all events
// carry Rooms; delete events carry room IDs.
type Event struct {
	Type  string
	Rooms []Room
	IDs   []string
}

type roomRef struct {
	ID string `json:"id"`
}

// PartialEvent announces created or replaced rooms.
func PartialEvent(rooms ...Room) Event { return Event{Type: EventPartial, Rooms: rooms} }

// DeleteEvent announces rooms that disappeared.
func DeleteEvent(ids ...string) Event { return Event{Type: EventDelete, IDs: ids} }

// AllEvent is a full snapshot.
func AllEvent(rooms []Room) Event { return Event{Type: EventAll, Rooms: rooms} }

func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventDelete:
		refs := make([]roomRef, 0, len(e.IDs))
		for _, id := range e.IDs {
			refs = append(refs, roomRef{ID: id})
		}
		data = refs
	case EventPartial, EventAll:
		rooms := e.Rooms
		if rooms == nil {
			rooms = []Room{}
		}
		data = rooms
	default:
		return nil, fmt.Errorf("board: unknown event type %q", e.Type)
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{e.Type, data})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var wire struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	out := Event{Type: wire.Type}
	switch wire.Type {
	case EventDelete:
		var refs []roomRef
		if err := json.Unmarshal(wire.Data, &refs); err != nil {
			return fmt.Errorf("board: delete event data: %w", err)
		}
		for _, ref := range refs {
			if ref.ID != "" {
				out.IDs = append(out.IDs, ref.ID)
			}
		}
	case EventPartial, EventAll:
		if err := json.Unmarshal(wire.Data, &out.Rooms); err != nil {
			return fmt.Errorf("board: %s event data: %w", wire.Type, err)
		}
	default:
		return fmt.Errorf("board: unknown event type %q", wire.Type)
	}
	*e = out
	return nil
}
