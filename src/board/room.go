package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stake-plus/roomboard/src/board/validate"
)

// Identity names a principal or a community. ID is always non-empty.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Room is a single active posting. Extra holds plugin-contributed fields and
// is flattened into the JSON object next to the known fields.
type Room struct {
	ID      string
	Owner   Identity
	Guild   *Identity
	Message string
	Time    int64
	Extra   map[string]any
}

var knownFields = map[string]bool{
	"id": true, "owner": true, "guild": true, "message": true, "time": true,
}

func (r Room) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		if !knownFields[k] {
			out[k] = v
		}
	}
	out["id"] = r.ID
	out["owner"] = r.Owner
	out["time"] = r.Time
	if r.Guild != nil {
		out["guild"] = r.Guild
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	return json.Marshal(out)
}

func (r *Room) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var room Room
	for k, v := range raw {
		var err error
		switch k {
		case "id":
			err = json.Unmarshal(v, &room.ID)
		case "owner":
			err = json.Unmarshal(v, &room.Owner)
		case "guild":
			if !bytes.Equal(v, []byte("null")) {
				room.Guild = &Identity{}
				err = json.Unmarshal(v, room.Guild)
			}
		case "message":
			err = json.Unmarshal(v, &room.Message)
		case "time":
			err = json.Unmarshal(v, &room.Time)
		default:
			dec := json.NewDecoder(bytes.NewReader(v))
			dec.UseNumber()
			var val any
			err = dec.Decode(&val)
			if room.Extra == nil {
				room.Extra = make(map[string]any)
			}
			room.Extra[k] = val
		}
		if err != nil {
			return fmt.Errorf("room field %q: %w", k, err)
		}
	}
	*r = room
	return nil
}

// FromFields builds a Room from validated pipeline output. Missing identity
// fields mean a stage broke its contract and yield ErrPluginContract.
func FromFields(f validate.Fields) (Room, error) {
	id, _ := f["id"].(string)
	if id == "" {
		return Room{}, fmt.Errorf("%w: id is missing", ErrPluginContract)
	}
	owner, ok := toIdentity(f["owner"])
	if !ok {
		return Room{}, fmt.Errorf("%w: owner.id is missing", ErrPluginContract)
	}

	room := Room{ID: id, Owner: owner}
	if g, ok := toIdentity(f["guild"]); ok {
		room.Guild = &g
	}
	if msg, ok := f["message"].(string); ok {
		room.Message = msg
	}
	ts, err := validate.Timestamp(f["time"], time.Now)
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrPluginContract, err)
	}
	room.Time = ts

	for k, v := range f {
		if knownFields[k] {
			continue
		}
		if room.Extra == nil {
			room.Extra = make(map[string]any)
		}
		room.Extra[k] = v
	}
	return room, nil
}

func toIdentity(v any) (Identity, bool) {
	var obj map[string]any
	switch t := v.(type) {
	case Identity:
		return t, t.ID != ""
	case *Identity:
		if t == nil {
			return Identity{}, false
		}
		return *t, t.ID != ""
	case validate.Fields:
		obj = t
	case map[string]any:
		obj = t
	default:
		return Identity{}, false
	}
	id, _ := obj["id"].(string)
	if id == "" {
		return Identity{}, false
	}
	name, _ := obj["name"].(string)
	return Identity{ID: id, Name: name}, true
}
