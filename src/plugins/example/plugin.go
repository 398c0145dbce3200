// Package example is the reference board plugin: rooms are identified by a
// seven digit number, optionally written as ddd-dddd.
package example

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/board/validate"
)

const idLength = 7

var roomPattern = regexp.MustCompile(`^(\d{3}-?\d{4})\s*(.*)$`)

const description = `Post your room number followed by what you are playing. Once the room is on the board I react with {reaction} and reply in {channel}. Use ASCII digits for the room number.
Examples:
1234567 casual run
098-7654 practice
3458765 farming`

func init() {
	board.RegisterPlugin("example", newPlugin, "default")
}

type plugin struct{}

func newPlugin() board.Plugin { return plugin{} }

func (plugin) Name() string { return "example" }

func (plugin) Description() string { return description }

func (plugin) Stages() []validate.Stage {
	return []validate.Stage{validate.StageFunc(validateID)}
}

func validateID(raw, _ validate.Fields) (validate.Fields, error) {
	id, _ := validate.ID(raw["id"])
	id = strings.ReplaceAll(id, "-", "")
	if len(id) != idLength || !allDigits(id) {
		return nil, validate.Errorf("id", "id must be 7 length digits.")
	}
	return validate.Fields{"id": id}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Parse reads "<room> <message>" from a chat message.
func (plugin) Parse(content string) (validate.Fields, bool) {
	m := roomPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return nil, false
	}
	return validate.Fields{
		"id":      strings.ReplaceAll(m[1], "-", ""),
		"message": m[2],
	}, true
}

// Describe confirms a saved room. Other actions are silent.
func (plugin) Describe(action string, room board.Room) string {
	if action != "saved" {
		return ""
	}
	msg := room.Message
	if msg == "" {
		msg = "(none)"
	}
	return fmt.Sprintf("Posted to the board\nID: `%s` / Comment: `%s`", room.ID, msg)
}
