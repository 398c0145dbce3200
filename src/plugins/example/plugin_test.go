package example

import (
	"errors"
	"strings"
	"testing"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/board/validate"
)

func TestRegistered(t *testing.T) {
	p, err := board.LoadPlugin("example")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "example" {
		t.Errorf("Name = %q", p.Name())
	}
	if _, ok := p.(board.Parser); !ok {
		t.Error("plugin should parse chat messages")
	}
	if _, ok := p.(board.Describer); !ok {
		t.Error("plugin should describe actions")
	}
}

func TestValidateID(t *testing.T) {
	pipeline := board.Pipeline(newPlugin())
	owner := map[string]any{"id": "1"}

	cases := []struct {
		in      any
		want    string
		wantErr bool
	}{
		{"1234567", "1234567", false},
		{"123-4567", "1234567", false},
		{" 0987654 ", "0987654", false},
		{1234567, "1234567", false},
		{"123456", "", true},
		{"12345678", "", true},
		{"12a4567", "", true},
		{"", "", true},
		{nil, "", true},
	}
	for _, tc := range cases {
		got, err := pipeline.Validate(validate.Fields{"id": tc.in, "owner": owner})
		if tc.wantErr {
			var ve *validate.Error
			if !errors.As(err, &ve) || ve.Error() != "id must be 7 length digits." {
				t.Errorf("id %v: err = %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("id %v: %v", tc.in, err)
			continue
		}
		if got["id"] != tc.want {
			t.Errorf("id %v: got %v, want %s", tc.in, got["id"], tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	p := plugin{}
	cases := []struct {
		content string
		id, msg string
		ok      bool
	}{
		{"1234567 casual run", "1234567", "casual run", true},
		{"123-4567", "1234567", "", true},
		{"0987654practice", "0987654", "practice", true},
		{"hello 1234567", "", "", false},
		{"12345", "", "", false},
	}
	for _, tc := range cases {
		f, ok := p.Parse(tc.content)
		if ok != tc.ok {
			t.Errorf("Parse(%q) ok = %v", tc.content, ok)
			continue
		}
		if ok && (f["id"] != tc.id || f["message"] != tc.msg) {
			t.Errorf("Parse(%q) = %v", tc.content, f)
		}
	}
}

func TestDescribe(t *testing.T) {
	p := plugin{}
	room := board.Room{ID: "1234567", Message: "casual"}
	if got := p.Describe("saved", room); !strings.Contains(got, "`1234567`") || !strings.Contains(got, "`casual`") {
		t.Errorf("saved = %q", got)
	}
	if got := p.Describe("saved", board.Room{ID: "1234567"}); !strings.Contains(got, "(none)") {
		t.Errorf("saved without message = %q", got)
	}
	if got := p.Describe("deleted", room); got != "" {
		t.Errorf("deleted = %q, want silence", got)
	}
}

func TestDescriptionPlaceholders(t *testing.T) {
	d := plugin{}.Description()
	if !strings.Contains(d, "{reaction}") || !strings.Contains(d, "{channel}") {
		t.Error("description should carry placeholders")
	}
}
