package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	MaxNameLength    = 32
	MaxMessageLength = 30
)

// Baseline enforces the fields every deployment relies on: owner, guild,
// message and time.
var Baseline = NewBaseline(time.Now)

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// NewBaseline returns the baseline stage using now for submissions without a
// time.
func NewBaseline(now func() time.Time) Stage {
	return StageFunc(func(raw, _ Fields) (Fields, error) {
		out := Fields{}

		owner, err := identity("owner", raw["owner"], false)
		if err != nil {
			return nil, err
		}
		out["owner"] = owner

		if v, ok := raw["guild"]; ok && v != nil {
			guild, err := identity("guild", v, true)
			if err != nil {
				return nil, err
			}
			if guild != nil {
				out["guild"] = guild
			}
		}

		ts, err := Timestamp(raw["time"], now)
		if err != nil {
			return nil, err
		}
		out["time"] = ts

		if msg := Text(raw["message"], MaxMessageLength); msg != "" {
			out["message"] = msg
		}
		return out, nil
	})
}

// identity normalises an {id, name} object. A bare scalar is accepted only
// when allowBare is set and then serves as both id and name.
func identity(field string, v any, allowBare bool) (Fields, error) {
	var obj map[string]any
	switch t := v.(type) {
	case nil:
		return nil, Errorf(field+".id", "%s.id must not be empty.", field)
	case Fields:
		obj = t
	case map[string]any:
		obj = t
	default:
		if !allowBare {
			return nil, Errorf(field+".id", "%s.id must not be empty.", field)
		}
		id, ok := ID(t)
		if !ok {
			return nil, Errorf(field+".id", "%s.id must be a string or an integer.", field)
		}
		if id == "" {
			return nil, nil
		}
		return Fields{"id": id, "name": clip(id, MaxNameLength)}, nil
	}

	id, ok := ID(obj["id"])
	if !ok {
		return nil, Errorf(field+".id", "%s.id must be a string or an integer.", field)
	}
	if id == "" {
		return nil, Errorf(field+".id", "%s.id must not be empty.", field)
	}
	out := Fields{"id": id}
	if name := Text(obj["name"], MaxNameLength); name != "" {
		out["name"] = name
	}
	return out, nil
}

// ID coerces an identifier to a trimmed string. Integral numbers are
// formatted in base 10; anything else that is not a string reports false.
func ID(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return strings.TrimSpace(t.String()), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', 0, 64), true
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), true
	default:
		return "", false
	}
}

// Text converts v to trimmed display text clipped to max runes.
func Text(v any, max int) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	return clip(s, max)
}

func clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// Timestamp normalises a submission time to Unix seconds. Numbers and numeric
// strings are taken literally, so "20170711" is a valid epoch value. Strings
// without a zone are read as UTC wall clock.
func Timestamp(v any, now func() time.Time) (int64, error) {
	invalid := Errorf("time", "time is not a valid time")

	switch t := v.(type) {
	case nil:
		return now().Unix(), nil
	case time.Time:
		if t.IsZero() {
			return now().Unix(), nil
		}
		return t.Unix(), nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return now().Unix(), nil
		}
		return t.Unix(), nil
	case int:
		return orNow(int64(t), now), nil
	case int32:
		return orNow(int64(t), now), nil
	case int64:
		return orNow(t, now), nil
	case uint32:
		return orNow(int64(t), now), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, invalid
		}
		return orNow(int64(t), now), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return orNow(n, now), nil
		}
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, invalid
		}
		return orNow(int64(f), now), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return now().Unix(), nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return orNow(n, now), nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.Unix(), nil
		}
		for _, layout := range naiveLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.Unix(), nil
			}
		}
		return 0, invalid
	default:
		return 0, invalid
	}
}

func orNow(n int64, now func() time.Time) int64 {
	if n == 0 {
		return now().Unix()
	}
	return n
}
