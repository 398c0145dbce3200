package board

import "strings"

const keyGlue = ":"

var (
	segmentEscaper   = strings.NewReplacer("%", "%25", keyGlue, "%3A")
	segmentUnescaper = strings.NewReplacer("%3A", keyGlue, "%25", "%")
	globEscaper      = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
)

// KeyScheme derives storage keys of the form prefix:owner:room. Segments are
// escaped so that ids containing the glue cannot collide.
type KeyScheme struct {
	Prefix string
}

// Key returns the storage key for one room.
func (k KeyScheme) Key(owner, room string) string {
	return k.Prefix + keyGlue + segmentEscaper.Replace(owner) + keyGlue + segmentEscaper.Replace(room)
}

// OwnerPattern matches every room stored for owner.
func (k KeyScheme) OwnerPattern(owner string) string {
	return globEscaper.Replace(k.Prefix+keyGlue+segmentEscaper.Replace(owner)) + keyGlue + "*"
}

// RoomPattern matches exactly the key of one room.
func (k KeyScheme) RoomPattern(owner, room string) string {
	return globEscaper.Replace(k.Key(owner, room))
}

// AllPattern matches every room under the prefix.
func (k KeyScheme) AllPattern() string {
	return globEscaper.Replace(k.Prefix) + keyGlue + "*"
}

// Split recovers owner and room ids from a key. It reports false for keys
// outside the scheme.
func (k KeyScheme) Split(key string) (owner, room string, ok bool) {
	rest, found := strings.CutPrefix(key, k.Prefix+keyGlue)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, keyGlue)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return segmentUnescaper.Replace(parts[0]), segmentUnescaper.Replace(parts[1]), true
}
