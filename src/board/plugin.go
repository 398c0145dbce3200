package board

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stake-plus/roomboard/src/board/validate"
)

// Plugin contributes the game-specific part of validation and the usage text
// shown to users.
type Plugin interface {
	Name() string
	Stages() []validate.Stage
	// Description may contain {channel} and {reaction} placeholders.
	Description() string
}

// Parser is implemented by plugins that can read a chat message.
type Parser interface {
	Parse(content string) (validate.Fields, bool)
}

// Describer is implemented by plugins that confirm actions to users. An empty
// result means no confirmation is sent.
type Describer interface {
	Describe(action string, room Room) string
}

// PluginFactory creates a plugin instance.
type PluginFactory func() Plugin

var (
	pluginMu sync.RWMutex
	plugins  = map[string]PluginFactory{}
)

// RegisterPlugin registers a plugin under one or more names.
func RegisterPlugin(name string, factory PluginFactory, aliases ...string) {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	for _, n := range append([]string{name}, aliases...) {
		plugins[strings.ToLower(n)] = factory
	}
}

// LoadPlugin returns a new instance of the named plugin.
func LoadPlugin(name string) (Plugin, error) {
	pluginMu.RLock()
	factory := plugins[strings.ToLower(strings.TrimSpace(name))]
	pluginMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("board: plugin %q not registered (have %s)", name, strings.Join(PluginNames(), ", "))
	}
	return factory(), nil
}

// PluginNames lists registered plugin names.
func PluginNames() []string {
	pluginMu.RLock()
	defer pluginMu.RUnlock()
	names := make([]string, 0, len(plugins))
	for n := range plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pipeline builds the validation pipeline for p.
func Pipeline(p Plugin) *validate.Pipeline {
	return validate.New(p.Stages()...)
}
