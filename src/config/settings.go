package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Lookup returns the stored value for a setting name, or "" when unset.
type Lookup func(name string) string

// ApplySettings overrides c with any non-empty value from lookup. Setting
// names are the flag names with underscores, e.g. expire_sec.
func (c *Config) ApplySettings(lookup Lookup) error {
	if lookup == nil {
		return nil
	}
	str := func(name string, dst *string) {
		*dst = GetSetting(lookup, name, *dst)
	}

	str("prefix", &c.Prefix)
	str("channel", &c.Channel)
	str("plugin", &c.Plugin)
	str("backend_secret", &c.BackendSecret)
	str("board_url", &c.BoardURL)
	str("invite_url", &c.InviteURL)
	str("discord_token", &c.Discord.Token)
	str("discord_master", &c.Discord.Master)
	str("discord_channel", &c.Discord.Channel)

	if v := lookup("allow_origin"); v != "" {
		c.AllowOrigins = parseCSV(v)
	}
	c.Keyevents = parseBoolDefault(lookup("keyevents"), c.Keyevents)
	if v := lookup("queue_size"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid queue size %q", v)
		}
		c.QueueSize = n
	}
	if v := lookup("expire_sec"); v != "" {
		if err := c.setTTL(v); err != nil {
			return err
		}
	}
	return c.Validate()
}

// GetSetting returns the first non-empty of the stored setting and def.
func GetSetting(lookup Lookup, name, def string) string {
	if lookup != nil {
		if v := lookup(name); v != "" {
			return v
		}
	}
	return def
}
