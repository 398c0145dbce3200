package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profile holds the per-environment defaults.
type Profile struct {
	Name string
	TTL  time.Duration
	// CDN makes the board page load its libraries from a CDN.
	CDN bool
}

var profiles = map[string]Profile{
	"production":  {Name: "production", TTL: 120 * time.Second, CDN: true},
	"development": {Name: "development", TTL: 60 * time.Second},
	"test":        {Name: "test", TTL: 10 * time.Second},
}

// LookupProfile returns the named profile. An empty name means production.
func LookupProfile(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "production"
	}
	p, ok := profiles[name]
	if !ok {
		names := make([]string, 0, len(profiles))
		for n := range profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return Profile{}, fmt.Errorf("unknown environment %q (want one of %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}
