package data

import (
	"sync"

	"gorm.io/gorm"
)

// Setting is one row of the optional settings table. Names match the
// lower-case flag names, e.g. "expire_sec" or "backend_secret".
type Setting struct {
	ID    uint   `gorm:"primaryKey"`
	Name  string `gorm:"size:128;uniqueIndex"`
	Value string `gorm:"type:text"`
}

var (
	settingsCache map[string]string
	settingsMu    sync.RWMutex
)

// LoadSettings loads all settings from the database into cache
func LoadSettings(db *gorm.DB) error {
	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return err
	}
	ReplaceSettings(settings)
	return nil
}

// ReplaceSettings swaps the cached settings.
func ReplaceSettings(settings []Setting) {
	cache := make(map[string]string, len(settings))
	for _, s := range settings {
		cache[s.Name] = s.Value
	}

	settingsMu.Lock()
	settingsCache = cache
	settingsMu.Unlock()
}

// GetSetting retrieves a setting value from cache (call LoadSettings first)
func GetSetting(name string) string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsCache[name]
}
