package configstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
)

// GetSettingString returns the setting's string value or def.
func (s *Store) GetSettingString(ctx context.Context, category, key, def string) string {
	rec, ok := s.getSetting(ctx, category, key)
	if !ok {
		return def
	}
	return rec.Value
}

// GetSettingInt returns the decoded int value or def on absence/decode
// failure (failures are logged).
func (s *Store) GetSettingInt(ctx context.Context, category, key string, def int) int {
	rec, ok := s.getSetting(ctx, category, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(rec.Value)
	if err != nil {
		slog.Warn("Malformed int setting, using default", "category", category, "key", key, "value", rec.Value)
		return def
	}
	return n
}

// GetSettingFloat returns the decoded float value or def.
func (s *Store) GetSettingFloat(ctx context.Context, category, key string, def float64) float64 {
	rec, ok := s.getSetting(ctx, category, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(rec.Value, 64)
	if err != nil {
		slog.Warn("Malformed float setting, using default", "category", category, "key", key, "value", rec.Value)
		return def
	}
	return f
}

// GetSettingBool returns the decoded bool value or def.
func (s *Store) GetSettingBool(ctx context.Context, category, key string, def bool) bool {
	rec, ok := s.getSetting(ctx, category, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(rec.Value)
	if err != nil {
		slog.Warn("Malformed bool setting, using default", "category", category, "key", key, "value", rec.Value)
		return def
	}
	return b
}

// GetSettingStringList returns the decoded json-list value or def.
func (s *Store) GetSettingStringList(ctx context.Context, category, key string, def []string) []string {
	rec, ok := s.getSetting(ctx, category, key)
	if !ok {
		return def
	}
	var list []string
	if err := json.Unmarshal([]byte(rec.Value), &list); err != nil {
		slog.Warn("Malformed json-list setting, using default", "category", category, "key", key, "value", rec.Value)
		return def
	}
	return list
}

// ContextRules returns the ignore-line rules used by verification.
func (s *Store) ContextRules(ctx context.Context) []string {
	def := defaultSettings[CategoryContextRules]["ignore_lines"]
	var fallback []string
	_ = json.Unmarshal([]byte(def.Value), &fallback)
	return s.GetSettingStringList(ctx, CategoryContextRules, "ignore_lines", fallback)
}

// getSetting resolves one setting. A cache miss loads the whole category in
// one query. Settings are read in clusters, so sibling keys are populated
// while the transaction is warm.
func (s *Store) getSetting(ctx context.Context, category, key string) (settingRecord, bool) {
	if !s.flags.UseDBSettings || s.db == nil {
		rec, ok := defaultSettings[category][key]
		return rec, ok
	}

	if cat, ok := s.settings.get(category); ok {
		rec, ok := cat[key]
		return rec, ok
	}

	cat, err := s.queryCategory(ctx, category)
	if err != nil {
		slog.Warn("Settings lookup failed, using compiled-in defaults", "category", category, "error", err)
		rec, ok := defaultSettings[category][key]
		return rec, ok
	}

	// Overlay DB rows on top of the compiled-in category so keys absent
	// from the database still resolve.
	merged := make(map[string]settingRecord, len(cat)+len(defaultSettings[category]))
	for k, v := range defaultSettings[category] {
		merged[k] = v
	}
	for k, v := range cat {
		merged[k] = v
	}
	s.settings.set(category, merged)

	rec, ok := merged[key]
	return rec, ok
}

func (s *Store) queryCategory(ctx context.Context, category string) (map[string]settingRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key, value, value_type FROM settings WHERE category = $1`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cat := make(map[string]settingRecord)
	for rows.Next() {
		var key string
		var rec settingRecord
		if err := rows.Scan(&key, &rec.Value, &rec.ValueType); err != nil {
			return nil, err
		}
		cat[key] = rec
	}
	return cat, rows.Err()
}
