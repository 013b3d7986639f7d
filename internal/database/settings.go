package database

import (
	"context"
	"encoding/json"

	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/model"
)

// MinPollMinutes is the shortest allowed feed refresh interval.
const MinPollMinutes = 15

// GetSettingRaw returns the stored JSON for key, or nil if it is unset.
func (db *DB) GetSettingRaw(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	found, err := db.c.Get(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if err != nil || !found {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// GetSetting decodes the value stored under key into dest and reports
// whether the key was set. A stored value that is not valid JSON is a query
// error.
func (db *DB) GetSetting(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := db.GetSettingRaw(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperrors.Wrap(apperrors.ErrQuery, "decode setting "+key, err)
	}
	return true, nil
}

// SetSetting stores value under key as JSON, replacing any previous value.
func (db *DB) SetSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode setting "+key, err)
	}
	_, err = db.c.Run(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(data))
	return err
}

// GetAppSettings returns the interface preferences, with defaults for keys
// that were never saved.
func (db *DB) GetAppSettings(ctx context.Context) (model.AppSettings, error) {
	s := model.DefaultAppSettings()
	fields := []struct {
		key  string
		dest any
	}{
		{model.SettingTheme, &s.Theme},
		{model.SettingFont, &s.Font},
		{model.SettingCaps, &s.Caps},
		{model.SettingAutosave, &s.Autosave},
	}
	for _, f := range fields {
		if _, err := db.GetSetting(ctx, f.key, f.dest); err != nil {
			return model.AppSettings{}, err
		}
	}
	return s, nil
}

// SaveAppSettings stores every interface preference in one write.
func (db *DB) SaveAppSettings(ctx context.Context, s model.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{model.SettingTheme, s.Theme},
		{model.SettingFont, s.Font},
		{model.SettingCaps, s.Caps},
		{model.SettingAutosave, s.Autosave},
	}
	stmts := make([]Statement, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v.value)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "encode setting "+v.key, err)
		}
		stmts = append(stmts, Stmt(`INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, v.key, string(data)))
	}
	return db.c.RunBatch(ctx, stmts...)
}

// GetTimerState returns the saved timer. A running timer whose end time has
// passed comes back reset.
func (db *DB) GetTimerState(ctx context.Context) (model.TimerState, error) {
	state := model.DefaultTimerState()
	found, err := db.GetSetting(ctx, model.SettingTimerState, &state)
	if err != nil {
		return model.TimerState{}, err
	}
	if !found {
		return model.DefaultTimerState(), nil
	}
	return state.Normalize(db.c.Now()), nil
}

// SaveTimerState stores the timer.
func (db *DB) SaveTimerState(ctx context.Context, state model.TimerState) error {
	return db.SetSetting(ctx, model.SettingTimerState, state)
}

// GetPollMinutes returns the feed refresh interval in minutes. It is never
// below MinPollMinutes.
func (db *DB) GetPollMinutes(ctx context.Context) (int, error) {
	var minutes int
	found, err := db.GetSetting(ctx, model.SettingPollMinutes, &minutes)
	if err != nil {
		return 0, err
	}
	if !found || minutes < MinPollMinutes {
		return MinPollMinutes, nil
	}
	return minutes, nil
}

// SetPollMinutes stores the feed refresh interval, raised to MinPollMinutes
// if lower.
func (db *DB) SetPollMinutes(ctx context.Context, minutes int) error {
	return db.SetSetting(ctx, model.SettingPollMinutes, max(minutes, MinPollMinutes))
}
