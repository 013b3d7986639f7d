// Package model defines shared data structures.
package model

import (
	"strings"
	"time"
)

// Task is a to-do item.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	DueDate   string    `json:"dueDate,omitempty"` // empty when unset
	CreatedAt time.Time `json:"createdAt"`
}

// TaskPatch lists the task fields to change. Nil fields are left untouched.
// A DueDate pointing at "" clears the due date.
type TaskPatch struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
	DueDate   *string `json:"dueDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Text == nil && p.Completed == nil && p.DueDate == nil
}

// Note is a plain text note.
type Note struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// NoteTitle derives a note title from the first line of its content.
func NoteTitle(content string) string {
	first, _, _ := strings.Cut(content, "\n")
	if title := strings.TrimSpace(first); title != "" {
		return title
	}
	return "Untitled"
}

// Sketch is a drawing stored as a data URI.
type Sketch struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ImageData    string    `json:"imageData"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// FileKind discriminates entries of the file browser.
type FileKind string

const (
	FileKindNote   FileKind = "note"
	FileKindSketch FileKind = "sketch"
)

// Icon returns the icon name used for the kind.
func (k FileKind) Icon() string {
	if k == FileKindSketch {
		return "edit"
	}
	return "file-text"
}

// File is a note or a sketch as listed in the file browser.
type File struct {
	Kind         FileKind  `json:"type"`
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content,omitempty"`
	ImageData    string    `json:"imageData,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// Article is a single entry from a feed.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Content     string    `json:"content"`
	Preview     string    `json:"preview"`
	PublishedAt time.Time `json:"pubDate"`
	FeedURL     string    `json:"feedUrl"`
	FeedName    string    `json:"feedName"`
	SavedAt     time.Time `json:"savedAt"`
	Read        bool      `json:"read"`
	Saved       bool      `json:"saved"`
	Images      []string  `json:"images"`
}

// ArticlePatch lists the article flags to change.
type ArticlePatch struct {
	Read  *bool `json:"read,omitempty"`
	Saved *bool `json:"saved,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ArticlePatch) Empty() bool {
	return p.Read == nil && p.Saved == nil
}

// FeedImage is an image attached to an article.
type FeedImage struct {
	ID        int64  `json:"id"`
	ArticleID string `json:"articleId"`
	ImageURL  string `json:"imageUrl"`
}

// Feed represents an RSS/Atom feed subscription.
type Feed struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"addedAt"`
}

// Settings key constants.
const (
	SettingTheme       = "theme"
	SettingFont        = "font"
	SettingCaps        = "caps"
	SettingAutosave    = "autosave"
	SettingTimerState  = "timer:state"
	SettingPollMinutes = "feed:pollMinutes"
)

// AppSettings are the user interface preferences.
type AppSettings struct {
	Theme    string `json:"theme"`
	Font     string `json:"font"`
	Caps     bool   `json:"caps"`
	Autosave bool   `json:"autosave"`
}

// DefaultAppSettings returns the preferences used before anything is saved.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Theme:    "light",
		Font:     "sans",
		Caps:     false,
		Autosave: true,
	}
}

// DefaultTimerDuration is the length of a fresh pomodoro.
const DefaultTimerDuration = 25 * time.Minute

// TimerState is the persisted pomodoro timer. Durations and instants are
// milliseconds, matching what the timer widget stores.
type TimerState struct {
	IsRunning       bool  `json:"isRunning"`
	PausedRemaining int64 `json:"pausedRemaining"`
	EndTime         int64 `json:"endTime,omitempty"`
}

// DefaultTimerState returns a stopped timer set to DefaultTimerDuration.
func DefaultTimerState() TimerState {
	return TimerState{PausedRemaining: DefaultTimerDuration.Milliseconds()}
}

// Normalize resets a running timer whose end time has already passed.
func (s TimerState) Normalize(now time.Time) TimerState {
	if s.IsRunning && s.EndTime != 0 && s.EndTime <= now.UnixMilli() {
		return DefaultTimerState()
	}
	return s
}
