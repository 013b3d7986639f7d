package database

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/model"
	"github.com/bryan-buckman/tabink/internal/storage"
)

func createTestDB(t *testing.T) (*DB, *storage.MemoryStore, *fakeClock) {
	t.Helper()
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	db, err := Open(context.Background(), store, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n := 0
	db.newID = func() string {
		n++
		return fmt.Sprintf("task-%03d", n)
	}
	return db, store, clock
}

func ptr[T any](v T) *T { return &v }

func TestTasks_AddAndList(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	first, err := db.AddTask(ctx, "write report", "2024-03-05")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := db.AddTask(ctx, "water plants", "")
	require.NoError(t, err)

	tasks, err := db.GetTasks(ctx)
	require.NoError(t, err)
	want := []model.Task{
		{ID: second, Text: "water plants", CreatedAt: clock.Now()},
		{ID: first, Text: "write report", DueDate: "2024-03-05", CreatedAt: clock.Now().Add(-time.Minute)},
	}
	if diff := cmp.Diff(want, tasks); diff != "" {
		t.Errorf("GetTasks() mismatch (-want +got):\n%s", diff)
	}
}

func TestTasks_EmptyTextRejected(t *testing.T) {
	db, store, _ := createTestDB(t)
	saves := store.Saves()

	_, err := db.AddTask(context.Background(), "  ", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
	assert.Equal(t, saves, store.Saves())
}

func TestTasks_UpdateSingleField(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	id, err := db.AddTask(ctx, "buy milk", "2024-03-02")
	require.NoError(t, err)

	require.NoError(t, db.UpdateTask(ctx, id, model.TaskPatch{Completed: ptr(true)}))

	task, err := db.GetTask(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, task.Completed)
	assert.Equal(t, "buy milk", task.Text)
	assert.Equal(t, "2024-03-02", task.DueDate)

	require.NoError(t, db.UpdateTask(ctx, id, model.TaskPatch{Text: ptr("buy oat milk"), DueDate: ptr("")}))
	task, err = db.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", task.Text)
	assert.Empty(t, task.DueDate)
	assert.True(t, task.Completed)
}

func TestTasks_EmptyPatchIsNoop(t *testing.T) {
	ctx := context.Background()
	db, store, _ := createTestDB(t)

	id, err := db.AddTask(ctx, "x", "")
	require.NoError(t, err)
	saves := store.Saves()

	require.NoError(t, db.UpdateTask(ctx, id, model.TaskPatch{}))
	assert.Equal(t, saves, store.Saves())
}

func TestTasks_Delete(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	id, err := db.AddTask(ctx, "x", "")
	require.NoError(t, err)
	require.NoError(t, db.DeleteTask(ctx, id))
	require.NoError(t, db.DeleteTask(ctx, "unknown"))

	task, err := db.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestNotes_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	db, store, clock := createTestDB(t)
	created := clock.Now()

	require.NoError(t, db.SaveNote(ctx, "n1", "A", "a"))
	clock.Advance(time.Hour)
	require.NoError(t, db.SaveNote(ctx, "n1", "B", "b"))

	notes, err := db.GetNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "B", notes[0].Title)
	assert.Equal(t, "b", notes[0].Content)
	assert.True(t, notes[0].CreatedAt.Equal(created))
	assert.True(t, notes[0].LastModified.Equal(clock.Now()))
	assert.Equal(t, 1, persistedCount(t, store, "notes"))
}

func TestNotes_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	require.NoError(t, db.SaveNote(ctx, "n1", model.NoteTitle("Groceries\neggs"), "Groceries\neggs"))
	note, err := db.GetNote(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Groceries", note.Title)

	require.NoError(t, db.DeleteNote(ctx, "n1"))
	note, err = db.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, note)
}

func TestSketches_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	require.NoError(t, db.SaveSketch(ctx, "s1", "Cat", "data:image/png;base64,AAA"))
	clock.Advance(time.Minute)
	require.NoError(t, db.SaveSketch(ctx, "s1", "Cat 2", "data:image/png;base64,BBB"))

	s, err := db.GetSketch(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "Cat 2", s.Title)
	assert.Equal(t, "data:image/png;base64,BBB", s.ImageData)
	assert.True(t, s.LastModified.After(s.CreatedAt))

	require.NoError(t, db.DeleteSketch(ctx, "s1"))
	sketches, err := db.GetSketches(ctx)
	require.NoError(t, err)
	assert.Empty(t, sketches)
}

func TestGetAllFiles_MergesByLastModified(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)
	t0 := clock.Now()

	require.NoError(t, db.SaveNote(ctx, "n1", "old note", "old note"))
	clock.Advance(time.Minute)
	require.NoError(t, db.SaveSketch(ctx, "s1", "sketch", "data:x"))
	clock.Advance(time.Minute)
	require.NoError(t, db.SaveNote(ctx, "n2", "new note", "new note"))

	files, err := db.GetAllFiles(ctx)
	require.NoError(t, err)
	want := []model.File{
		{Kind: model.FileKindNote, ID: "n2", Title: "new note", Content: "new note", CreatedAt: t0.Add(2 * time.Minute), LastModified: t0.Add(2 * time.Minute)},
		{Kind: model.FileKindSketch, ID: "s1", Title: "sketch", ImageData: "data:x", CreatedAt: t0.Add(time.Minute), LastModified: t0.Add(time.Minute)},
		{Kind: model.FileKindNote, ID: "n1", Title: "old note", Content: "old note", CreatedAt: t0, LastModified: t0},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("GetAllFiles() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetAllFiles_MissingSketchesTable(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db, err := Open(ctx, storage.NewMemoryStore(), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SaveNote(ctx, "n1", "t", "c"))
	_, err = db.Coordinator().Run(ctx, "DROP TABLE sketches")
	require.NoError(t, err)

	files, err := db.GetAllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, model.FileKindNote, files[0].Kind)
	assert.Contains(t, logs.String(), "sketches table missing")

	_, err = db.GetSketches(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrQuery))
}

func TestGetAllFiles_OtherErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	_, err := db.Coordinator().Run(ctx, "DROP TABLE notes")
	require.NoError(t, err)

	_, err = db.GetAllFiles(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrQuery))
}

func testArticle(id string, published time.Time, images ...string) model.Article {
	return model.Article{
		ID:          id,
		Title:       "Title " + id,
		Link:        "http://example.com/" + id,
		Content:     "<p>body</p>",
		Preview:     "body",
		PublishedAt: published,
		FeedURL:     "http://example.com/rss",
		FeedName:    "Example",
		Images:      images,
	}
}

func TestArticles_SaveAndList(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)
	day := clock.Now().Add(-24 * time.Hour)

	require.NoError(t, db.SaveArticle(ctx, testArticle("a1", day, "http://img/1", "http://img/2")))
	require.NoError(t, db.SaveArticle(ctx, testArticle("a2", day.Add(time.Hour))))

	articles, err := db.GetArticles(ctx)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "a2", articles[0].ID)
	assert.Equal(t, []string{}, articles[0].Images)
	assert.Equal(t, []string{"http://img/1", "http://img/2"}, articles[1].Images)
	assert.True(t, articles[1].SavedAt.Equal(clock.Now()))
	assert.True(t, articles[1].PublishedAt.Equal(day))
	assert.False(t, articles[1].Read)
}

func TestArticles_ResaveReplacesImages(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	require.NoError(t, db.SaveArticle(ctx, testArticle("a1", clock.Now(), "http://img/1", "http://img/2")))
	a := testArticle("a1", clock.Now(), "http://img/3")
	a.Read = true
	require.NoError(t, db.SaveArticle(ctx, a))

	got, err := db.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"http://img/3"}, got.Images)
	assert.True(t, got.Read)

	images, err := db.GetArticleImages(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

func TestArticles_DeleteRemovesImages(t *testing.T) {
	ctx := context.Background()
	db, store, clock := createTestDB(t)

	require.NoError(t, db.SaveArticle(ctx, testArticle("a1", clock.Now(), "http://img/1", "http://img/2")))
	require.NoError(t, db.SaveArticle(ctx, testArticle("a2", clock.Now(), "http://img/3")))

	require.NoError(t, db.DeleteArticle(ctx, "a1"))

	images, err := db.GetArticleImages(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Equal(t, 1, persistedCount(t, store, "feed_images"))

	a, err := db.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestArticles_UpdateFlags(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)
	require.NoError(t, db.SaveArticle(ctx, testArticle("a1", clock.Now())))

	require.NoError(t, db.UpdateArticle(ctx, "a1", model.ArticlePatch{Saved: ptr(true)}))
	a, err := db.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.Saved)
	assert.False(t, a.Read)

	require.NoError(t, db.UpdateArticle(ctx, "a1", model.ArticlePatch{Read: ptr(true), Saved: ptr(false)}))
	a, err = db.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, a.Saved)
	assert.True(t, a.Read)
}

func TestArticles_ClearAllAndAddImage(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	require.NoError(t, db.SaveArticle(ctx, testArticle("a1", clock.Now())))
	id, err := db.AddArticleImage(ctx, "a1", "http://img/x")
	require.NoError(t, err)
	assert.NotZero(t, id)

	a, err := db.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://img/x"}, a.Images)

	require.NoError(t, db.ClearAllArticles(ctx))
	articles, err := db.GetArticles(ctx)
	require.NoError(t, err)
	assert.Empty(t, articles)
	images, err := db.GetArticleImages(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestArticles_EmptyIDRejected(t *testing.T) {
	db, _, _ := createTestDB(t)
	err := db.SaveArticle(context.Background(), model.Article{Title: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestFeeds_DuplicateURL(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	_, err := db.AddFeed(ctx, "Example", "http://example.com/rss")
	require.NoError(t, err)
	_, err = db.AddFeed(ctx, "Example", "http://example.com/rss")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrQuery))

	feeds, err := db.GetFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestFeeds_ListAndDeleteByURL(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	_, err := db.AddFeed(ctx, "One", "http://one/rss")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = db.AddFeed(ctx, "", "http://two/rss")
	require.NoError(t, err)

	feeds, err := db.GetFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "http://two/rss", feeds[0].Name)
	assert.Equal(t, "One", feeds[1].Name)

	f, err := db.GetFeedByURL(ctx, "http://one/rss")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "One", f.Name)

	require.NoError(t, db.DeleteFeed(ctx, "http://one/rss"))
	f, err = db.GetFeedByURL(ctx, "http://one/rss")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	var theme string
	found, err := db.GetSetting(ctx, "theme", &theme)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.SetSetting(ctx, "theme", "dark"))
	require.NoError(t, db.SetSetting(ctx, "theme", "sepia"))

	found, err = db.GetSetting(ctx, "theme", &theme)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sepia", theme)

	raw, err := db.GetSettingRaw(ctx, "theme")
	require.NoError(t, err)
	assert.JSONEq(t, `"sepia"`, string(raw))
}

func TestSettings_MalformedJSON(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	_, err := db.Coordinator().Run(ctx, "INSERT INTO settings (key, value) VALUES ('broken', '{not json')")
	require.NoError(t, err)

	var v map[string]any
	_, err = db.GetSetting(ctx, "broken", &v)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrQuery))
}

func TestAppSettings_DefaultsAndSave(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	s, err := db.GetAppSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAppSettings(), s)

	require.NoError(t, db.SetSetting(ctx, model.SettingTheme, "dark"))
	s, err = db.GetAppSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", s.Theme)
	assert.True(t, s.Autosave)

	want := model.AppSettings{Theme: "light", Font: "mono", Caps: true, Autosave: false}
	require.NoError(t, db.SaveAppSettings(ctx, want))
	s, err = db.GetAppSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, s)
}

func TestTimerState(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	st, err := db.GetTimerState(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTimerState(), st)

	running := model.TimerState{IsRunning: true, EndTime: clock.Now().Add(10 * time.Minute).UnixMilli()}
	require.NoError(t, db.SaveTimerState(ctx, running))
	st, err = db.GetTimerState(ctx)
	require.NoError(t, err)
	assert.Equal(t, running, st)

	clock.Advance(11 * time.Minute)
	st, err = db.GetTimerState(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTimerState(), st)
}

func TestPollMinutes(t *testing.T) {
	ctx := context.Background()
	db, _, _ := createTestDB(t)

	m, err := db.GetPollMinutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, MinPollMinutes, m)

	require.NoError(t, db.SetPollMinutes(ctx, 5))
	m, err = db.GetPollMinutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, MinPollMinutes, m)

	require.NoError(t, db.SetPollMinutes(ctx, 60))
	m, err = db.GetPollMinutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, m)
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, _, clock := createTestDB(t)

	_, err := db.AddTask(ctx, "keep me", "")
	require.NoError(t, err)
	require.NoError(t, db.SaveNote(ctx, "n1", "note", "note"))
	require.NoError(t, db.SaveArticle(ctx, testArticle("a1", clock.Now(), "http://img/1")))
	_, err = db.AddFeed(ctx, "Example", "http://example.com/rss")
	require.NoError(t, err)
	require.NoError(t, db.SetSetting(ctx, model.SettingFont, "serif"))

	snapshot, err := db.Export(ctx)
	require.NoError(t, err)
	wantTasks, err := db.GetTasks(ctx)
	require.NoError(t, err)
	wantArticles, err := db.GetArticles(ctx)
	require.NoError(t, err)

	_, err = db.AddTask(ctx, "added after export", "")
	require.NoError(t, err)
	require.NoError(t, db.DeleteNote(ctx, "n1"))

	require.NoError(t, db.Import(ctx, snapshot))

	tasks, err := db.GetTasks(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(wantTasks, tasks); diff != "" {
		t.Errorf("tasks after import (-want +got):\n%s", diff)
	}
	articles, err := db.GetArticles(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(wantArticles, articles); diff != "" {
		t.Errorf("articles after import (-want +got):\n%s", diff)
	}
	note, err := db.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.NotNil(t, note)

	// A second database opened from the same snapshot sees the same rows.
	other, _, _ := createTestDB(t)
	require.NoError(t, other.Import(ctx, snapshot))
	feeds, err := other.GetFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	s, err := other.GetAppSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "serif", s.Font)
}

func TestOpen_RecoversFromFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, storage.NewFileStore(dir, "suite"))
	require.NoError(t, err)
	id, err := db.AddTask(ctx, "persist me", "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, storage.NewFileStore(dir, "suite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	task, err := db.GetTask(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "persist me", task.Text)
}

func TestOpen_ReopenCloseRepeatedly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileStore(t.TempDir(), "suite")

	for i := range 5 {
		db, err := Open(ctx, store)
		require.NoError(t, err)
		tasks, err := db.GetTasks(ctx)
		require.NoError(t, err)
		assert.Len(t, tasks, i)

		_, err = db.AddTask(ctx, fmt.Sprintf("task %d", i), "")
		require.NoError(t, err)
		require.NoError(t, db.Close())
	}
}

func TestOpen_CorruptRecordWithValidHeader(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	db, err := Open(ctx, store)
	require.NoError(t, err)
	_, err = db.AddTask(ctx, "lost", "")
	require.NoError(t, err)
	image, err := db.Export(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	for i := 100; i < len(image); i++ {
		image[i] = byte(i * 31)
	}
	require.NoError(t, store.Save(ctx, image))

	db, err = Open(ctx, store)
	require.NoError(t, err)
	tasks, err := db.GetTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.False(t, db.Status().Degraded)
	require.NoError(t, db.Close())

	// the fresh database replaced the corrupt record
	db, err = Open(ctx, store)
	require.NoError(t, err)
	_, err = db.AddTask(ctx, "kept", "")
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
