package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/tabink/internal/model"
)

// testEnv points every invocation at the same temporary data directory and
// an empty config file.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfg, []byte("{}"), 0o644))
	return testEnv{dir: dir, config: cfg}
}

// run executes the root command with args and returns stdout.
func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	base := []string{
		"--config", e.config,
		"--env-file", filepath.Join(e.dir, "missing.env"),
		"--data-dir", filepath.Join(e.dir, "data"),
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "tabink %s", strings.Join(args, " "))
	return out
}

func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tabink", cmd.Use)
	assert.Contains(t, cmd.Long, "SQLite")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "export", "import", "fetch", "feeds", "opml", "tasks", "notes", "settings", "status", "query", "config"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)

	for _, name := range []string{"config", "data-dir", "record", "log-level", "memory"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	listenFlag := serveCmd.Flags().Lookup("listen")
	require.NotNil(t, listenFlag)
	assert.Equal(t, "l", listenFlag.Shorthand)

	assert.NotNil(t, serveCmd.Flags().Lookup("no-poll"))
}

func TestExportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	exportCmd, _, err := cmd.Find([]string{"export"})
	require.NoError(t, err)

	outputFlag := exportCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "--format", "yaml", "tasks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfigFile(t *testing.T) {
	env := newTestEnv(t)
	env.config = filepath.Join(env.dir, "nope.json")
	_, err := env.run(t, "tasks")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTasksCommand(t *testing.T) {
	env := newTestEnv(t)

	id := strings.TrimSpace(env.mustRun(t, "tasks", "add", "buy", "milk", "--due", "2024-03-02"))
	require.NotEmpty(t, id)

	// each invocation reopens the record from disk
	tasks := decodeData[[]model.Task](t, env.mustRun(t, "--format", "json", "tasks"))
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, "buy milk", tasks[0].Text)
	assert.Equal(t, "2024-03-02", tasks[0].DueDate)
	assert.False(t, tasks[0].Completed)

	env.mustRun(t, "tasks", "done", id)
	out := env.mustRun(t, "tasks")
	assert.Contains(t, out, "[x] "+id)

	env.mustRun(t, "tasks", "rm", id)
	tasks = decodeData[[]model.Task](t, env.mustRun(t, "--format", "json", "tasks"))
	assert.Empty(t, tasks)
}

func TestTasksDoneUnknown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "tasks", "done", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task missing")
}

func TestNotesCommand(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("Groceries\nmilk\neggs"), 0o644))

	id := strings.TrimSpace(env.mustRun(t, "notes", "add", path))
	require.NotEmpty(t, id)

	files := decodeData[[]model.File](t, env.mustRun(t, "--format", "json", "notes"))
	require.Len(t, files, 1)
	assert.Equal(t, model.FileKindNote, files[0].Kind)
	assert.Equal(t, "Groceries", files[0].Title)

	assert.Equal(t, "Groceries\nmilk\neggs\n", env.mustRun(t, "notes", "show", id))

	env.mustRun(t, "notes", "rm", id)
	_, err := env.run(t, "notes", "show", id)
	require.Error(t, err)
}

func TestSettingsCommand(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun(t, "settings", "set", "theme", "dark")
	assert.Equal(t, "\"dark\"\n", env.mustRun(t, "settings", "get", "theme"))

	env.mustRun(t, "settings", "set", model.SettingPollMinutes, "30")
	out := env.mustRun(t, "settings")
	assert.Contains(t, out, "theme:        dark")
	assert.Contains(t, out, "poll minutes: 30")

	_, err := env.run(t, "settings", "get", "unknown")
	require.Error(t, err)
}

func TestFeedsCommand(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun(t, "feeds", "add", "https://example.com/feed.xml", "--name", "Example")
	_, err := env.run(t, "feeds", "add", "https://example.com/feed.xml")
	require.Error(t, err)

	feeds := decodeData[[]model.Feed](t, env.mustRun(t, "--format", "json", "feeds"))
	require.Len(t, feeds, 1)
	assert.Equal(t, "Example", feeds[0].Name)

	out := env.mustRun(t, "opml", "export")
	assert.Contains(t, out, `xmlUrl="https://example.com/feed.xml"`)

	env.mustRun(t, "feeds", "rm", "https://example.com/feed.xml")
	feeds = decodeData[[]model.Feed](t, env.mustRun(t, "--format", "json", "feeds"))
	assert.Empty(t, feeds)
}

func TestOPMLImportCommand(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "subs.opml")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0"?>
<opml version="2.0"><head><title>subs</title></head><body>
<outline text="Tech">
  <outline text="One" xmlUrl="https://one.example/rss"/>
  <outline text="Two" xmlUrl="https://two.example/rss"/>
</outline>
</body></opml>`), 0o644))

	out := env.mustRun(t, "opml", "import", path)
	assert.Contains(t, out, "Added 2 feeds, skipped 0")

	out = env.mustRun(t, "opml", "import", path)
	assert.Contains(t, out, "Added 0 feeds, skipped 2")
}

func TestExportImportCommands(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "tasks", "add", "keep me")

	snapshot := filepath.Join(env.dir, "backup.db")
	env.mustRun(t, "export", "-o", snapshot)
	info, err := os.Stat(snapshot)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	env.mustRun(t, "tasks", "add", "discard me")
	env.mustRun(t, "import", snapshot)

	tasks := decodeData[[]model.Task](t, env.mustRun(t, "--format", "json", "tasks"))
	require.Len(t, tasks, 1)
	assert.Equal(t, "keep me", tasks[0].Text)
}

func TestImportRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "tasks", "add", "survivor")

	bad := filepath.Join(env.dir, "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("not a database"), 0o644))
	_, err := env.run(t, "import", bad)
	require.Error(t, err)

	tasks := decodeData[[]model.Task](t, env.mustRun(t, "--format", "json", "tasks"))
	assert.Len(t, tasks, 1)
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "tasks", "add", "one")

	res := decodeData[StatusResult](t, env.mustRun(t, "--format", "json", "status"))
	assert.Equal(t, "ready", res.State)
	assert.False(t, res.Degraded)
	assert.Equal(t, filepath.Join(env.dir, "data", "tabink.sqlite"), res.Path)
	assert.Equal(t, 1, res.Tables["tasks"])
	assert.Contains(t, res.Tables, "feed_images")
}

func TestQueryCommand(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "tasks", "add", "one")
	env.mustRun(t, "tasks", "add", "two")

	out := env.mustRun(t, "query", "SELECT COUNT(*) AS n FROM tasks")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "n", strings.TrimSpace(lines[0]))
	assert.Equal(t, "2", strings.TrimSpace(lines[1]))

	_, err := env.run(t, "query", "SELECT * FROM nowhere")
	require.Error(t, err)
}

func TestMemoryFlag(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "--memory", "tasks", "add", "gone")

	_, err := os.Stat(filepath.Join(env.dir, "data", "tabink.sqlite"))
	assert.True(t, os.IsNotExist(err))
}

func TestConfigCommand(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun(t, "--record", "work", "config")

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "work", cfg["record"])
	assert.Equal(t, filepath.Join(env.dir, "data"), cfg["data_dir"])
}
