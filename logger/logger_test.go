package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbase/hasbase-core/paths"
)

// initTemp points the logger at a fresh file and returns its path.
func initTemp(t *testing.T) string {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "shell.log")
	require.NoError(t, Init(path))
	return path
}

// isolateHome points the paths package at a temp HASBASE_HOME.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(paths.HomeEnv, home)
	paths.Reset()
	t.Cleanup(paths.Reset)
	return home
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestInit_WritesTextRecords(t *testing.T) {
	path := initTemp(t)

	Get().Info("sidecar spawned", "pid", 4242, "binary", "/opt/hasbase/main")

	out := readLog(t, path)
	assert.Contains(t, out, "logger initialized")
	assert.Contains(t, out, `msg="sidecar spawned"`)
	assert.Contains(t, out, "pid=4242")
	assert.Contains(t, out, "binary=/opt/hasbase/main")
	assert.Contains(t, out, "time=")
	assert.Equal(t, path, Path())
}

func TestInit_OnlyFirstCallCounts(t *testing.T) {
	first := initTemp(t)
	second := filepath.Join(t.TempDir(), "other.log")

	require.NoError(t, Init(second))
	Get().Info("after second init")

	assert.Contains(t, readLog(t, first), "after second init")
	assert.NoFileExists(t, second)
}

func TestInit_CreatesDirectory(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "nested", "logs", "hasbase.log")
	require.NoError(t, Init(path))
	assert.FileExists(t, path)
}

func TestInit_Unwritable(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	err := Init(filepath.Join(blocker, "hasbase.log"))
	assert.ErrorContains(t, err, "failed to create log directory")
	assert.Empty(t, Path())
}

func TestDebugLevel(t *testing.T) {
	path := initTemp(t)

	Get().Debug("hidden line")
	SetDebug(true)
	Get().Debug("visible line")
	SetDebug(false)
	Get().Debug("hidden again")

	out := readLog(t, path)
	assert.NotContains(t, out, "hidden line")
	assert.Contains(t, out, "visible line")
	assert.NotContains(t, out, "hidden again")
}

func TestWithRunAndComponent(t *testing.T) {
	path := initTemp(t)

	WithRun("4f0c2e").Info("sidecar exited")
	WithComponent("bootstrap").With("root", "/data").Info("layout ready")

	out := readLog(t, path)
	assert.Contains(t, out, "runID=4f0c2e")
	assert.Contains(t, out, "component=bootstrap")
	assert.Contains(t, out, "root=/data")
}

func TestDefaultPathOnFirstUse(t *testing.T) {
	home := isolateHome(t)
	Reset()
	t.Cleanup(Reset)

	WithComponent("shell").Info("no explicit init")

	want := filepath.Join(home, "logs", "hasbase.log")
	assert.Equal(t, want, Path())
	assert.Contains(t, readLog(t, want), "no explicit init")
}

func TestClose_DoesNotReopen(t *testing.T) {
	initTemp(t)

	Close()
	assert.Empty(t, Path())
	assert.NotNil(t, Get(), "falls back to slog.Default")
	assert.Empty(t, Path(), "closed logger stays closed")

	Reset()
	path := filepath.Join(t.TempDir(), "again.log")
	require.NoError(t, Init(path))
	assert.Equal(t, path, Path())
}

func TestConcurrentInitAndUse(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	path := filepath.Join(t.TempDir(), "concurrent.log")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = Init(path) }()
		go func() { defer wg.Done(); WithRun("run").Info("from run") }()
		go func() { defer wg.Done(); WithComponent("relay").Info("from component") }()
	}
	wg.Wait()
}

func TestSidecarLogPath(t *testing.T) {
	home := isolateHome(t)

	got, err := SidecarLogPath("4f0c2e")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "sidecar-4f0c2e.log"), got)
}

func TestOpenSidecarLog_Appends(t *testing.T) {
	home := isolateHome(t)

	f, err := OpenSidecarLog("run-1")
	require.NoError(t, err)
	_, err = f.WriteString("[stdout] first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenSidecarLog("run-1")
	require.NoError(t, err)
	_, err = f.WriteString("[stderr] second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "[stdout] first\n[stderr] second\n", readLog(t, filepath.Join(home, "logs", "sidecar-run-1.log")))
}

func TestClearLogs(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	home := isolateHome(t)

	logsDir := filepath.Join(home, "logs")
	require.NoError(t, os.MkdirAll(logsDir, 0755))
	for _, name := range []string{"hasbase.log", "sidecar-a.log", "sidecar-b.log", "other.log", "hasbase-old.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(logsDir, name), []byte("x"), 0644))
	}

	n, err := ClearLogs()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := os.ReadDir(logsDir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"other.log", "hasbase-old.log"}, left)
}

func TestClearLogs_Empty(t *testing.T) {
	isolateHome(t)

	n, err := ClearLogs()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLevelSurvivesComponentLoggers(t *testing.T) {
	path := initTemp(t)
	log := WithComponent("supervisor")

	SetDebug(true)
	log.Debug("debug after handout")

	assert.True(t, strings.Contains(readLog(t, path), "debug after handout"))
}
