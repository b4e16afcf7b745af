package files

import (
	"os"
	"path/filepath"
	"testing"

	"imfcscli/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManagerPaths builds a Paths literal over a temp directory so the
// manager's prefix routing can be observed on a real filesystem.
func newManagerPaths(t *testing.T) *config.Paths {
	t.Helper()
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")
	return &config.Paths{
		ExecutableDir:   tmpDir,
		DataDir:         dataDir,
		WebDir:          filepath.Join(tmpDir, "web"),
		StaticDir:       filepath.Join(tmpDir, "web", "static"),
		AcquisitionsDir: filepath.Join(dataDir, "acquisitions"),
		ReportsDir:      filepath.Join(dataDir, "reports"),
		ExportsDir:      filepath.Join(dataDir, "exports"),
		CacheDir:        filepath.Join(dataDir, "cache"),
		LogsDir:         filepath.Join(tmpDir, "logs"),
	}
}

func TestNewManager(t *testing.T) {
	paths := &config.Paths{
		ExecutableDir: "/test/executable",
		DataDir:       "/test/data",
	}

	manager := NewManager(paths)
	assert.NotNil(t, manager)
	assert.Equal(t, paths, manager.paths)
}

func TestResolvePath(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"acquisitions prefix", "acquisitions/cell1_1.xlsx", filepath.Join(paths.AcquisitionsDir, "cell1_1.xlsx")},
		{"reports prefix", "reports/cell1_summary.csv", filepath.Join(paths.ReportsDir, "cell1_summary.csv")},
		{"exports prefix", "exports/combined.csv", filepath.Join(paths.ExportsDir, "combined.csv")},
		{"cache prefix", "cache/scratch.bin", filepath.Join(paths.CacheDir, "scratch.bin")},
		{"logs prefix", "logs/app.log", filepath.Join(paths.LogsDir, "app.log")},
		{"web prefix", "web/index.html", filepath.Join(paths.WebDir, "index.html")},
		{"static prefix", "static/app.js", filepath.Join(paths.StaticDir, "app.js")},
		{"bare name goes to data", "notes.txt", filepath.Join(paths.DataDir, "notes.txt")},
		{"absolute passes through", "/tmp/anywhere.txt", "/tmp/anywhere.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, manager.resolvePath(tt.path))
		})
	}
}

func TestFileExists(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, os.MkdirAll(paths.ReportsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ReportsDir, "present.csv"), []byte("x"), 0644))

	assert.True(t, manager.FileExists("reports/present.csv"))
	assert.False(t, manager.FileExists("reports/absent.csv"))

	// Absolute path
	assert.True(t, manager.FileExists(filepath.Join(paths.ReportsDir, "present.csv")))
}

func TestCreateDirectory(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, manager.CreateDirectory("exports/nested/deep"))

	info, err := os.Stat(filepath.Join(paths.ExportsDir, "nested", "deep"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCopyFile(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, os.MkdirAll(paths.CacheDir, 0755))
	src := filepath.Join(paths.CacheDir, "source.csv")
	require.NoError(t, os.WriteFile(src, []byte("key,verdict\ncell1,pass\n"), 0644))

	// Destination directory does not exist yet; CopyFile creates it
	require.NoError(t, manager.CopyFile("cache/source.csv", "reports/copied.csv"))

	content, err := os.ReadFile(filepath.Join(paths.ReportsDir, "copied.csv"))
	require.NoError(t, err)
	assert.Equal(t, "key,verdict\ncell1,pass\n", string(content))

	// Source still present after a copy
	assert.True(t, manager.FileExists("cache/source.csv"))
}

func TestCopyFileMissingSource(t *testing.T) {
	manager := NewManager(newManagerPaths(t))

	err := manager.CopyFile("cache/missing.csv", "reports/out.csv")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open source file")
}

func TestMoveFile(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, os.MkdirAll(paths.CacheDir, 0755))
	src := filepath.Join(paths.CacheDir, "staged.csv")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

	require.NoError(t, manager.MoveFile("cache/staged.csv", "exports/final.csv"))

	assert.False(t, manager.FileExists("cache/staged.csv"))
	content, err := os.ReadFile(filepath.Join(paths.ExportsDir, "final.csv"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

func TestDeleteFile(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, os.MkdirAll(paths.ExportsDir, 0755))
	target := filepath.Join(paths.ExportsDir, "stale.csv")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	require.NoError(t, manager.DeleteFile("exports/stale.csv"))
	assert.False(t, manager.FileExists("exports/stale.csv"))

	assert.Error(t, manager.DeleteFile("exports/stale.csv"))
}

func TestGetFileSize(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, os.MkdirAll(paths.ReportsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ReportsDir, "sized.csv"), []byte("12345"), 0644))

	size, err := manager.GetFileSize("reports/sized.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = manager.GetFileSize("reports/missing.csv")
	assert.Error(t, err)
}

func TestReadWriteFile(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	// WriteFile creates the directory chain
	require.NoError(t, manager.WriteFile("exports/out/table.csv", []byte("a,b\n1,2\n")))

	data, err := manager.ReadFile("exports/out/table.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	_, err = manager.ReadFile("exports/out/missing.csv")
	assert.Error(t, err)
}

func TestListFiles(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, os.MkdirAll(filepath.Join(paths.ReportsDir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ReportsDir, "one.csv"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ReportsDir, "two.csv"), []byte("2"), 0644))

	names, err := manager.ListFiles("reports/")
	require.NoError(t, err)

	// Directories are skipped
	assert.ElementsMatch(t, []string{"one.csv", "two.csv"}, names)
}

func TestEnsureDirectory(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	require.NoError(t, manager.EnsureDirectory("cache/deep/tree"))
	info, err := os.Stat(filepath.Join(paths.CacheDir, "deep", "tree"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Second call is a no-op
	require.NoError(t, manager.EnsureDirectory("cache/deep/tree"))
}

func TestGetRelativePath(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	rel, err := manager.GetRelativePath(filepath.Join(paths.ExecutableDir, "data", "reports", "x.csv"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "reports", "x.csv"), rel)
}

func TestCleanPath(t *testing.T) {
	paths := newManagerPaths(t)
	manager := NewManager(paths)

	assert.Equal(t,
		filepath.Join(paths.ReportsDir, "x.csv"),
		manager.CleanPath("reports/./x.csv"))
}
