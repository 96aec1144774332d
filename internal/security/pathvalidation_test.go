package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	evidenceDir := filepath.Join(tmpDir, "violations")
	outsideDir := filepath.Join(tmpDir, "outside")
	require.NoError(t, os.MkdirAll(evidenceDir, 0755))
	require.NoError(t, os.MkdirAll(outsideDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outsideDir, "secret.txt"), []byte("secret"), 0644))

	// A symlink inside the evidence dir pointing outside it.
	link := filepath.Join(evidenceDir, "evil-symlink")
	require.NoError(t, os.Symlink(outsideDir, link))

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"crop inside directory", filepath.Join(evidenceDir, "P1_1_LOW.jpg"), evidenceDir, false},
		{"nested path that does not exist yet", filepath.Join(evidenceDir, "2026", "a.jpg"), evidenceDir, false},
		{"dot-dot traversal", filepath.Join(evidenceDir, "..", "a.jpg"), evidenceDir, true},
		{"relative traversal", "../../../etc/passwd", evidenceDir, true},
		{"absolute path elsewhere", "/etc/passwd", evidenceDir, true},
		{"through symlink to existing file", filepath.Join(link, "secret.txt"), evidenceDir, true},
		{"through symlink to new file", filepath.Join(link, "new.jpg"), evidenceDir, true},
		{"the symlink itself", link, evidenceDir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			assert.Equal(t, tt.wantError, err != nil, "err = %v", err)
		})
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(missing, "a.jpg"), missing))
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()

	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(dir1, "chart.png"), []string{dir1, dir2}))
	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(dir2, "chart.png"), []string{dir1, dir2}))
	assert.Error(t, ValidatePathWithinAllowedDirs("/etc/passwd", []string{dir1, dir2}))
	assert.Error(t, ValidatePathWithinAllowedDirs(filepath.Join(dir1, "chart.png"), nil))
}

func TestValidateExportPath(t *testing.T) {
	assert.NoError(t, ValidateExportPath(filepath.Join(os.TempDir(), "violations.png")))
	assert.Error(t, ValidateExportPath("/etc/passwd"))

	t.Chdir(t.TempDir())
	assert.NoError(t, ValidateExportPath("violations.png"))
}

func TestJoinWithin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		dir     string
		file    string
		want    string
		wantErr bool
	}{
		{"plain name", "violations", "P1_1_LOW.jpg", filepath.Join("violations", "P1_1_LOW.jpg"), false},
		{"nested", "out", filepath.Join("a", "b.jpg"), filepath.Join("out", "a", "b.jpg"), false},
		{"escape", "violations", filepath.Join("..", "x.jpg"), "", true},
		{"inner escape", "violations", filepath.Join("a", "..", "..", "x.jpg"), "", true},
		{"absolute", "violations", "/etc/passwd", "", true},
		{"dir itself", "violations", ".", "", true},
		{"empty", "violations", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinWithin(tt.dir, tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"P12_3", "P12_3"},
		{"P12_3-2", "P12_3-2"},
		{"../../etc/passwd", "etc_passwd"},
		{"worker 7/a", "worker_7_a"},
		{"a   b", "a_b"},
		{"", "unknown"},
		{"...", "unknown"},
		{"ünïcode", "n_code"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
