package quality

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSourcesAreGofmtFormatted 遍历模块内所有 .go 文件，gofmt -l 必须没有输出。
func TestSourcesAreGofmtFormatted(t *testing.T) {
	gofmt, err := exec.LookPath("gofmt")
	if err != nil {
		t.Skip("gofmt not in PATH")
	}
	root, err := findProjectRoot()
	require.NoError(t, err)

	var files []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			// _examples 等下划线目录不属于本模块
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") ||
				name == "vendor" || name == "testdata" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		out, err := exec.Command(gofmt, "-l", f).CombinedOutput()
		require.NoError(t, err, "gofmt %s: %s", f, out)
		rel, _ := filepath.Rel(root, f)
		if len(strings.TrimSpace(string(out))) > 0 {
			t.Errorf("%s is not gofmt-formatted", rel)
		}
	}
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
