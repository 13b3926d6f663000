//go:build unix

package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	tu "github.com/desertthunder/whisparr-sync/internal/testing"
)

func crossDevice(t *testing.T) {
	t.Helper()
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	t.Cleanup(func() { renameFunc = old })
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestMoveCrossDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("Copies And Removes Source", func(t *testing.T) {
		crossDevice(t)
		dir := t.TempDir()
		src := filepath.Join(dir, "src", "a.mp4")
		dst := filepath.Join(dir, "dst", "a.mp4")
		tu.MustWriteFile(t, src, "payload")
		os.Chmod(src, 0o640)

		if err := newTestManager().Move(ctx, src, dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tu.AssertFileMissing(t, src)
		if got := tu.MustReadFile(t, dst); got != "payload" {
			t.Errorf("unexpected content %q", got)
		}
		if info, _ := os.Stat(dst); info.Mode().Perm() != 0o640 {
			t.Errorf("expected mode 0640, got %v", info.Mode().Perm())
		}
		assertNoTempFiles(t, filepath.Dir(dst))
	})

	t.Run("Source Kept When Copy Fails", func(t *testing.T) {
		crossDevice(t)
		dir := t.TempDir()
		src := filepath.Join(dir, "a.mp4")
		dst := filepath.Join(dir, "dst", "a.mp4")
		tu.MustWriteFile(t, src, "payload")

		cctx, cancel := context.WithCancel(ctx)
		m := newTestManager()
		srcInfo, _ := os.Stat(src)
		os.MkdirAll(filepath.Dir(dst), 0o755)
		cancel()

		if err := m.copyAcross(cctx, src, dst, srcInfo); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled copy, got %v", err)
		}
		tu.AssertFileExists(t, src)
		tu.AssertFileMissing(t, dst)
		assertNoTempFiles(t, filepath.Dir(dst))
	})

	t.Run("Destination Rolled Back When Source Cannot Be Removed", func(t *testing.T) {
		crossDevice(t)
		oldRemove := removeFunc
		removeFunc = func(string) error { return os.ErrPermission }
		t.Cleanup(func() { removeFunc = oldRemove })

		dir := t.TempDir()
		src := filepath.Join(dir, "a.mp4")
		dst := filepath.Join(dir, "dst", "a.mp4")
		tu.MustWriteFile(t, src, "payload")

		err := newTestManager().Move(ctx, src, dst)
		if !errors.Is(err, os.ErrPermission) {
			t.Fatalf("expected permission error, got %v", err)
		}
		tu.AssertFileExists(t, src)
		tu.AssertFileMissing(t, dst)
	})
}
