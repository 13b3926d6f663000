// Package files locates scene files on disk and moves them into the target's
// movie folders.
//
// Paths reported by Stash are rewritten into the target's view with the
// ordered prefix rules of [shared.PathsConfig] before anything touches the
// filesystem. Moves are a rename when possible and a copy to a temporary file
// followed by a rename when the source and destination are on different
// devices. Either way exactly one copy of the file survives.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// Replaceable so tests can simulate EXDEV and cleanup failures.
var (
	renameFunc = os.Rename
	removeFunc = os.Remove
)

var (
	errSourceMissing = errors.New("source file does not exist")
	errDestExists    = errors.New("destination exists and is a different file")
	errNotVerified   = errors.New("destination did not appear after move")
)

// Placement describes where a catalog file is relative to its movie folder.
type Placement struct {
	Mapped   string // catalog path in the target's view
	Expected string // movie folder + file name
	InPlace  bool
}

// Path is the file the target should import: Expected when the file is in
// place, Mapped otherwise.
func (p Placement) Path() string {
	if p.InPlace && p.Expected != "" {
		return p.Expected
	}
	return p.Mapped
}

// Manager applies path mappings and performs verified moves.
type Manager struct {
	mappings       []shared.PathMapping
	verifyAttempts int
	verifyDelay    time.Duration
	logger         *log.Logger
}

// NewManager creates a Manager from the path and file settings.
func NewManager(paths shared.PathsConfig, fc shared.FilesConfig, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{
		mappings:       paths.Mapping,
		verifyAttempts: max(fc.VerifyAttempts, 1),
		verifyDelay:    fc.VerifyDelay,
		logger:         logger,
	}
}

// Exists reports whether p is a regular file. Any stat error counts as absent.
func Exists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// MapToTargetView rewrites p with the first mapping whose From prefix matches
// on a path segment boundary. Paths no rule matches are returned unchanged.
func (m *Manager) MapToTargetView(p string) string {
	norm := toSlash(p)
	for _, rule := range m.mappings {
		from := strings.TrimRight(toSlash(rule.From), "/")
		if from == "" {
			continue
		}
		if norm == from {
			return toSlash(rule.To)
		}
		if rest, ok := strings.CutPrefix(norm, from+"/"); ok {
			return path.Join(toSlash(rule.To), rest)
		}
	}
	return p
}

// Locate maps catalogPath and compares it with the file's slot in movieDir.
// A file whose source is gone but which already sits in the movie folder is
// reported in place, which is how a re-run sees a previous move.
func (m *Manager) Locate(catalogPath, movieDir string) Placement {
	p := Placement{Mapped: m.MapToTargetView(catalogPath)}
	if movieDir == "" {
		p.InPlace = true
		return p
	}

	p.Expected = path.Join(toSlash(movieDir), path.Base(toSlash(catalogPath)))
	switch {
	case path.Clean(toSlash(p.Mapped)) == p.Expected:
		p.InPlace = true
	case !Exists(p.Mapped) && Exists(p.Expected):
		p.InPlace = true
	}
	return p
}

// Move relocates src to dst, creating parent directories. A dst that is the
// same file as src is a no-op. The move is confirmed by re-checking dst with a
// short backoff before Move reports success.
func (m *Manager) Move(ctx context.Context, src, dst string) error {
	opErr := func(op string, err error) error {
		return &shared.FileOperationError{Op: op, Source: src, Destination: dst, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return opErr("move", err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil || !srcInfo.Mode().IsRegular() {
		return opErr("move", errSourceMissing)
	}
	if dstInfo, err := os.Stat(dst); err == nil {
		if os.SameFile(srcInfo, dstInfo) {
			m.logger.Debug("source and destination are the same file", "path", dst)
			return nil
		}
		return opErr("move", errDestExists)
	} else if !os.IsNotExist(err) {
		return opErr("stat", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return opErr("mkdir", err)
	}

	method := "rename"
	err = renameFunc(src, dst)
	if err != nil && isEXDEV(err) {
		m.logger.Info("cross-device move, copying instead", "source", src, "destination", dst)
		method = "copy"
		err = m.copyAcross(ctx, src, dst, srcInfo)
	}
	if err != nil {
		metrics.FileMoves.WithLabelValues(method, "error").Inc()
		return opErr(method, err)
	}

	if err := m.verify(ctx, dst); err != nil {
		metrics.FileMoves.WithLabelValues(method, "unverified").Inc()
		return opErr("verify", err)
	}

	metrics.FileMoves.WithLabelValues(method, "ok").Inc()
	m.logger.Info("moved file", "source", src, "destination", dst, "method", method)
	return nil
}

// copyAcross copies src into a temporary file next to dst, renames it into
// place and removes src. If src cannot be removed, dst is removed again.
func (m *Manager) copyAcross(ctx context.Context, src, dst string, srcInfo os.FileInfo) error {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	placed := false
	defer func() {
		_ = tmp.Close()
		if !placed {
			_ = os.Remove(tmpName)
		}
	}()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Chmod(srcInfo.Mode().Perm()); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	placed = true
	_ = syncDirBestEffort(dir)

	if err := removeFunc(src); err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			m.logger.Error("failed to roll back copied file, two copies remain", "destination", dst, "err", rmErr)
		}
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// verify polls for dst with doubling delays.
func (m *Manager) verify(ctx context.Context, dst string) error {
	delay := m.verifyDelay
	for attempt := 1; ; attempt++ {
		if Exists(dst) {
			return nil
		}
		if attempt >= m.verifyAttempts {
			return errNotVerified
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
