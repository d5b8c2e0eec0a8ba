package job

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ModelPlacer makes a model file visible to the checkpoint loader
type ModelPlacer interface {
	// Ensure returns the path of the model inside the checkpoint directory
	Ensure(name string) (string, error)
	// Available reports whether a model can be placed
	Available(name string) bool
}

// SymlinkPlacer links models found in SearchDirs into CheckpointDir, copying
// the file when a link cannot be made
type SymlinkPlacer struct {
	SearchDirs    []string
	CheckpointDir string
}

func (s *SymlinkPlacer) target(name string) string {
	return filepath.Join(s.CheckpointDir, filepath.Base(name))
}

// source returns the first search directory entry holding name. The checkpoint
// directory itself is searched last.
func (s *SymlinkPlacer) source(name string) (string, bool) {
	base := filepath.Base(name)
	candidates := make([]string, 0, len(s.SearchDirs)+1)
	for _, dir := range s.SearchDirs {
		candidates = append(candidates, filepath.Join(dir, base))
	}
	candidates = append(candidates, s.target(name))
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}

func (s *SymlinkPlacer) Available(name string) bool {
	if _, err := os.Stat(s.target(name)); err == nil {
		return true
	}
	_, ok := s.source(name)
	return ok
}

func (s *SymlinkPlacer) Ensure(name string) (string, error) {
	target := s.target(name)

	if fi, err := os.Lstat(target); err == nil {
		if fi.Mode()&fs.ModeSymlink == 0 {
			slog.Info("model already in checkpoint directory", "path", target)
			return target, nil
		}
		if _, err := os.Stat(target); err == nil {
			slog.Info("model link already present", "path", target)
			return target, nil
		}
		slog.Warn("replacing broken model link", "path", target)
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("cannot remove broken link %s: %w", target, err)
		}
	}

	src, ok := s.source(name)
	if !ok {
		return "", fmt.Errorf("model %s not found in %v", filepath.Base(name), s.SearchDirs)
	}
	if src == target {
		return target, nil
	}
	if err := os.MkdirAll(s.CheckpointDir, 0o755); err != nil {
		return "", err
	}

	err := os.Symlink(src, target)
	if err == nil {
		slog.Info("linked model into checkpoint directory", "source", src, "target", target)
		return target, nil
	}
	slog.Warn("cannot link model, copying", "source", src, "error", err)
	if err := copyFile(src, target); err != nil {
		return "", fmt.Errorf("cannot copy model %s: %w", src, err)
	}
	slog.Info("copied model into checkpoint directory", "source", src, "target", target)
	return target, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	_ = os.Remove(dst)
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if fi, serr := in.Stat(); serr == nil {
		_ = os.Chtimes(dst, fi.ModTime(), fi.ModTime())
	}
	return nil
}

var _ ModelPlacer = (*SymlinkPlacer)(nil)
