package job

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/richinsley/comfyvideo/errdefs"
)

// Context is the scratch namespace of one job. Every file a job materializes
// lives under Dir, so concurrent jobs never collide.
type Context struct {
	ID  string
	Dir string

	keep bool
}

// NewContext creates task_<uuid> under root. The directory is removed by Close
// unless keep is set.
func NewContext(root string, keep bool) (*Context, error) {
	if root == "" {
		root = os.TempDir()
	}
	id := "task_" + uuid.New().String()
	dir, err := filepath.Abs(filepath.Join(root, id))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "invalid scratch root")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot create scratch directory")
	}
	return &Context{ID: id, Dir: dir, keep: keep}, nil
}

// Path returns the location of name inside the scratch directory
func (c *Context) Path(name string) string {
	return filepath.Join(c.Dir, name)
}

// Close removes the scratch directory
func (c *Context) Close() error {
	if c.keep {
		slog.Debug("keeping scratch directory", "dir", c.Dir)
		return nil
	}
	return os.RemoveAll(c.Dir)
}
