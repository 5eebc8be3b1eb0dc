package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// arena is a scratch directory owned by exactly one job run.
type arena struct {
	dir  string
	once sync.Once
}

func newArena(root, jobID string) (*arena, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "clipwave-"+jobID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &arena{dir: dir}, nil
}

func (a *arena) Dir() string { return a.dir }

func (a *arena) Path(name string) string {
	return filepath.Join(a.dir, name)
}

// Close removes the directory. Safe to call more than once.
func (a *arena) Close(ctx context.Context) {
	a.once.Do(func() {
		if err := os.RemoveAll(a.dir); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("dir", a.dir).Msg("failed to remove scratch dir")
		}
	})
}
