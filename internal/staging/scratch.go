package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tonearm/internal/services"
)

// ErrInsufficientSpace reports that the scratch filesystem is below its
// configured free-space floor.
var ErrInsufficientSpace = errors.New("insufficient scratch space")

// Scratch hands out per-attempt directories under a root.
type Scratch struct {
	root         string
	minFreeBytes uint64
}

// NewScratch returns a scratch allocator rooted at dir. A zero minFreeBytes
// disables the free-space check.
func NewScratch(dir string, minFreeBytes uint64) *Scratch {
	return &Scratch{root: dir, minFreeBytes: minFreeBytes}
}

// Root returns the directory all attempts are created under.
func (s *Scratch) Root() string {
	return s.root
}

// Dir is a scratch directory owned by exactly one attempt.
type Dir struct {
	path string
	once sync.Once
	err  error
}

// Path returns the directory location.
func (d *Dir) Path() string {
	return d.path
}

// File returns a path for name inside the directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.path, name)
}

// Release removes the directory and everything in it. It is safe to call
// more than once.
func (d *Dir) Release() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.err = os.RemoveAll(d.path)
	})
	return d.err
}

// Acquire creates a fresh directory for one attempt of jobID. Each call
// returns a distinct directory even for the same attempt number.
func (s *Scratch) Acquire(jobID string, attempt int) (*Dir, error) {
	if strings.TrimSpace(s.root) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "acquire scratch", "scratch directory is not configured", nil)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransientIO, "staging", "acquire scratch", "create scratch root", err)
	}
	if s.minFreeBytes > 0 {
		free, err := FreeBytes(s.root)
		if err == nil && free < s.minFreeBytes {
			return nil, services.Wrap(services.ErrTransientIO, "staging", "acquire scratch",
				fmt.Sprintf("%d bytes free, need %d", free, s.minFreeBytes), ErrInsufficientSpace)
		}
	}
	name := sanitizeName(jobID) + "-a" + strconv.Itoa(attempt) + "-" + uuid.NewString()[:8]
	path := filepath.Join(s.root, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransientIO, "staging", "acquire scratch", "create attempt directory", err)
	}
	return &Dir{path: path}, nil
}

func sanitizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "job"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
