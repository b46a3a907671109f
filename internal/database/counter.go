package database

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kozaktomas/smart-locker/internal/fsutil"
)

// Counter is the persisted availability counter: one ASCII decimal
// integer in a file. Reset sets it to the slot count; nothing derives it
// from live sensor state.
type Counter struct {
	path string
}

func NewCounter(path string) *Counter {
	return &Counter{path: path}
}

func (c *Counter) Path() string {
	return c.path
}

// Read returns the stored value. A missing file reads as (0, false, nil).
func (c *Counter) Read() (value int, ok bool, err error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter %s: %w", c.path, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("counter %s holds %q: %w", c.path, strings.TrimSpace(string(data)), err)
	}
	return n, true, nil
}

// Write replaces the stored value atomically.
func (c *Counter) Write(n int) error {
	return fsutil.WriteFileAtomic(c.path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, strconv.Itoa(n))
		return err
	})
}
