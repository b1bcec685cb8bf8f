package logging

import (
	"bytes"
	"sync"
)

// Console retains the most recent log lines, bounded by the
// consoleLogRetention setting.
type Console struct {
	mu        sync.Mutex
	retention int
	lines     []string
	partial   []byte
}

// NewConsole creates a console keeping at most retention lines.
// A retention of zero or less keeps nothing.
func NewConsole(retention int) *Console {
	return &Console{retention: retention}
}

// Write implements io.Writer. Input is split on newlines; an unterminated
// tail is held until the next write.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := append(c.partial, p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		c.push(string(buf[:i]))
		buf = buf[i+1:]
	}
	c.partial = append([]byte(nil), buf...)
	return len(p), nil
}

func (c *Console) push(line string) {
	if c.retention <= 0 {
		return
	}
	c.lines = append(c.lines, line)
	if over := len(c.lines) - c.retention; over > 0 {
		c.lines = append([]string(nil), c.lines[over:]...)
	}
}

// SetRetention changes the bound, dropping the oldest lines if needed.
func (c *Console) SetRetention(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retention = n
	if n <= 0 {
		c.lines = nil
		return
	}
	if over := len(c.lines) - n; over > 0 {
		c.lines = append([]string(nil), c.lines[over:]...)
	}
}

// Lines returns a copy of the retained lines, oldest first.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
