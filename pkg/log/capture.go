package log

import (
	"bufio"
	"os"
	"sync"
)

// CaptureFile appends events to a .dlog file. Events are buffered until
// Flush or Close.
type CaptureFile struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	dropped uint64
}

// CreateCapture opens path for appending, creating it if needed.
func CreateCapture(path string) (*CaptureFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &CaptureFile{f: f, w: bufio.NewWriter(f)}, nil
}

// Log appends event. An event that cannot be encoded is counted in
// Dropped.
func (c *CaptureFile) Log(event Event) {
	b, err := EncodeEvent(event)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return
	}
	if err == nil {
		_, err = c.w.Write(b)
	}
	if err != nil {
		c.dropped++
	}
}

// Dropped returns how many events were lost.
func (c *CaptureFile) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Flush writes buffered events to the file.
func (c *CaptureFile) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	return c.w.Flush()
}

// Close flushes and closes the file. Later events are ignored.
func (c *CaptureFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	f := c.f
	c.f = nil
	if err := c.w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
