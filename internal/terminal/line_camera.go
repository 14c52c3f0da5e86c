// internal/terminal/line_camera.go
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSettle is how long after Resume a line that was pending across a pause
// is still treated as captured during the pause
const DefaultSettle = 200 * time.Millisecond

// LineCamera reads a keyboard-wedge or serial scanner that emits one decoded
// code per line
type LineCamera struct {
	Open func() (io.ReadCloser, error)
	// Settle defaults to DefaultSettle
	Settle time.Duration
}

// NewLineCamera reads from the device at path. An empty path gives a camera
// that is always unavailable, which puts the terminal in manual mode.
func NewLineCamera(path string) *LineCamera {
	return &LineCamera{Open: func() (io.ReadCloser, error) {
		if path == "" {
			return nil, fmt.Errorf("no scanner device configured")
		}
		return os.Open(path)
	}}
}

func (c *LineCamera) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Open == nil {
		return nil, ErrCameraUnavailable
	}
	rc, err := c.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	settle := c.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	s := &lineStream{
		rc:     rc,
		frames: make(chan Frame, 1),
		done:   make(chan struct{}),
		settle: settle,
		epoch:  time.Now(),
	}
	go s.scan()
	return s, nil
}

type lineStream struct {
	rc        io.ReadCloser
	frames    chan Frame
	paused    atomic.Bool
	pauseGen  atomic.Uint64
	resumedAt atomic.Int64 // since epoch
	settle    time.Duration
	epoch     time.Time
	done      chan struct{}
	closeOnce sync.Once
}

func (s *lineStream) scan() {
	defer close(s.frames)

	scanner := bufio.NewScanner(s.rc)
	for {
		// a read blocked across a pause may hold a line captured while paused
		gen, startedPaused := s.pauseGen.Load(), s.paused.Load()
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || s.stale(gen, startedPaused) {
			continue
		}
		select {
		case s.frames <- Frame{Text: line}:
		case <-s.done:
			return
		default:
			// a code is already waiting; drop the repeat
		}
	}
}

func (s *lineStream) Frames() <-chan Frame { return s.frames }

// stale reports whether the line just read may predate the last Resume
func (s *lineStream) stale(gen uint64, startedPaused bool) bool {
	if s.paused.Load() {
		return true
	}
	if !startedPaused && s.pauseGen.Load() == gen {
		return false
	}
	sinceResume := time.Since(s.epoch) - time.Duration(s.resumedAt.Load())
	return sinceResume < s.settle
}

func (s *lineStream) Pause() {
	s.pauseGen.Add(1)
	s.paused.Store(true)
}

func (s *lineStream) Resume() {
	s.resumedAt.Store(int64(time.Since(s.epoch)))
	s.paused.Store(false)
}

func (s *lineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rc.Close()
	})
	return err
}
