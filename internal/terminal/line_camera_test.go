// internal/terminal/line_camera_test.go
package terminal

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/PickupDesk/internal/models"
)

func pipeCamera() (*LineCamera, *io.PipeWriter) {
	r, w := io.Pipe()
	return &LineCamera{Open: func() (io.ReadCloser, error) { return r, nil }}, w
}

func nextFrame(t *testing.T, s Stream) Frame {
	t.Helper()
	select {
	case f, ok := <-s.Frames():
		require.True(t, ok, "stream closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame")
		return Frame{}
	}
}

func TestLineCameraEmitsTrimmedLines(t *testing.T) {
	camera, w := pipeCamera()
	stream, err := camera.Acquire(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	go io.WriteString(w, "\n  217-010-3186-0505 \r\n")
	assert.Equal(t, "217-010-3186-0505", nextFrame(t, stream).Text)
}

func TestLineCameraDropsWhilePaused(t *testing.T) {
	camera, w := pipeCamera()
	camera.Settle = 100 * time.Millisecond
	stream, err := camera.Acquire(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	pauser := stream.(Pauser)
	pauser.Pause()
	_, err = io.WriteString(w, "first\n")
	require.NoError(t, err)
	pauser.Resume()

	time.Sleep(3 * camera.Settle)
	go io.WriteString(w, "second\n")
	assert.Equal(t, "second", nextFrame(t, stream).Text)
}

func TestLineCameraDeliversFirstScanAfterPauseCycle(t *testing.T) {
	camera, w := pipeCamera()
	camera.Settle = 20 * time.Millisecond
	stream, err := camera.Acquire(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	go io.WriteString(w, "one\n")
	assert.Equal(t, "one", nextFrame(t, stream).Text)

	// the reader is already blocked on the next line while this cycle runs
	pauser := stream.(Pauser)
	pauser.Pause()
	time.Sleep(10 * time.Millisecond)
	pauser.Resume()

	time.Sleep(3 * camera.Settle)
	go io.WriteString(w, "two\n")
	assert.Equal(t, "two", nextFrame(t, stream).Text)
}

func TestLineCameraCloseEndsStream(t *testing.T) {
	camera, _ := pipeCamera()
	stream, err := camera.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	select {
	case _, ok := <-stream.Frames():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frames not closed")
	}
}

func TestLineCameraUnavailable(t *testing.T) {
	_, err := NewLineCamera("").Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCameraUnavailable)

	failing := &LineCamera{Open: func() (io.ReadCloser, error) { return nil, errors.New("permission denied") }}
	_, err = failing.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCameraUnavailable)
}

func TestTerminalOverLineCamera(t *testing.T) {
	verifier, _ := backend(t, photo("P-1", models.StatusConfirmed))
	camera, w := pipeCamera()
	display := newDisplay()
	r := start(t, camera, verifier, display, Options{})
	waitState(t, r.term, StateScanning)

	go io.WriteString(w, singlePayload(t, "P-1")+"\n")
	assert.Equal(t, OutcomeRedeemed, display.next(t).Kind)
}
