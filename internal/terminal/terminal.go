// internal/terminal/terminal.go
package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/utils"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrBusy              = errors.New("terminal is processing a voucher")
	ErrClosed            = errors.New("terminal closed")
	ErrNothingToConfirm  = errors.New("nothing to confirm")
	ErrAlreadyRunning    = errors.New("terminal already running")
)

// State of the scanning loop
type State int

const (
	StateIdle State = iota
	StateScanning
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Frame is one capture from a camera. Text is set by scanners that decode on
// device; Image carries an encoded PNG or JPEG frame otherwise.
type Frame struct {
	Text  string
	Image []byte
}

// Camera hands out an exclusive capture stream
type Camera interface {
	// Acquire must not leave anything open when it returns an error
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is an acquired capture device
type Stream interface {
	Frames() <-chan Frame
	Close() error
}

// Pauser is implemented by streams that can stop producing frames for a while
type Pauser interface {
	Pause()
	Resume()
}

// Verifier is the backend the terminal talks to
type Verifier interface {
	Verify(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error)
	Redeem(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error)
}

// Options tune a Terminal
type Options struct {
	// VerifyTimeout bounds every backend call; an expired call is a transient failure
	VerifyTimeout time.Duration
	// ResumeCooldown is how long a result stays up before scanning resumes
	ResumeCooldown time.Duration
	SessionID      string
	Logger         *utils.Logger
	Now            func() time.Time
}

type opKind int

const (
	opVerify opKind = iota
	opRedeem
)

type response struct {
	op      opKind
	v       models.Voucher
	preview *models.VerificationPreview
	result  *models.RedemptionResult
	err     error
}

type eventKind int

const (
	evSubmit eventKind = iota
	evConfirm
	evDismiss
)

type event struct {
	kind  eventKind
	text  string
	reply chan error
}

// Terminal is the operator-facing scan loop. Everything it decides happens on
// the goroutine running Run; the other methods hand events to that goroutine.
//
// The camera stream is held from acquisition until teardown and released
// exactly once, whichever of Close, ctx cancellation or a camera failure gets
// there first. At most one backend call is outstanding at a time.
type Terminal struct {
	camera   Camera
	verifier Verifier
	display  Display
	opts     Options
	logger   *utils.Logger

	mu      sync.Mutex
	state   State
	manual  bool
	started bool
	stream  Stream
	release sync.Once

	events   chan event
	results  chan response
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by the Run goroutine
	pending  *models.Voucher
	inFlight bool
	resume   *time.Timer
	lastRaw  string
	lastAt   time.Time
}

// New builds a terminal. camera may be nil for a manual-entry-only terminal.
func New(camera Camera, verifier Verifier, display Display, opts Options) *Terminal {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 10 * time.Second
	}
	if opts.ResumeCooldown < 0 {
		opts.ResumeCooldown = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	return &Terminal{
		camera:   camera,
		verifier: verifier,
		display:  display,
		opts:     opts,
		logger:   opts.Logger.With(map[string]interface{}{"session": opts.SessionID}),
		events:   make(chan event),
		results:  make(chan response),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current loop state
func (t *Terminal) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Manual reports whether the terminal fell back to typed input
func (t *Terminal) Manual() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.manual
}

// Done is closed once Run has torn down
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// Run acquires the camera and serves scans until ctx ends or Close is called.
// It returns ctx.Err() when ctx ended it and nil after Close.
func (t *Terminal) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.started = true
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = services.WithRequestID(runCtx, t.opts.SessionID)
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()
	defer t.teardown()

	frames := t.acquire(runCtx)

	for {
		var resumeC <-chan time.Time
		if t.resume != nil {
			resumeC = t.resume.C
		}

		select {
		case <-runCtx.Done():
			return ctx.Err()

		case f, ok := <-frames:
			if !ok {
				frames = nil
				t.cameraLost()
				continue
			}
			t.onFrame(runCtx, f)

		case ev := <-t.events:
			ev.reply <- t.onEvent(runCtx, ev)

		case r := <-t.results:
			t.onResult(r)

		case <-resumeC:
			t.resume = nil
			t.resumeScanning()
		}
	}
}

// Close tears the terminal down and releases the camera immediately.
// An outstanding backend call still completes; its result is not shown.
func (t *Terminal) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })
	t.releaseCamera()
	return nil
}

// Submit feeds typed text through the same decoder and verifier as a scan.
// It blocks until the Run loop has taken the input.
func (t *Terminal) Submit(text string) error {
	return t.send(event{kind: evSubmit, text: text})
}

// Confirm redeems the voucher behind the current confirm prompt
func (t *Terminal) Confirm() error {
	return t.send(event{kind: evConfirm})
}

// Dismiss clears the current result and resumes scanning without waiting for the cooldown
func (t *Terminal) Dismiss() error {
	return t.send(event{kind: evDismiss})
}

func (t *Terminal) send(ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case t.events <- ev:
	case <-t.stop:
		return ErrClosed
	case <-t.done:
		return ErrClosed
	}
	return <-ev.reply
}

func (t *Terminal) acquire(ctx context.Context) <-chan Frame {
	if t.camera == nil {
		t.enterManual(ErrCameraUnavailable)
		return nil
	}

	stream, err := t.camera.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.enterManual(err)
		}
		return nil
	}

	t.mu.Lock()
	t.stream = stream
	t.state = StateScanning
	t.mu.Unlock()

	// Close may have run while Acquire was blocked
	select {
	case <-t.stop:
		t.releaseCamera()
		return nil
	default:
	}
	return stream.Frames()
}

func (t *Terminal) enterManual(cause error) {
	t.logger.Warn("camera unavailable, falling back to manual entry", map[string]interface{}{
		"error": cause.Error(),
	})
	t.mu.Lock()
	t.manual = true
	t.state = StateScanning
	t.mu.Unlock()
	t.show(Outcome{Kind: OutcomeCameraUnavailable, Message: messages[OutcomeCameraUnavailable]})
}

// cameraLost handles a stream that ended on its own
func (t *Terminal) cameraLost() {
	t.releaseCamera()
	t.mu.Lock()
	processing := t.state == StateProcessing
	t.state = StateIdle
	t.mu.Unlock()

	t.enterManual(ErrCameraUnavailable)
	if processing {
		// the outstanding result is still shown before input reopens
		t.setState(StateProcessing)
	}
}

func (t *Terminal) onFrame(ctx context.Context, f Frame) {
	if t.State() != StateScanning {
		// captured before the pause took effect
		return
	}

	text := f.Text
	if text == "" && len(f.Image) > 0 {
		decoded, err := voucher.DecodeFrame(f.Image)
		if err != nil {
			return
		}
		text = decoded
	}

	v, err := voucher.Decode(text)
	if err != nil {
		// not a voucher; keep scanning
		t.logger.Debug("frame ignored", map[string]interface{}{"error": err.Error()})
		return
	}
	if v.Raw == t.lastRaw && t.opts.Now().Sub(t.lastAt) < t.opts.ResumeCooldown {
		return
	}

	t.pauseCamera()
	t.begin(ctx, v)
}

func (t *Terminal) onEvent(ctx context.Context, ev event) error {
	switch ev.kind {
	case evSubmit:
		if t.State() != StateScanning {
			return ErrBusy
		}
		input := strings.TrimSpace(ev.text)
		v, err := voucher.Decode(input)
		if err != nil {
			// keep the input so the operator can correct it
			t.show(outcomeFromError(err, input))
			return nil
		}
		t.pauseCamera()
		t.begin(ctx, v)
		return nil

	case evConfirm:
		if t.State() != StateProcessing || t.pending == nil || t.inFlight {
			return ErrNothingToConfirm
		}
		v := *t.pending
		t.pending = nil
		t.dispatch(ctx, opRedeem, v)
		return nil

	case evDismiss:
		if t.inFlight {
			return ErrBusy
		}
		if t.State() == StateProcessing {
			t.pending = nil
			t.resumeScanning()
		}
		return nil
	}
	return nil
}

// begin moves to Processing and starts the first backend call for v
func (t *Terminal) begin(ctx context.Context, v models.Voucher) {
	t.setState(StateProcessing)
	if v.RequiresConfirm() {
		t.dispatch(ctx, opVerify, v)
		return
	}
	t.dispatch(ctx, opRedeem, v)
}

// dispatch runs one backend call off the loop. The call outlives teardown,
// bounded by VerifyTimeout; once the loop is gone its result is dropped.
func (t *Terminal) dispatch(ctx context.Context, op opKind, v models.Voucher) {
	t.inFlight = true
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.VerifyTimeout)

	go func() {
		defer cancel()

		answered := make(chan response, 1)
		go func() {
			r := response{op: op, v: v}
			switch op {
			case opVerify:
				r.preview, r.err = t.verifier.Verify(callCtx, v)
			case opRedeem:
				r.result, r.err = t.verifier.Redeem(callCtx, v)
			}
			answered <- r
		}()

		var r response
		select {
		case r = <-answered:
		case <-callCtx.Done():
			r = response{op: op, v: v, err: apperrors.NewTransientError("verifier did not answer in time", callCtx.Err())}
		}

		select {
		case t.results <- r:
		case <-t.done:
		}
	}()
}

func (t *Terminal) onResult(r response) {
	t.inFlight = false
	t.lastRaw, t.lastAt = r.v.Raw, t.opts.Now()

	var o Outcome
	switch {
	case r.op == opVerify && r.err == nil:
		o = outcomeFromPreview(r.preview)
	case r.op == opVerify:
		o = outcomeFromError(r.err, "")
	default:
		o = outcomeFromRedeem(r.v, r.result, r.err)
	}

	fields := map[string]interface{}{
		"outcome": o.Kind,
		"kind":    r.v.Kind,
	}
	if r.err != nil {
		fields["error"] = r.err.Error()
	}
	t.logger.Info("terminal outcome", fields)

	if o.Kind == OutcomeConfirm {
		v := r.v
		t.pending = &v
		t.show(o)
		return
	}
	t.show(o)
	t.scheduleResume()
}

func (t *Terminal) scheduleResume() {
	t.stopResumeTimer()
	if t.opts.ResumeCooldown == 0 {
		t.resumeScanning()
		return
	}
	t.resume = time.NewTimer(t.opts.ResumeCooldown)
}

func (t *Terminal) stopResumeTimer() {
	if t.resume != nil {
		t.resume.Stop()
		t.resume = nil
	}
}

func (t *Terminal) resumeScanning() {
	t.stopResumeTimer()
	t.setState(StateScanning)
	t.resumeCamera()
}

func (t *Terminal) show(o Outcome) {
	if t.display == nil {
		return
	}
	o.SessionID = t.opts.SessionID
	o.At = t.opts.Now()
	t.display.Show(o)
}

func (t *Terminal) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Terminal) currentStream() Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

func (t *Terminal) pauseCamera() {
	if p, ok := t.currentStream().(Pauser); ok {
		p.Pause()
	}
}

func (t *Terminal) resumeCamera() {
	if p, ok := t.currentStream().(Pauser); ok && !t.Manual() {
		p.Resume()
	}
}

// releaseCamera closes the acquired stream exactly once
func (t *Terminal) releaseCamera() {
	stream := t.currentStream()
	if stream == nil {
		return
	}
	t.release.Do(func() {
		if err := stream.Close(); err != nil {
			t.logger.Warn("camera release failed", map[string]interface{}{"error": err.Error()})
		}
	})
}

func (t *Terminal) teardown() {
	t.stopResumeTimer()
	t.releaseCamera()
	t.setState(StateIdle)
	close(t.done)
}
