// internal/terminal/terminal_test.go
package terminal

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/storage"
	"github.com/Corphon/PickupDesk/internal/utils"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

type fakeStream struct {
	frames  chan Frame
	closes  atomic.Int32
	pauses  atomic.Int32
	resumes atomic.Int32
}

func newFakeStream() *fakeStream { return &fakeStream{frames: make(chan Frame, 8)} }

func (s *fakeStream) Frames() <-chan Frame { return s.frames }
func (s *fakeStream) Close() error         { s.closes.Add(1); return nil }
func (s *fakeStream) Pause()               { s.pauses.Add(1) }
func (s *fakeStream) Resume()              { s.resumes.Add(1) }

type fakeCamera struct {
	stream *fakeStream
	err    error
}

func (c *fakeCamera) Acquire(ctx context.Context) (Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type recordingDisplay struct {
	ch chan Outcome
}

func newDisplay() *recordingDisplay { return &recordingDisplay{ch: make(chan Outcome, 32)} }

func (d *recordingDisplay) Show(o Outcome) { d.ch <- o }

func (d *recordingDisplay) next(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-d.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome displayed")
		return Outcome{}
	}
}

func (d *recordingDisplay) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case o := <-d.ch:
		t.Fatalf("unexpected outcome %s", o.Kind)
	case <-time.After(wait):
	}
}

// gatedVerifier blocks every call until release is closed
type gatedVerifier struct {
	inner   Verifier
	release chan struct{}
	calls   atomic.Int32
	done    chan struct{}
}

func (g *gatedVerifier) Verify(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error) {
	g.calls.Add(1)
	<-g.release
	defer func() { g.done <- struct{}{} }()
	return g.inner.Verify(ctx, v)
}

func (g *gatedVerifier) Redeem(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
	g.calls.Add(1)
	<-g.release
	defer func() { g.done <- struct{}{} }()
	return g.inner.Redeem(ctx, v)
}

type funcVerifier struct {
	verify func(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error)
	redeem func(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error)
}

func (f funcVerifier) Verify(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error) {
	return f.verify(ctx, v)
}

func (f funcVerifier) Redeem(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
	return f.redeem(ctx, v)
}

func quietLogger() *utils.Logger { return utils.NewLogger(io.Discard, utils.ERROR) }

func backend(t *testing.T, items ...models.Item) (*services.RedemptionVerifier, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	for i := range items {
		require.NoError(t, store.Put(context.Background(), &items[i]))
	}
	return services.NewRedemptionVerifier(store, services.VerifierOptions{
		Logger:  quietLogger(),
		Metrics: utils.NewRedemptionMetrics(utils.NewMetricsCollector(), quietLogger()),
	}), store
}

func photo(id string, status models.Status) models.Item {
	return models.Item{ID: id, Type: models.ItemTypePhoto, Status: status, OwnerID: "u1", Title: "Print " + id}
}

func singlePayload(t *testing.T, id string) string {
	t.Helper()
	raw, err := voucher.EncodeSingle(models.ItemTypePhoto, id, time.Now())
	require.NoError(t, err)
	return raw
}

type running struct {
	term   *Terminal
	cancel context.CancelFunc
	errc   chan error
}

func start(t *testing.T, camera Camera, verifier Verifier, display Display, opts Options) *running {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	term := New(camera, verifier, display, opts)
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{term: term, cancel: cancel, errc: make(chan error, 1)}
	go func() { r.errc <- term.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		term.Close()
	})
	return r
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func waitState(t *testing.T, term *Terminal, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return term.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state never became %s", want)
}

func TestScanRedeemsAndResumes(t *testing.T) {
	verifier, store := backend(t, photo("P-1", models.StatusConfirmed))
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{ResumeCooldown: 20 * time.Millisecond})

	waitState(t, r.term, StateScanning)
	stream.frames <- Frame{Text: singlePayload(t, "P-1")}

	o := display.next(t)
	assert.Equal(t, OutcomeRedeemed, o.Kind)
	assert.Equal(t, "Redeemed: Print P-1", o.Message)
	assert.Equal(t, int32(1), stream.pauses.Load())

	waitState(t, r.term, StateScanning)
	assert.Eventually(t, func() bool { return stream.resumes.Load() == 1 }, time.Second, 5*time.Millisecond)

	item, err := store.Get(context.Background(), models.ItemTypePhoto, "P-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRedeemed, item.Status)
}

func TestImageFramesAreDecoded(t *testing.T) {
	verifier, _ := backend(t, photo("P-img", models.StatusConfirmed))
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{})
	waitState(t, r.term, StateScanning)

	png, err := voucher.RenderQR(singlePayload(t, "P-img"), 256)
	require.NoError(t, err)
	stream.frames <- Frame{Image: []byte("not an image")}
	stream.frames <- Frame{Image: png}

	assert.Equal(t, OutcomeRedeemed, display.next(t).Kind)
}

func TestUndecodableFramesAreIgnored(t *testing.T) {
	verifier, _ := backend(t)
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{})
	waitState(t, r.term, StateScanning)

	stream.frames <- Frame{Text: "{broken"}
	stream.frames <- Frame{Text: "hello"}
	display.none(t, 50*time.Millisecond)
	assert.Equal(t, StateScanning, r.term.State())
}

func TestReleaseOnceOnNavigationAwayWhileScanning(t *testing.T) {
	verifier, _ := backend(t)
	stream := newFakeStream()
	r := start(t, &fakeCamera{stream: stream}, verifier, newDisplay(), Options{})
	waitState(t, r.term, StateScanning)

	r.cancel()
	assert.ErrorIs(t, r.wait(t), context.Canceled)
	require.NoError(t, r.term.Close())

	assert.Equal(t, int32(1), stream.closes.Load())
	assert.Equal(t, StateIdle, r.term.State())
}

func TestReleaseOnceOnCloseWhileProcessing(t *testing.T) {
	inner, store := backend(t, photo("P-1", models.StatusConfirmed))
	gate := &gatedVerifier{inner: inner, release: make(chan struct{}), done: make(chan struct{}, 1)}
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, gate, display, Options{VerifyTimeout: time.Second})
	waitState(t, r.term, StateScanning)

	stream.frames <- Frame{Text: singlePayload(t, "P-1")}
	waitState(t, r.term, StateProcessing)

	require.NoError(t, r.term.Close())
	assert.Equal(t, int32(1), stream.closes.Load(), "camera released as soon as the view closes")
	assert.NoError(t, r.wait(t))
	r.cancel()
	r.term.Close()
	assert.Equal(t, int32(1), stream.closes.Load())

	// the outstanding request still completes, its result is not shown
	close(gate.release)
	select {
	case <-gate.done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request did not complete")
	}
	display.none(t, 50*time.Millisecond)

	item, err := store.Get(context.Background(), models.ItemTypePhoto, "P-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRedeemed, item.Status)
}

func TestFramesDroppedWhileProcessing(t *testing.T) {
	inner, _ := backend(t, photo("P-1", models.StatusConfirmed), photo("P-2", models.StatusConfirmed))
	gate := &gatedVerifier{inner: inner, release: make(chan struct{}), done: make(chan struct{}, 4)}
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, gate, display, Options{ResumeCooldown: time.Hour})
	waitState(t, r.term, StateScanning)

	payload := singlePayload(t, "P-1")
	stream.frames <- Frame{Text: payload}
	waitState(t, r.term, StateProcessing)
	for i := 0; i < 3; i++ {
		stream.frames <- Frame{Text: payload}
	}
	stream.frames <- Frame{Text: singlePayload(t, "P-2")}
	assert.Eventually(t, func() bool { return len(stream.frames) == 0 }, time.Second, 5*time.Millisecond)

	close(gate.release)
	assert.Equal(t, OutcomeRedeemed, display.next(t).Kind)
	display.none(t, 50*time.Millisecond)
	assert.Equal(t, int32(1), gate.calls.Load(), "one backend call per scan cycle")
}

func TestDismissResumesAndDebounces(t *testing.T) {
	var calls atomic.Int32
	verifier := funcVerifier{redeem: func(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
		calls.Add(1)
		return models.NewRedemptionResult(v), apperrors.NewIneligibleError(models.ReasonAlreadyRedeemed, "already redeemed")
	}}
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{ResumeCooldown: time.Hour})
	waitState(t, r.term, StateScanning)

	payload := singlePayload(t, "P-1")
	stream.frames <- Frame{Text: payload}
	assert.Equal(t, OutcomeAlreadyRedeemed, display.next(t).Kind)
	assert.Equal(t, StateProcessing, r.term.State())

	require.NoError(t, r.term.Dismiss())
	assert.Equal(t, StateScanning, r.term.State())

	// the same code still in view is not fired again within the cooldown
	stream.frames <- Frame{Text: payload}
	display.none(t, 50*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManualFallbackWithConfirm(t *testing.T) {
	verifier, store := backend(t, models.Item{
		ID: "217", Type: models.ItemTypeGarment, Status: models.StatusOrderFinalized,
		SecondaryKey: "010-3186-0505", OwnerName: "Lee", Title: "Suit",
	})
	display := newDisplay()
	r := start(t, &fakeCamera{err: ErrCameraUnavailable}, verifier, display, Options{})

	assert.Equal(t, OutcomeCameraUnavailable, display.next(t).Kind)
	assert.True(t, r.term.Manual())
	waitState(t, r.term, StateScanning)

	require.NoError(t, r.term.Submit("abc"))
	o := display.next(t)
	assert.Equal(t, OutcomeInvalidFormat, o.Kind)
	assert.Equal(t, "abc", o.Input)
	assert.ErrorIs(t, r.term.Confirm(), ErrNothingToConfirm)

	require.NoError(t, r.term.Submit("217-01031860505"))
	o = display.next(t)
	require.Equal(t, OutcomeConfirm, o.Kind)
	assert.Equal(t, "Redeem Suit for Lee? Confirm to proceed.", o.Message)

	item, err := store.Get(context.Background(), models.ItemTypeGarment, "217")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOrderFinalized, item.Status, "nothing changes before confirm")
	assert.ErrorIs(t, r.term.Submit("217-01031860505"), ErrBusy)

	require.NoError(t, r.term.Confirm())
	assert.Equal(t, OutcomeRedeemed, display.next(t).Kind)
	waitState(t, r.term, StateScanning)

	item, err = store.Get(context.Background(), models.ItemTypeGarment, "217")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRedeemed, item.Status)
}

func TestTransientFailureReenablesScanning(t *testing.T) {
	var calls atomic.Int32
	verifier := funcVerifier{redeem: func(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
		calls.Add(1)
		return nil, apperrors.NewTransientError("backend down", errors.New("connection refused"))
	}}
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{})
	waitState(t, r.term, StateScanning)

	stream.frames <- Frame{Text: singlePayload(t, "P-1")}
	assert.Equal(t, OutcomeTransient, display.next(t).Kind)
	waitState(t, r.term, StateScanning)
	display.none(t, 30*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "no automatic retry")
}

func TestVerifierTimeoutIsTransient(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	verifier := funcVerifier{redeem: func(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
		<-block
		return nil, nil
	}}
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{VerifyTimeout: 20 * time.Millisecond})
	waitState(t, r.term, StateScanning)

	stream.frames <- Frame{Text: singlePayload(t, "P-1")}
	assert.Equal(t, OutcomeTransient, display.next(t).Kind)
	waitState(t, r.term, StateScanning)
}

func TestCameraLossFallsBackToManual(t *testing.T) {
	verifier, _ := backend(t)
	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{})
	waitState(t, r.term, StateScanning)

	close(stream.frames)
	assert.Equal(t, OutcomeCameraUnavailable, display.next(t).Kind)
	assert.True(t, r.term.Manual())
	assert.Equal(t, int32(1), stream.closes.Load())

	r.cancel()
	r.wait(t)
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestBatchOutcomeReportsPartial(t *testing.T) {
	verifier, _ := backend(t,
		photo("A", models.StatusConfirmed),
		photo("B", models.StatusRedeemed),
		photo("C", models.StatusCancelled),
	)
	raw, err := voucher.EncodeBatch(models.ItemTypePhoto, []string{"A", "B", "C"}, "u1", time.Now())
	require.NoError(t, err)

	stream := newFakeStream()
	display := newDisplay()
	r := start(t, &fakeCamera{stream: stream}, verifier, display, Options{})
	waitState(t, r.term, StateScanning)

	stream.frames <- Frame{Text: raw}
	o := display.next(t)
	assert.Equal(t, OutcomePartial, o.Kind)
	assert.Equal(t, "1 of 3 redeemed (1 already redeemed, 1 not redeemable)", o.Message)
	require.NotNil(t, o.Result)
	assert.Equal(t, []string{"B"}, o.Result.AlreadyRedeemedIDs)
}

func TestRunTwice(t *testing.T) {
	verifier, _ := backend(t)
	r := start(t, nil, verifier, newDisplay(), Options{})
	waitState(t, r.term, StateScanning)
	assert.ErrorIs(t, r.term.Run(context.Background()), ErrAlreadyRunning)
}

func TestSubmitAfterClose(t *testing.T) {
	verifier, _ := backend(t)
	r := start(t, nil, verifier, newDisplay(), Options{})
	waitState(t, r.term, StateScanning)
	r.term.Close()
	r.wait(t)
	assert.ErrorIs(t, r.term.Submit("x"), ErrClosed)
}

func TestOutcomeMessagesAreDistinct(t *testing.T) {
	seen := map[string]OutcomeKind{}
	for kind, msg := range messages {
		prev, dup := seen[msg]
		seen[msg] = kind
		assert.False(t, dup, "%s and %s share a message", kind, prev)
	}

	cases := []struct {
		err  error
		want OutcomeKind
	}{
		{apperrors.NewParseError("bad", nil), OutcomeInvalidFormat},
		{apperrors.NewDecodeError("bad", nil), OutcomeInvalidFormat},
		{apperrors.NewNotFoundError("gone", nil), OutcomeNotFound},
		{apperrors.NewIneligibleError(models.ReasonAlreadyRedeemed, ""), OutcomeAlreadyRedeemed},
		{apperrors.NewIneligibleError(models.ReasonNotReady, ""), OutcomeNotReady},
		{apperrors.NewIneligibleError(models.ReasonCancelled, ""), OutcomeIneligible},
		{apperrors.NewExpiredError("old", nil), OutcomeExpired},
		{errors.New("boom"), OutcomeTransient},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, outcomeFromError(tc.err, "").Kind, tc.err.Error())
	}
}
