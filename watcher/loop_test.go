package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spance/capwatch/watcher/definitions"
)

type fakeTrack struct {
	width, height int
	noSurface     bool
	stopped       atomic.Bool
	onStop        func()
}

func (t *fakeTrack) ReadFrame(ctx context.Context) (image.Image, error) {
	if t.noSurface {
		return nil, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	return img, nil
}

func (t *fakeTrack) Stop() {
	if t.stopped.CompareAndSwap(false, true) && t.onStop != nil {
		t.onStop()
	}
}

type fakeProcessor struct {
	mu        sync.Mutex
	active    int
	maxActive int
	tracks    []*fakeTrack
	devices   []string

	failCreate bool
	nilTrack   bool
	noSurface  bool
}

func (p *fakeProcessor) Initialize(ctx context.Context) error { return nil }

func (p *fakeProcessor) CreateProcessedStream(ctx context.Context, opts *definitions.StreamOptions) (*definitions.ProcessedStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.devices = append(p.devices, opts.DeviceID)
	if p.failCreate {
		return nil, errors.New("camera unavailable")
	}
	if p.nilTrack {
		return &definitions.ProcessedStream{}, nil
	}

	track := &fakeTrack{width: 640, height: 480, noSurface: p.noSurface}
	track.onStop = func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
	p.tracks = append(p.tracks, track)
	p.active++
	p.maxActive = max(p.maxActive, p.active)
	return &definitions.ProcessedStream{Track: track}, nil
}

func (p *fakeProcessor) counts() (active, maxActive, created int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, p.maxActive, len(p.tracks)
}

type verdict struct {
	detected bool
	err      error
}

type fakeClassifier struct {
	calls   atomic.Int32
	started chan *definitions.Snapshot
	results chan verdict
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		started: make(chan *definitions.Snapshot, 16),
		results: make(chan verdict, 16),
	}
}

func (f *fakeClassifier) Classify(ctx context.Context, snapshot *definitions.Snapshot) (bool, error) {
	f.calls.Add(1)
	f.started <- snapshot
	select {
	case v := <-f.results:
		return v.detected, v.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (f *fakeClassifier) waitStarted(t *testing.T) *definitions.Snapshot {
	t.Helper()
	select {
	case s := <-f.started:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("classification was not started")
		return nil
	}
}

func startLoop(t *testing.T, proc Processor, cls Classifier) *Loop {
	t.Helper()
	cfg := definitions.DefaultWatcherConfig()
	cfg.Interval = time.Hour

	l := NewLoop(proc, cls, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func eventually(t *testing.T, cond func(Status) bool, l *Loop) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(l.Status()) }, 2*time.Second, 5*time.Millisecond)
}

func TestTickWithoutStreamDoesNotClassify(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{}, cls)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))

	st := l.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.Playing)
	assert.False(t, st.Detected)
	assert.Equal(t, int32(0), cls.calls.Load())
}

func TestPlayTwiceReleasesPriorStream(t *testing.T) {
	proc := &fakeProcessor{}
	l := startLoop(t, proc, newFakeClassifier())
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, "/dev/video0"))
	require.NoError(t, l.Play(ctx, "/dev/video2"))

	active, maxActive, created := proc.counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 2, created)
	assert.True(t, proc.tracks[0].stopped.Load())
	assert.False(t, proc.tracks[1].stopped.Load())
	assert.Equal(t, []string{"/dev/video0", "/dev/video2"}, proc.devices)

	st := l.Status()
	assert.True(t, st.Streaming)
	assert.Equal(t, "/dev/video2", st.DeviceID)
}

func TestTickWhileInFlightIsDropped(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{}, cls)
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))

	snap := cls.waitStarted(t)
	assert.Equal(t, 512, snap.Width)
	assert.Equal(t, 512, snap.Height)
	assert.Equal(t, image.Rect(80, 0, 560, 480), snap.Crop)
	assert.Same(t, snap, l.LastSnapshot())

	st := l.Status()
	assert.Equal(t, StateAnalyzing, st.State)
	assert.True(t, st.Analyzing)

	require.NoError(t, l.Tick(ctx))
	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, int32(1), cls.calls.Load())

	cls.results <- verdict{detected: true}
	eventually(t, func(s Status) bool { return s.Detected && !s.Analyzing }, l)
	assert.Equal(t, StatePlaying, l.Status().State)
	require.NotNil(t, l.Status().CheckedAt)
	assert.False(t, l.Status().CheckedAt.IsZero())

	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	assert.Equal(t, int32(2), cls.calls.Load())
}

func TestStopKeepsDetected(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{}, cls)
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	cls.results <- verdict{detected: true}
	eventually(t, func(s Status) bool { return s.Detected && !s.Analyzing }, l)

	require.NoError(t, l.Stop(ctx))
	st := l.Status()
	assert.False(t, st.Playing)
	assert.True(t, st.Detected)
	assert.Equal(t, StateIdle, st.State)

	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, int32(1), cls.calls.Load())
}

func TestStopDoesNotCancelInFlight(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{}, cls)
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)

	require.NoError(t, l.Stop(ctx))
	assert.True(t, l.Status().Analyzing)

	cls.results <- verdict{detected: true}
	eventually(t, func(s Status) bool { return s.Detected && !s.Analyzing }, l)
	assert.False(t, l.Status().Playing)
}

func TestResetDiscardsPendingVerdict(t *testing.T) {
	proc := &fakeProcessor{}
	cls := newFakeClassifier()
	l := startLoop(t, proc, cls)
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	before := l.Status().SessionID

	require.NoError(t, l.Reset(ctx))
	st := l.Status()
	assert.NotEqual(t, before, st.SessionID)
	assert.False(t, st.Streaming)
	assert.False(t, st.Analyzing)
	assert.True(t, proc.tracks[0].stopped.Load())

	cls.results <- verdict{detected: true}
	assert.Never(t, func() bool { return l.Status().Detected }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, st.SessionID, l.Status().SessionID)
}

func TestClassifierErrorKeepsDetected(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{}, cls)
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))

	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	cls.results <- verdict{detected: true}
	eventually(t, func(s Status) bool { return s.Detected && !s.Analyzing }, l)

	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	cls.results <- verdict{err: errors.New("connection reset")}
	eventually(t, func(s Status) bool { return !s.Analyzing && s.LastError != "" }, l)
	assert.True(t, l.Status().Detected)
	assert.Equal(t, StatePlaying, l.Status().State)

	// the next tick retries
	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	cls.results <- verdict{detected: false}
	eventually(t, func(s Status) bool { return !s.Detected && !s.Analyzing && s.LastError == "" }, l)
	assert.Equal(t, int32(3), cls.calls.Load())
}

func TestPlayFailureIsSilent(t *testing.T) {
	for _, proc := range []*fakeProcessor{{failCreate: true}, {nilTrack: true}} {
		cls := newFakeClassifier()
		l := startLoop(t, proc, cls)
		ctx := context.Background()

		require.NoError(t, l.Play(ctx, "/dev/video0"))
		require.NoError(t, l.Start(ctx))
		require.NoError(t, l.Tick(ctx))

		st := l.Status()
		assert.False(t, st.Streaming)
		assert.False(t, st.Playing)
		assert.Equal(t, int32(0), cls.calls.Load())
	}
}

func TestNoSurfaceSkipsClassification(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{noSurface: true}, cls)
	ctx := context.Background()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))

	st := l.Status()
	assert.Equal(t, StatePlaying, st.State)
	assert.False(t, st.Analyzing)
	assert.Equal(t, int32(0), cls.calls.Load())
	assert.Nil(t, l.LastSnapshot())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	cfg := definitions.DefaultWatcherConfig()
	cfg.Interval = time.Hour
	l := NewLoop(&fakeProcessor{}, newFakeClassifier(), cfg)
	l.Subscribe(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Stop(ctx))
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StatePlaying)
	assert.Equal(t, StateIdle, states[len(states)-1])
}

func TestRunLifecycle(t *testing.T) {
	proc := &fakeProcessor{}
	cfg := definitions.DefaultWatcherConfig()
	cfg.Interval = time.Hour
	l := NewLoop(proc, newFakeClassifier(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, l.Play(ctx, ""))
	assert.ErrorIs(t, l.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)

	assert.True(t, proc.tracks[0].stopped.Load())
	assert.False(t, l.Status().Streaming)
	assert.ErrorIs(t, l.Play(context.Background(), ""), ErrClosed)
}

func TestSessionResetIsIdempotent(t *testing.T) {
	track := &fakeTrack{width: 10, height: 10}
	stops := 0
	track.onStop = func() { stops++ }

	s := newSession("")
	s.stream = &definitions.ProcessedStream{Track: track}
	s.Playing = true
	s.Detected = true

	s.Reset()
	s.Reset()

	assert.Equal(t, 1, stops)
	assert.False(t, s.Streaming())
	assert.False(t, s.Playing)
	assert.False(t, s.Detected)
	assert.Equal(t, StateIdle, s.State())
}

func TestTimerTicksDroppedWhileAnalyzing(t *testing.T) {
	cls := newFakeClassifier()
	cfg := definitions.DefaultWatcherConfig()
	cfg.Interval = 10 * time.Millisecond
	l := NewLoop(&fakeProcessor{}, cls, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))

	cls.waitStarted(t)
	time.Sleep(10 * cfg.Interval)
	assert.Equal(t, int32(1), cls.calls.Load(), "ticks during analysis are dropped")
	assert.True(t, l.Status().Analyzing)

	cls.results <- verdict{detected: true}
	cls.waitStarted(t)
	assert.Equal(t, int32(2), cls.calls.Load())
	assert.True(t, l.Status().Detected)
}

func TestStatusJSONOmitsUncheckedTime(t *testing.T) {
	cls := newFakeClassifier()
	l := startLoop(t, &fakeProcessor{}, cls)
	ctx := context.Background()

	data, err := json.Marshal(l.Status())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "checked_at")

	require.NoError(t, l.Play(ctx, ""))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Tick(ctx))
	cls.waitStarted(t)
	cls.results <- verdict{detected: false}
	eventually(t, func(s Status) bool { return s.CheckedAt != nil }, l)

	data, err = json.Marshal(l.Status())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"checked_at":"`)
}

func TestStatusEqual(t *testing.T) {
	now := time.Now()
	same := now.Add(0)
	later := now.Add(time.Second)

	assert.True(t, (&Status{State: StateIdle}).equal(&Status{State: StateIdle}))
	assert.True(t, (&Status{CheckedAt: &now}).equal(&Status{CheckedAt: &same}))
	assert.False(t, (&Status{CheckedAt: &now}).equal(&Status{CheckedAt: &later}))
	assert.False(t, (&Status{CheckedAt: &now}).equal(&Status{}))
	assert.False(t, (&Status{Detected: true}).equal(&Status{}))
}
