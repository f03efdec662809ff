package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spance/capwatch/watcher/definitions"
	"github.com/spance/capwatch/watcher/helper"
)

var (
	ErrClosed         = errors.New("watcher loop closed")
	ErrAlreadyRunning = errors.New("watcher loop already running")
)

const frameReadTimeout = 2 * time.Second

// Status is a read-only view of the loop, published after every change.
type Status struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Playing   bool      `json:"playing"`
	Analyzing bool      `json:"analyzing"`
	Detected  bool      `json:"detected"`
	Streaming bool      `json:"streaming"`
	DeviceID  string    `json:"device_id,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Loop owns the capture-and-classify cycle. Every Session mutation runs on the
// goroutine executing Run; the public methods hand work to it and wait.
type Loop struct {
	processor  Processor
	classifier Classifier
	config     *definitions.WatcherConfig

	actions chan func()
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context

	session   *Session
	lastErr   string
	checkedAt time.Time

	status   atomic.Pointer[Status]
	snapshot atomic.Pointer[definitions.Snapshot]

	mu        sync.Mutex
	listeners []func(Status)
}

func NewLoop(processor Processor, classifier Classifier, cfg *definitions.WatcherConfig) *Loop {
	if cfg == nil {
		cfg = definitions.DefaultWatcherConfig()
	}
	cfg.Normalize()

	l := &Loop{
		processor:  processor,
		classifier: classifier,
		config:     cfg,
		actions:    make(chan func()),
		done:       make(chan struct{}),
		runCtx:     context.Background(),
		session:    newSession(cfg.DeviceID),
	}
	l.status.Store(l.buildStatus())
	return l
}

// Run executes the event loop until ctx is done. It may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.runCtx = ctx

	ticker := time.NewTicker(l.config.Interval)
	defer func() {
		ticker.Stop()
		l.session.Reset()
		l.publish()
		close(l.done)
		log.Debug().Msg("watcher loop stopped")
	}()

	log.Debug().Dur("interval", l.config.Interval).Msg("watcher loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.actions:
			fn()
		case <-ticker.C:
			l.tick()
		}
		l.publish()
	}
}

// Play tears down the current stream and opens a new one on deviceID.
// Failing to establish a stream is not an error; the session just has no stream.
func (l *Loop) Play(ctx context.Context, deviceID string) error {
	return l.do(ctx, func() { l.play(ctx, deviceID) })
}

// Start begins periodic analysis. It has no effect without a stream.
func (l *Loop) Start(ctx context.Context) error {
	return l.do(ctx, func() {
		if !l.session.Streaming() {
			log.Debug().Str("session", l.session.ID).Msg("no camera stream, ignoring start")
			return
		}
		l.session.Playing = true
	})
}

// Stop pauses analysis. The last verdict and any in-flight request are kept.
func (l *Loop) Stop(ctx context.Context) error {
	return l.do(ctx, func() {
		l.session.Playing = false
	})
}

// Reset releases the stream and starts an empty session; pending verdicts are dropped.
func (l *Loop) Reset(ctx context.Context) error {
	return l.do(ctx, func() {
		deviceID := l.session.DeviceID
		l.session.Reset()
		l.session = newSession(deviceID)
		l.lastErr = ""
		l.checkedAt = time.Time{}
	})
}

// Tick runs one timer tick immediately.
func (l *Loop) Tick(ctx context.Context) error {
	return l.do(ctx, l.tick)
}

func (l *Loop) Status() Status {
	return *l.status.Load()
}

// LastSnapshot returns the most recent frame sent for classification, or nil.
func (l *Loop) LastSnapshot() *definitions.Snapshot {
	return l.snapshot.Load()
}

// Subscribe registers fn to be called with every new status. fn runs on the loop
// goroutine and must not block or call back into the loop.
func (l *Loop) Subscribe(fn func(Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Loop) play(ctx context.Context, deviceID string) {
	l.session.Reset()
	l.session = newSession(deviceID)
	l.lastErr = ""
	l.checkedAt = time.Time{}

	logger := log.With().Str("session", l.session.ID).Str("device", deviceID).Logger()

	if err := l.processor.Initialize(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to initialize background processor")
		return
	}
	stream, err := l.processor.CreateProcessedStream(ctx, l.config.StreamOptions(deviceID))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create processed stream")
		return
	}
	if stream == nil || stream.Track == nil {
		logger.Warn().Msg("processed stream has no track")
		return
	}
	l.session.stream = stream
	logger.Info().Msg("camera stream established")
}

func (l *Loop) tick() {
	s := l.session
	if !s.Playing || s.AnalysisInFlight {
		log.Trace().Str("state", string(s.State())).Msg("tick skipped")
		return
	}

	snapshot, err := l.captureFrame()
	if err != nil {
		log.Debug().Str("session", s.ID).Err(err).Msg("frame capture skipped")
		return
	}
	l.snapshot.Store(snapshot)

	s.AnalysisInFlight = true
	go l.classify(s.ID, snapshot)
}

func (l *Loop) captureFrame() (*definitions.Snapshot, error) {
	if !l.session.Streaming() {
		return nil, helper.ErrNoSurface
	}
	ctx, cancel := context.WithTimeout(l.runCtx, frameReadTimeout)
	defer cancel()

	frame, err := l.session.stream.Track.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	return helper.CaptureSnapshot(frame, l.config.SnapshotSize, l.config.JPEGQuality)
}

// classify runs off the loop goroutine; the verdict is handed back through post.
func (l *Loop) classify(sessionID string, snapshot *definitions.Snapshot) {
	ctx, cancel := context.WithTimeout(l.runCtx, l.config.ClassifyTimeout)
	defer cancel()

	detected, err := l.classifier.Classify(ctx, snapshot)
	l.post(func() { l.applyVerdict(sessionID, detected, err) })
}

func (l *Loop) applyVerdict(sessionID string, detected bool, err error) {
	s := l.session
	if s.ID != sessionID {
		log.Debug().Str("session", sessionID).Msg("discarding verdict from a reset session")
		return
	}
	s.AnalysisInFlight = false

	if err != nil {
		log.Warn().Str("session", s.ID).Err(err).Msg("classification failed, retrying on next tick")
		l.lastErr = err.Error()
		return
	}

	if detected != s.Detected {
		log.Info().Str("session", s.ID).Bool("detected", detected).Msg("detection changed")
	}
	s.Detected = detected
	l.lastErr = ""
	l.checkedAt = time.Now()
}

func (l *Loop) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.actions <- func() {
		fn()
		l.publish()
		close(finished)
	}:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) post(fn func()) {
	select {
	case l.actions <- fn:
	case <-l.done:
	}
}

func (l *Loop) buildStatus() *Status {
	s := l.session
	var checkedAt *time.Time
	if !l.checkedAt.IsZero() {
		t := l.checkedAt
		checkedAt = &t
	}
	return &Status{
		SessionID: s.ID,
		State:     s.State(),
		Playing:   s.Playing,
		Analyzing: s.AnalysisInFlight,
		Detected:  s.Detected,
		Streaming: s.Streaming(),
		DeviceID:  s.DeviceID,
		CheckedAt: checkedAt,
		LastError: l.lastErr,
	}
}

func (s *Status) equal(o *Status) bool {
	a, b := *s, *o
	a.CheckedAt, b.CheckedAt = nil, nil
	if a != b {
		return false
	}
	if s.CheckedAt == nil || o.CheckedAt == nil {
		return s.CheckedAt == o.CheckedAt
	}
	return s.CheckedAt.Equal(*o.CheckedAt)
}

func (l *Loop) publish() {
	next := l.buildStatus()
	prev := l.status.Swap(next)
	if prev != nil && prev.equal(next) {
		return
	}

	l.mu.Lock()
	listeners := append([]func(Status){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(*next)
	}
}
