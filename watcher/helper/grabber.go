package helper

import (
	"context"
	"image"
	"sync"
	"time"
)

// pause after a failed grab so a dead camera does not spin the reader
const grabRetryDelay = 50 * time.Millisecond

// Grabber drains a frame source on its own goroutine so the latest frame is
// always the newest one, however rarely it is asked for. grab reads and processes
// one frame; render converts the last processed frame. Both run under the same
// lock and never concurrently.
type Grabber struct {
	grab   func() error
	render func() (image.Image, error)

	mu      sync.Mutex
	ready   bool
	lastErr error
	stopped bool

	first     chan struct{}
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewGrabber(grab func() error, render func() (image.Image, error)) *Grabber {
	return &Grabber{
		grab:   grab,
		render: render,
		first:  make(chan struct{}),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (g *Grabber) Start() {
	g.startOnce.Do(func() { go g.run() })
}

func (g *Grabber) run() {
	defer close(g.done)
	for {
		select {
		case <-g.quit:
			return
		default:
		}

		g.mu.Lock()
		err := g.grab()
		g.lastErr = err
		if err == nil && !g.ready {
			g.ready = true
			close(g.first)
		}
		g.mu.Unlock()

		if err != nil {
			select {
			case <-g.quit:
				return
			case <-time.After(grabRetryDelay):
			}
		}
	}
}

// Latest renders the newest frame. It waits for the first frame, returns the
// grab error while the source is failing, and returns nil once stopped.
func (g *Grabber) Latest(ctx context.Context) (image.Image, error) {
	select {
	case <-g.first:
	case <-g.quit:
		return nil, nil
	case <-ctx.Done():
		g.mu.Lock()
		err := g.lastErr
		g.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return nil, nil
	}
	if g.lastErr != nil {
		return nil, g.lastErr
	}
	return g.render()
}

// Stop ends the reader and waits for it. After Stop returns neither grab nor
// render is called again.
func (g *Grabber) Stop() {
	g.stopOnce.Do(func() {
		close(g.quit)
		g.startOnce.Do(func() { close(g.done) })
		<-g.done

		g.mu.Lock()
		g.stopped = true
		g.mu.Unlock()
	})
}
