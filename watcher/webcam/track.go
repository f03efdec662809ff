package webcam

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/spance/capwatch/watcher/device"
	"github.com/spance/capwatch/watcher/helper"
)

var ErrNoFrame = errors.New("camera returned no frame")

// MOG2 marks shadows as 127; anything below this is treated as background.
const foregroundThreshold = 200

// track reads and composites every camera frame on a background goroutine;
// ReadFrame returns the newest composite.
type track struct {
	capture    *gocv.VideoCapture
	subtractor gocv.BackgroundSubtractorMOG2
	background gocv.Mat
	scaled     gocv.Mat
	frame      gocv.Mat
	mask       gocv.Mat
	composite  gocv.Mat
	lock       *device.Lock

	grabber  *helper.Grabber
	stopOnce sync.Once
}

func newTrack(capture *gocv.VideoCapture, background gocv.Mat, lock *device.Lock) *track {
	t := &track{
		capture:    capture,
		subtractor: gocv.NewBackgroundSubtractorMOG2(),
		background: background,
		scaled:     gocv.NewMat(),
		frame:      gocv.NewMat(),
		mask:       gocv.NewMat(),
		composite:  gocv.NewMat(),
		lock:       lock,
	}
	t.grabber = helper.NewGrabber(t.grab, t.render)
	t.grabber.Start()
	return t
}

// grab reads one frame and composites the subject over the background.
func (t *track) grab() error {
	if ok := t.capture.Read(&t.frame); !ok || t.frame.Empty() {
		return ErrNoFrame
	}

	t.subtractor.Apply(t.frame, &t.mask)
	gocv.Threshold(t.mask, &t.mask, foregroundThreshold, 255, gocv.ThresholdBinary)
	gocv.MedianBlur(t.mask, &t.mask, 5)

	if t.scaled.Empty() || t.scaled.Cols() != t.frame.Cols() || t.scaled.Rows() != t.frame.Rows() {
		gocv.Resize(t.background, &t.scaled, image.Pt(t.frame.Cols(), t.frame.Rows()), 0, 0, gocv.InterpolationLinear)
	}

	t.scaled.CopyTo(&t.composite)
	t.frame.CopyToWithMask(&t.composite, t.mask)
	return nil
}

func (t *track) render() (image.Image, error) {
	return t.composite.ToImage()
}

// ReadFrame returns the newest composited frame. A stopped track has no surface
// and returns a nil image.
func (t *track) ReadFrame(ctx context.Context) (image.Image, error) {
	return t.grabber.Latest(ctx)
}

// Stop ends the reader, then releases the camera and every buffer. Repeated calls are no-ops.
func (t *track) Stop() {
	t.stopOnce.Do(func() {
		t.grabber.Stop()

		if err := t.capture.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close camera")
		}
		_ = t.subtractor.Close()
		_ = t.background.Close()
		_ = t.scaled.Close()
		_ = t.frame.Close()
		_ = t.mask.Close()
		_ = t.composite.Close()
		if err := t.lock.Release(); err != nil {
			log.Warn().Err(err).Str("lock", t.lock.Path()).Msg("failed to release camera lock")
		}
		log.Debug().Msg("camera track stopped")
	})
}
