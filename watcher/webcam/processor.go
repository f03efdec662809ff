package webcam

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/spance/capwatch/watcher/definitions"
	"github.com/spance/capwatch/watcher/device"
)

// VirtualBackground opens a camera and replaces everything but the moving subject
// with a fixed background image.
type VirtualBackground struct {
	backgroundPath string
	lockDir        string

	mu          sync.Mutex
	background  gocv.Mat
	initialized bool
}

func NewVirtualBackground(backgroundPath, lockDir string) *VirtualBackground {
	return &VirtualBackground{
		backgroundPath: backgroundPath,
		lockDir:        lockDir,
	}
}

// SetLockDir changes where camera lock files are created.
func (v *VirtualBackground) SetLockDir(dir string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockDir = dir
}

// Initialize loads the background image. Repeated calls are no-ops.
func (v *VirtualBackground) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.initialized {
		return nil
	}

	if v.backgroundPath == "" {
		v.background = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(64, 177, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	} else {
		v.background = gocv.IMRead(v.backgroundPath, gocv.IMReadColor)
		if v.background.Empty() {
			_ = v.background.Close()
			return fmt.Errorf("failed to read background image %s", v.backgroundPath)
		}
	}

	v.initialized = true
	log.Debug().Str("background", v.backgroundPath).Msg("virtual background initialized")
	return nil
}

func (v *VirtualBackground) CreateProcessedStream(ctx context.Context, opts *definitions.StreamOptions) (*definitions.ProcessedStream, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, errors.New("virtual background not initialized")
	}
	if opts == nil {
		opts = &definitions.StreamOptions{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, err := device.Acquire(v.lockDir, opts.DeviceID)
	if err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(captureSource(opts.DeviceID))
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open camera %q: %w", opts.DeviceID, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("camera %q did not open", opts.DeviceID)
	}

	if opts.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	}
	if opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}

	log.Debug().
		Str("device", opts.DeviceID).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Msg("camera opened")

	return &definitions.ProcessedStream{
		Track: newTrack(capture, v.background.Clone(), lock),
	}, nil
}

// Close releases the background image.
func (v *VirtualBackground) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil
	}
	v.initialized = false
	return v.background.Close()
}

func captureSource(deviceID string) interface{} {
	if deviceID == "" {
		return 0
	}
	if index, ok := device.Index(deviceID); ok {
		return index
	}
	return deviceID
}
