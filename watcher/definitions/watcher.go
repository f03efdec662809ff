package definitions

import (
	"fmt"
	"time"
)

const (
	DefaultInterval        = 10 * time.Second
	DefaultSnapshotSize    = 512
	DefaultJPEGQuality     = 92
	DefaultClassifyTimeout = 30 * time.Second

	MinInterval = time.Second
	MaxInterval = time.Minute
)

type WatcherConfig struct {
	Interval        time.Duration
	SnapshotSize    int
	JPEGQuality     int
	ClassifyTimeout time.Duration

	DeviceID string
	Width    int
	Height   int
}

// DefaultWatcherConfig returns the loop settings used when nothing is configured.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		Interval:        DefaultInterval,
		SnapshotSize:    DefaultSnapshotSize,
		JPEGQuality:     DefaultJPEGQuality,
		ClassifyTimeout: DefaultClassifyTimeout,
		Width:           640,
		Height:          480,
	}
}

// Normalize fills zero values with defaults.
func (c *WatcherConfig) Normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SnapshotSize <= 0 {
		c.SnapshotSize = DefaultSnapshotSize
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = DefaultClassifyTimeout
	}
}

func (c *WatcherConfig) Validate() error {
	if c.Interval < MinInterval || c.Interval > MaxInterval {
		return fmt.Errorf("invalid interval %s: must be between %s and %s", c.Interval, MinInterval, MaxInterval)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("invalid frame constraints %dx%d", c.Width, c.Height)
	}
	return nil
}

// StreamOptions returns the capture constraints for the given device.
func (c *WatcherConfig) StreamOptions(deviceID string) *StreamOptions {
	return &StreamOptions{
		DeviceID: deviceID,
		Width:    c.Width,
		Height:   c.Height,
	}
}
