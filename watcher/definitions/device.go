package definitions

import (
	"context"
	"encoding/base64"
	"image"
	"time"
)

type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	KObj     string `json:"kobj,omitempty"`
}

// Snapshot is a square JPEG still taken from the live video.
type Snapshot struct {
	Data         []byte          `json:"-"`
	MIMEType     string          `json:"mime_type"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	SourceWidth  int             `json:"source_width"`
	SourceHeight int             `json:"source_height"`
	Crop         image.Rectangle `json:"-"`
	CapturedAt   time.Time       `json:"captured_at"`
}

// DataURL returns the snapshot as a data URL suitable for an image_url message part.
func (s *Snapshot) DataURL() string {
	return "data:" + s.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

// StreamOptions carries the capture constraints for a processed stream.
type StreamOptions struct {
	DeviceID string
	Width    int
	Height   int
}

// Track is a single live video track.
type Track interface {
	// ReadFrame returns the current frame. A nil image means no surface is available yet.
	ReadFrame(ctx context.Context) (image.Image, error)
	Stop()
}

type ProcessedStream struct {
	Track Track
}
