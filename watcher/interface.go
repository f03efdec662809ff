package watcher

import (
	"context"

	"github.com/spance/capwatch/watcher/definitions"
)

// Processor produces the background-substituted video stream.
type Processor interface {
	Initialize(ctx context.Context) error
	// CreateProcessedStream returns the processed stream. A nil stream or a stream
	// without a track means no stream could be established.
	CreateProcessedStream(ctx context.Context, opts *definitions.StreamOptions) (*definitions.ProcessedStream, error)
}

// Classifier answers whether the target is visible in a snapshot.
type Classifier interface {
	Classify(ctx context.Context, snapshot *definitions.Snapshot) (bool, error)
}

// DeviceManager lists the cameras available on this machine.
type DeviceManager interface {
	ListDevices(ctx context.Context) ([]definitions.DeviceInfo, error)
}
