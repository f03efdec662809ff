package watcher

import (
	"github.com/google/uuid"

	"github.com/spance/capwatch/watcher/definitions"
)

type State string

const (
	StateIdle      State = "idle"
	StatePlaying   State = "playing"
	StateAnalyzing State = "analyzing"
)

// Session is the state of one camera stream. It is only touched from the loop goroutine.
type Session struct {
	ID               string
	DeviceID         string
	Playing          bool
	AnalysisInFlight bool
	Detected         bool

	stream *definitions.ProcessedStream
}

func newSession(deviceID string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
	}
}

// Streaming reports whether the session holds a live track.
func (s *Session) Streaming() bool {
	return s.stream != nil && s.stream.Track != nil
}

func (s *Session) State() State {
	switch {
	case s.Playing && s.AnalysisInFlight:
		return StateAnalyzing
	case s.Playing:
		return StatePlaying
	default:
		return StateIdle
	}
}

// Reset stops every held track and clears all flags. Safe to call repeatedly.
func (s *Session) Reset() {
	if s.stream != nil && s.stream.Track != nil {
		s.stream.Track.Stop()
	}
	s.stream = nil
	s.Playing = false
	s.AnalysisInFlight = false
	s.Detected = false
}
