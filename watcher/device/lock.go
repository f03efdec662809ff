package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

var ErrCameraBusy = errors.New("camera is in use by another process")

// DefaultDeviceID is the camera opened when no device is given.
const DefaultDeviceID = "/dev/video0"

// Lock guards one camera against being opened by two processes at once.
type Lock struct {
	path  string
	flock *flock.Flock
}

// LockPath returns the lock file used for deviceID inside dir.
func LockPath(dir, deviceID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	// an empty id opens camera index 0
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.TrimPrefix(deviceID, "/"))
	return filepath.Join(dir, "capwatch-"+name+".lock")
}

func Acquire(dir, deviceID string) (*Lock, error) {
	path := LockPath(dir, deviceID)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrCameraBusy)
	}
	return &Lock{path: path, flock: fl}, nil
}

func (l *Lock) Path() string {
	return l.path
}

// Release unlocks the camera. Calling it more than once is harmless.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	return l.flock.Unlock()
}
