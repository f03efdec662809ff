package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spance/capwatch/watcher/definitions"
)

func TestDeviceFromEnv(t *testing.T) {
	root := t.TempDir()
	kobj := "/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1:1.0/video4linux/video2"
	require.NoError(t, os.MkdirAll(filepath.Join(root, kobj), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, kobj, "name"), []byte("HD Webcam C270\n"), 0o644))

	m := &Manager{sysfsRoot: root}

	info, ok := m.deviceFromEnv(kobj, map[string]string{"DEVNAME": "video2", "MAJOR": "81"})
	require.True(t, ok)
	assert.Equal(t, "/dev/video2", info.DeviceID)
	assert.Equal(t, 2, info.Index)
	assert.Equal(t, "HD Webcam C270", info.Name)

	info, ok = m.deviceFromEnv("", map[string]string{"DEVNAME": "/dev/video0"})
	require.True(t, ok)
	assert.Equal(t, "/dev/video0", info.DeviceID)
	assert.Empty(t, info.Name)

	_, ok = m.deviceFromEnv(kobj, map[string]string{"DEVNAME": "sr0"})
	assert.False(t, ok)
	_, ok = m.deviceFromEnv(kobj, map[string]string{})
	assert.False(t, ok)
}

func TestSortDevices(t *testing.T) {
	got := sortDevices([]definitions.DeviceInfo{
		{DeviceID: "/dev/video4", Index: 4},
		{DeviceID: "/dev/video0", Index: 0},
		{DeviceID: "/dev/video4", Index: 4},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "/dev/video0", got[0].DeviceID)
	assert.Equal(t, "/dev/video4", got[1].DeviceID)
}

func TestIndex(t *testing.T) {
	tests := []struct {
		id   string
		want int
		ok   bool
	}{
		{"/dev/video0", 0, true},
		{"/dev/video12", 12, true},
		{"3", 3, true},
		{"", 0, false},
		{"/dev/sr0", 0, false},
		{"rtsp://camera/stream", 0, false},
	}
	for _, tt := range tests {
		got, ok := Index(tt.id)
		assert.Equal(t, tt.ok, ok, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}
}

func TestMonitorHandleEvent(t *testing.T) {
	var (
		actions []string
		devices []definitions.DeviceInfo
	)
	m := NewMonitor(&Manager{sysfsRoot: t.TempDir()}, func(action string, d definitions.DeviceInfo) {
		actions = append(actions, action)
		devices = append(devices, d)
	})

	m.handleEvent(netlink.UEvent{
		Action: netlink.ADD,
		KObj:   "/devices/virtual/video4linux/video1",
		Env:    map[string]string{"DEVNAME": "video1", "SUBSYSTEM": "video4linux"},
	})
	m.handleEvent(netlink.UEvent{
		Action: netlink.ADD,
		KObj:   "/devices/virtual/block/loop0",
		Env:    map[string]string{"DEVNAME": "loop0", "SUBSYSTEM": "block"},
	})

	assert.Equal(t, []string{"add"}, actions)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/video1", devices[0].DeviceID)
	assert.False(t, m.Running())
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "/dev/video0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capwatch-dev_video0.lock"), first.Path())

	_, err = Acquire(dir, "/dev/video0")
	assert.ErrorIs(t, err, ErrCameraBusy)

	other, err := Acquire(dir, "/dev/video1")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	again, err := Acquire(dir, "/dev/video0")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestLockPathDefault(t *testing.T) {
	assert.Equal(t, filepath.Join("/run/lock", "capwatch-dev_video0.lock"), LockPath("/run/lock", ""))
	assert.Equal(t, LockPath("/run/lock", DefaultDeviceID), LockPath("/run/lock", ""))
}

func TestDefaultDeviceSharesLock(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Release() })

	_, err = Acquire(dir, "/dev/video0")
	assert.ErrorIs(t, err, ErrCameraBusy)
}
