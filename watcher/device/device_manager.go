package device

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/spance/capwatch/watcher/definitions"
)

const (
	sysfsRoot = "/sys"
	devRoot   = "/dev"
)

var devnamePattern = regexp.MustCompile(`^video([0-9]+)$`)

// Manager enumerates video4linux capture devices through sysfs.
type Manager struct {
	sysfsRoot string
}

func NewManager() *Manager {
	return &Manager{sysfsRoot: sysfsRoot}
}

// ListDevices returns every camera currently plugged in, ordered by index.
func (m *Manager) ListDevices(ctx context.Context) ([]definitions.DeviceInfo, error) {
	queue := make(chan crawler.Device)
	errs := make(chan error, 1)
	quit := crawler.ExistingDevices(queue, errs, buildMatcher(nil))

	var devices []definitions.DeviceInfo
	for {
		select {
		case <-ctx.Done():
			close(quit)
			go drain(queue)
			return nil, ctx.Err()
		case err := <-errs:
			log.Debug().Err(err).Msg("[ListDevices] sysfs crawl failed")
			return nil, err
		case dev, ok := <-queue:
			if !ok {
				return sortDevices(devices), nil
			}
			if info, ok := m.deviceFromEnv(dev.KObj, dev.Env); ok {
				devices = append(devices, info)
			}
		}
	}
}

func drain(queue <-chan crawler.Device) {
	for range queue {
	}
}

func sortDevices(devices []definitions.DeviceInfo) []definitions.DeviceInfo {
	devices = lo.UniqBy(devices, func(d definitions.DeviceInfo) string { return d.DeviceID })
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices
}

// buildMatcher matches video4linux nodes. Only add/remove actions are wanted for
// hotplug; the sysfs crawl passes nil.
func buildMatcher(action *string) netlink.Matcher {
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: action,
		Env: map[string]string{
			"DEVNAME": `video[0-9]+$`,
		},
	})
	return rules
}

func (m *Manager) deviceFromEnv(kobj string, env map[string]string) (definitions.DeviceInfo, bool) {
	devname := strings.TrimPrefix(env["DEVNAME"], devRoot+"/")
	match := devnamePattern.FindStringSubmatch(devname)
	if match == nil {
		return definitions.DeviceInfo{}, false
	}
	index, _ := strconv.Atoi(match[1])

	return definitions.DeviceInfo{
		DeviceID: filepath.Join(devRoot, devname),
		Index:    index,
		Name:     m.readName(kobj),
		KObj:     kobj,
	}, true
}

func (m *Manager) readName(kobj string) string {
	if kobj == "" {
		return ""
	}
	path := kobj
	if !strings.HasPrefix(path, m.sysfsRoot) {
		path = filepath.Join(m.sysfsRoot, kobj)
	}
	data, err := os.ReadFile(filepath.Join(path, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Index extracts the numeric camera index from a device id such as "/dev/video2" or "2".
func Index(deviceID string) (int, bool) {
	if deviceID == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(deviceID); err == nil {
		return n, true
	}
	match := devnamePattern.FindStringSubmatch(filepath.Base(deviceID))
	if match == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(match[1])
	return n, true
}
