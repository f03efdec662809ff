package device

import (
	"context"
	"sync"

	"github.com/pilebones/go-udev/netlink"
	"github.com/rs/zerolog/log"

	"github.com/spance/capwatch/watcher/definitions"
)

// Monitor listens for udev netlink events and reports cameras being plugged or unplugged.
type Monitor struct {
	manager  *Manager
	onChange func(action string, device definitions.DeviceInfo)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func NewMonitor(manager *Manager, onChange func(action string, device definitions.DeviceInfo)) *Monitor {
	if manager == nil {
		manager = NewManager()
	}
	return &Monitor{manager: manager, onChange: onChange}
}

// Start begins listening. Failing to open the netlink socket is not fatal; the
// device list can still be refreshed on demand.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		log.Warn().Err(err).Msg("failed to connect to netlink socket; camera hotplug disabled")
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	log.Debug().Msg("camera hotplug monitor started")
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	log.Debug().Msg("camera hotplug monitor stopped")
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	action := "add|remove"
	monitorQuit := conn.Monitor(queue, errs, buildMatcher(&action))

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			log.Warn().Err(err).Msg("netlink monitor error")
		}
	}
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	info, ok := m.manager.deviceFromEnv(uevent.KObj, uevent.Env)
	if !ok {
		log.Trace().Str("kobj", uevent.KObj).Msg("ignoring event without camera device name")
		return
	}

	log.Info().
		Str("action", string(uevent.Action)).
		Str("device", info.DeviceID).
		Msg("camera hotplug event")

	if m.onChange != nil {
		m.onChange(string(uevent.Action), info)
	}
}
