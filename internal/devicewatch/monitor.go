package devicewatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"shelflife/internal/logging"
)

// monitor listens for udev netlink events and forwards the matching ones.
type monitor struct {
	subsystem string
	action    string
	logger    *slog.Logger
	handler   func(ctx context.Context, ev Event)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

func newMonitor(subsystem, action string, logger *slog.Logger, handler func(context.Context, Event)) *monitor {
	return &monitor{
		subsystem: subsystem,
		action:    action,
		logger:    logging.NewComponentLogger(logger, "netlink-monitor"),
		handler:   handler,
	}
}

// Start connects to the udev netlink socket. Unlike a best-effort helper, the
// daemon has nothing to do without events, so a connect failure is returned.
func (m *monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return fmt.Errorf("connect netlink socket: %w", err)
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, conn, m.quit, m.done)
	return nil
}

// Stop closes the socket and waits for the event loop to exit.
func (m *monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *monitor) loop(ctx context.Context, conn *netlink.UEventConn, quit, done chan struct{}) {
	defer close(done)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, m.matcher())
	defer close(monitorQuit)

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case uevent := <-queue:
			m.handler(ctx, eventFrom(uevent))
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "device events may be missed"),
			)
		}
	}
}

// matcher selects events for the configured subsystem. An empty action
// matches every action.
func (m *monitor) matcher() netlink.Matcher {
	rule := netlink.RuleDefinition{Env: map[string]string{"SUBSYSTEM": m.subsystem}}
	if m.action != "" {
		action := m.action
		rule.Action = &action
	}
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(rule)
	return rules
}

func eventFrom(uevent netlink.UEvent) Event {
	device := uevent.Env["DEVNAME"]
	if device == "" {
		device = uevent.Env["DEVPATH"]
	}
	return Event{
		Action:    string(uevent.Action),
		Subsystem: uevent.Env["SUBSYSTEM"],
		Device:    device,
	}
}
