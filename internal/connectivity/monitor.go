package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/utils"
)

const subscriberBuffer = 8

// Probe reports whether the network is reachable.
type Probe func(ctx context.Context) bool

// DialProbe succeeds when any address accepts a TCP connection within timeout.
func DialProbe(addresses []string, timeout time.Duration) Probe {
	return func(ctx context.Context) bool {
		dialer := &net.Dialer{Timeout: timeout}
		for _, addr := range addresses {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err == nil {
				_ = conn.Close()
				return true
			}
		}
		return false
	}
}

// Monitor polls a probe and publishes transitions to subscribers. It starts out online
// so a service booted with network access does not see a spurious reconnect.
type Monitor struct {
	cfg   *config.ConnectivityConfig
	probe Probe
	log   logger.Logger

	mu          sync.Mutex
	online      bool
	kind        string
	subscribers map[int]chan interfaces.ConnectivityEvent
	nextID      int

	cancel context.CancelFunc
	done   chan struct{}
}

var _ interfaces.ConnectivityMonitor = (*Monitor)(nil)

func NewMonitor(cfg *config.ConnectivityConfig, log logger.Logger) *Monitor {
	return NewMonitorWithProbe(cfg, DialProbe(cfg.ProbeAddresses, cfg.Timeout), log)
}

func NewMonitorWithProbe(cfg *config.ConnectivityConfig, probe Probe, log logger.Logger) *Monitor {
	return &Monitor{
		cfg:         cfg,
		probe:       probe,
		log:         log,
		online:      true,
		kind:        cfg.Kind,
		subscribers: make(map[int]chan interfaces.ConnectivityEvent),
	}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	if m.cfg.Disabled {
		m.log.Info("Connectivity monitor disabled, network treated as always online")
		close(m.done)
		return
	}

	go m.loop(ctx)
	m.log.Infof("Connectivity monitor started, probing every %s", m.cfg.Interval)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout())
	online := m.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.SetOnline(online, m.cfg.Kind)
}

func (m *Monitor) probeTimeout() time.Duration {
	timeout := m.cfg.Timeout * time.Duration(len(m.cfg.ProbeAddresses)+1)
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}

// SetOnline records an observation and publishes it when the state or kind changed.
func (m *Monitor) SetOnline(online bool, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var event interfaces.ConnectivityEvent
	switch {
	case online && !m.online:
		event = interfaces.ConnectivityEvent{Type: enum.ConnectivityConnected, Kind: kind}
	case !online && m.online:
		event = interfaces.ConnectivityEvent{Type: enum.ConnectivityDisconnected, Kind: kind}
	case online && kind != m.kind:
		event = interfaces.ConnectivityEvent{Type: enum.ConnectivityTypeChanged, Kind: kind}
	default:
		return
	}
	m.online = online
	m.kind = kind
	event.At = utils.Now()

	m.log.Infof("Connectivity changed: %s (%s)", event.Type, kind)
	for id, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.log.Warnf("Connectivity subscriber %d is not keeping up, dropping %s", id, event.Type)
		}
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) Subscribe() (<-chan interfaces.ConnectivityEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan interfaces.ConnectivityEvent, subscriberBuffer)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if existing, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(existing)
			}
		})
	}
}

// Stop ends probing and closes every subscriber channel.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
}

// Forward hands every event to the sync service until the subscription ends.
func Forward(ctx context.Context, monitor interfaces.ConnectivityMonitor, service interfaces.SyncService) {
	events, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			service.HandleConnectivityEvent(ctx, event)
		}
	}
}
