package heartbeat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/logging"
)

// Monitor tracks the newest heartbeat of every process on the subject.
type Monitor struct {
	bus           bus.MessageBus
	subject       string
	timeout       time.Duration
	checkInterval time.Duration
	logger        *logging.Logger

	mu       sync.RWMutex
	lastSeen map[string]*Heartbeat
	reported map[string]bool
	deadCBs  []func(string)

	running atomic.Bool
	sub     bus.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
	now     func() time.Time
}

// NewMonitor creates a monitor. Call Start to begin listening.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultMonitorConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &Monitor{
		bus:           cfg.Bus,
		subject:       cfg.Subject,
		timeout:       cfg.Timeout,
		checkInterval: cfg.CheckInterval,
		logger:        logging.OrNop(cfg.Logger).WithComponent("heartbeat"),
		lastSeen:      make(map[string]*Heartbeat),
		reported:      make(map[string]bool),
		now:           time.Now,
	}, nil
}

// Start subscribes and runs the dead process sweep.
func (m *Monitor) Start() error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}
	sub, err := m.bus.Subscribe(m.subject)
	if err != nil {
		m.running.Store(false)
		return err
	}
	m.sub = sub
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()
	return nil
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			hb, err := Unmarshal(msg.Data)
			if err != nil {
				m.logger.Debug("bad heartbeat dropped", map[string]interface{}{"error": err.Error()})
				continue
			}
			m.Receive(hb)
		case <-ticker.C:
			m.CheckDead()
		}
	}
}

// Receive records hb. A stopped beat forgets the process.
func (m *Monitor) Receive(hb *Heartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reported, hb.ProcessID)
	if hb.Status == StatusStopped {
		delete(m.lastSeen, hb.ProcessID)
		return
	}
	m.lastSeen[hb.ProcessID] = hb
}

// CheckDead invokes the OnDead callbacks once for each process silent
// longer than the timeout.
func (m *Monitor) CheckDead() {
	now := m.now()
	var dead []string

	m.mu.Lock()
	for id, hb := range m.lastSeen {
		if now.Sub(hb.Timestamp) > m.timeout && !m.reported[id] {
			m.reported[id] = true
			dead = append(dead, id)
		}
	}
	callbacks := make([]func(string), len(m.deadCBs))
	copy(callbacks, m.deadCBs)
	m.mu.Unlock()

	sort.Strings(dead)
	for _, id := range dead {
		m.logger.Warn("process presumed dead", map[string]interface{}{"process": id})
		for _, cb := range callbacks {
			cb(id)
		}
	}
}

// OnDead registers a callback for processes presumed dead.
func (m *Monitor) OnDead(cb func(processID string)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, cb)
	m.mu.Unlock()
}

// IsAlive reports whether processID beat within the timeout.
func (m *Monitor) IsAlive(processID string) bool {
	m.mu.RLock()
	hb, ok := m.lastSeen[processID]
	m.mu.RUnlock()
	return ok && m.now().Sub(hb.Timestamp) <= m.timeout
}

// Snapshot returns the live processes ordered by role, then id.
func (m *Monitor) Snapshot() []Heartbeat {
	now := m.now()
	m.mu.RLock()
	out := make([]Heartbeat, 0, len(m.lastSeen))
	for _, hb := range m.lastSeen {
		if now.Sub(hb.Timestamp) <= m.timeout {
			out = append(out, *hb)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].ProcessID < out[j].ProcessID
	})
	return out
}

// Stop ends monitoring.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	_ = m.sub.Unsubscribe()
	close(m.stopCh)
	<-m.doneCh
	return nil
}
