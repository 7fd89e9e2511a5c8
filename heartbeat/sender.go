package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/courier/bus"
)

// Sender publishes periodic heartbeats for one process.
type Sender struct {
	bus      bus.MessageBus
	subject  string
	id       string
	role     string
	version  string
	interval time.Duration
	stats    func() Stats

	mu       sync.Mutex
	draining bool

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	now     func() time.Time
}

// NewSender creates a sender. Nothing is published until Start.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultSenderConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Stats == nil {
		cfg.Stats = func() Stats { return Stats{} }
	}
	return &Sender{
		bus:      cfg.Bus,
		subject:  cfg.Subject,
		id:       cfg.ProcessID,
		role:     cfg.Role,
		version:  cfg.Version,
		interval: cfg.Interval,
		stats:    cfg.Stats,
		now:      time.Now,
	}, nil
}

// Start beats once immediately and then every interval until Stop or ctx ends.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	_ = s.Beat()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Beat()
		}
	}
}

// Drain marks the process as finishing its work and beats at once.
func (s *Sender) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	_ = s.Beat()
}

// Beat publishes one heartbeat with the current status.
func (s *Sender) Beat() error {
	return s.publish(s.status())
}

func (s *Sender) status() *Heartbeat {
	st := s.stats()
	hb := &Heartbeat{
		ProcessID: s.id,
		Role:      s.role,
		Version:   s.version,
		Status:    StatusReady,
		InFlight:  st.InFlight,
		Sessions:  st.Sessions,
		Timestamp: s.now().UTC(),
	}
	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	switch {
	case draining:
		hb.Status = StatusDraining
	case st.InFlight > 0:
		hb.Status = StatusBusy
	}
	return hb
}

func (s *Sender) publish(hb *Heartbeat) error {
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	return s.bus.Publish(s.subject, data)
}

// Stop ends the loop and publishes a final stopped beat.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh

	hb := s.status()
	hb.Status = StatusStopped
	return s.publish(hb)
}

// ProcessID returns the id this sender announces.
func (s *Sender) ProcessID() string { return s.id }
