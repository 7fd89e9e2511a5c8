package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/logging"
)

// DefaultSubject carries capacity updates between processes.
const DefaultSubject = "courier.ratelimit.capacity"

// DistributedConfig configures a DistributedLimiter.
type DistributedConfig struct {
	Bus     bus.MessageBus
	Subject string

	// Origin identifies this process in updates; its own are ignored.
	Origin string

	// ReduceFactor scales capacity on Reduce. Default: 0.5
	ReduceFactor float64

	// RecoveryInterval spaces recovery steps. Default: 30s
	RecoveryInterval time.Duration

	// RecoveryFactor scales capacity back up per step, capped at the
	// configured capacity. Default: 1.1
	RecoveryFactor float64

	Logger *logging.Logger
}

// DefaultDistributedConfig returns configuration with sensible defaults.
func DefaultDistributedConfig() DistributedConfig {
	return DistributedConfig{
		Subject:          DefaultSubject,
		ReduceFactor:     0.5,
		RecoveryInterval: 30 * time.Second,
		RecoveryFactor:   1.1,
	}
}

type limit struct {
	capacity int
	window   time.Duration
}

// DistributedLimiter shares capacity reductions over the bus. Tokens
// themselves stay local; each process runs its own bucket.
type DistributedLimiter struct {
	cfg    DistributedConfig
	local  *MemoryLimiter
	logger *logging.Logger

	mu      sync.Mutex
	limits  map[string]limit     // configured, before reductions
	reduced map[string]time.Time // last reduction per resource

	sub    bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDistributedLimiter subscribes to capacity updates and starts recovery.
func NewDistributedLimiter(cfg DistributedConfig) (*DistributedLimiter, error) {
	if cfg.Bus == nil || cfg.Origin == "" {
		return nil, ErrInvalidConfig
	}
	def := DefaultDistributedConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.ReduceFactor <= 0 || cfg.ReduceFactor >= 1 {
		cfg.ReduceFactor = def.ReduceFactor
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = def.RecoveryInterval
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = def.RecoveryFactor
	}

	sub, err := cfg.Bus.Subscribe(cfg.Subject)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &DistributedLimiter{
		cfg:     cfg,
		local:   NewMemoryLimiter(),
		logger:  logging.OrNop(cfg.Logger).WithComponent("ratelimit"),
		limits:  make(map[string]limit),
		reduced: make(map[string]time.Time),
		sub:     sub,
		cancel:  cancel,
	}
	d.wg.Add(2)
	go d.listen(ctx)
	go d.recover(ctx)
	return d, nil
}

func (d *DistributedLimiter) listen(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.sub.Messages():
			if !ok {
				return
			}
			var u CapacityUpdate
			if err := json.Unmarshal(msg.Data, &u); err != nil || u.Origin == d.cfg.Origin {
				continue
			}
			d.apply(u)
		}
	}
}

func (d *DistributedLimiter) apply(u CapacityUpdate) {
	d.mu.Lock()
	l, ok := d.limits[u.Resource]
	if !ok || u.NewCapacity >= l.capacity {
		d.mu.Unlock()
		return
	}
	if c := d.local.Capacity(u.Resource); c != nil && u.NewCapacity >= c.Total {
		d.mu.Unlock()
		return
	}
	d.local.SetCapacity(u.Resource, u.NewCapacity, l.window)
	d.reduced[u.Resource] = time.Now()
	d.mu.Unlock()

	d.logger.Info("capacity reduced by peer", map[string]interface{}{
		"resource": u.Resource, "origin": u.Origin, "capacity": u.NewCapacity, "reason": u.Reason,
	})
}

func (d *DistributedLimiter) recover(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.recoverStep(now)
		}
	}
}

// recoverStep raises every reduced resource one notch once a full
// interval has passed since its last reduction.
func (d *DistributedLimiter) recoverStep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for resource, at := range d.reduced {
		if now.Sub(at) < d.cfg.RecoveryInterval {
			continue
		}
		l := d.limits[resource]
		c := d.local.Capacity(resource)
		if c == nil {
			delete(d.reduced, resource)
			continue
		}
		next := int(float64(c.Total) * d.cfg.RecoveryFactor)
		if next <= c.Total {
			next = c.Total + 1
		}
		if next >= l.capacity {
			next = l.capacity
			delete(d.reduced, resource)
		}
		d.local.SetCapacity(resource, next, l.window)
	}
}

// SetCapacity implements Limiter.
func (d *DistributedLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	d.mu.Lock()
	if capacity <= 0 || window <= 0 {
		delete(d.limits, resource)
		delete(d.reduced, resource)
	} else {
		d.limits[resource] = limit{capacity: capacity, window: window}
	}
	d.mu.Unlock()
	d.local.SetCapacity(resource, capacity, window)
}

// Capacity implements Limiter.
func (d *DistributedLimiter) Capacity(resource string) *Capacity { return d.local.Capacity(resource) }

// Acquire implements Limiter.
func (d *DistributedLimiter) Acquire(ctx context.Context, resource string) error {
	return d.local.Acquire(ctx, resource)
}

// TryAcquire implements Limiter.
func (d *DistributedLimiter) TryAcquire(resource string) bool { return d.local.TryAcquire(resource) }

// Reduce lowers the local capacity and tells the other processes.
func (d *DistributedLimiter) Reduce(resource, reason string) {
	d.mu.Lock()
	l, ok := d.limits[resource]
	c := d.local.Capacity(resource)
	if !ok || c == nil {
		d.mu.Unlock()
		return
	}
	next := reduced(c.Total, d.cfg.ReduceFactor)
	d.local.SetCapacity(resource, next, l.window)
	d.reduced[resource] = time.Now()
	d.mu.Unlock()

	d.logger.Warn("capacity reduced", map[string]interface{}{"resource": resource, "capacity": next, "reason": reason})
	data, err := json.Marshal(CapacityUpdate{
		Resource:    resource,
		Origin:      d.cfg.Origin,
		NewCapacity: next,
		Reason:      reason,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := d.cfg.Bus.Publish(d.cfg.Subject, data); err != nil {
		d.logger.Warn("capacity update not published", map[string]interface{}{"error": err.Error()})
	}
}

// Close stops listening and wakes local waiters.
func (d *DistributedLimiter) Close() error {
	d.cancel()
	_ = d.sub.Unsubscribe()
	d.wg.Wait()
	return d.local.Close()
}

var _ Limiter = (*DistributedLimiter)(nil)
