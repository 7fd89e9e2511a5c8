package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
)

type registration struct {
	name    string
	handler Handler
	phase   int
}

// Coordinator runs registered handlers phase by phase.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	done     chan struct{}
	report   *Report
	signals  chan os.Signal
}

// NewCoordinator creates a coordinator.
func NewCoordinator(config Config, logger *logging.Logger) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Coordinator{
		config:  config,
		logger:  logging.OrNop(logger).WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 2),
	}
}

// Register adds a handler under phase.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: h, phase: phase})
}

// RegisterFunc adds a function handler under phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, Func(fn))
}

// Shutdown runs every phase once. Later calls return ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.report = c.run(ctx)
		close(c.done)
	})
	if !first {
		return ErrAlreadyShutdown
	}
	return c.report.Err
}

// HandleSignals starts the shutdown on SIGINT or SIGTERM. A second
// signal cancels whatever is still running.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c.signals:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
		case <-c.done:
			signal.Stop(c.signals)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
		defer cancel()
		go func() {
			select {
			case <-c.signals:
				c.logger.Warn("second signal, aborting shutdown")
				cancel()
			case <-ctx.Done():
			}
		}()
		_ = c.Shutdown(ctx)
		signal.Stop(c.signals)
	}()
}

// Trigger behaves like a received SIGTERM.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once the shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Report returns the outcome, or nil before Done is closed.
func (c *Coordinator) Report() *Report {
	select {
	case <-c.done:
		return c.report
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) *Report {
	start := time.Now()
	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()
	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].phase < handlers[j].phase })

	report := &Report{}
	var failed []string
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			report.Err = ErrTimeout
			break
		}
		steps := c.runPhase(ctx, group)
		report.Steps = append(report.Steps, steps...)
		for _, s := range steps {
			if s.Err != nil {
				failed = append(failed, s.Name)
			}
		}
		if c.config.StopOnError && len(failed) > 0 {
			break
		}
	}
	if report.Err == nil && len(failed) > 0 {
		report.Err = fmt.Errorf("shutdown handlers failed: %v", failed)
	}
	report.Duration = time.Since(start)

	fields := map[string]interface{}{"duration_ms": report.Duration.Milliseconds(), "steps": len(report.Steps)}
	if report.Err != nil {
		fields["error"] = report.Err.Error()
		c.logger.Warn("shutdown finished with errors", fields)
	} else {
		c.logger.Info("shutdown complete", fields)
	}
	return report
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []Step {
	steps := make([]Step, len(group))
	var wg sync.WaitGroup
	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := invoke(ctx, r.handler)
			steps[i] = Step{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{"handler": r.name, "phase": r.phase, "duration_ms": steps[i].Duration.Milliseconds()}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Warn("shutdown handler failed", fields)
				return
			}
			c.logger.Debug("shutdown handler done", fields)
		}(i, r)
	}
	wg.Wait()
	return steps
}

func invoke(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return h.OnShutdown(ctx)
}

// groupByPhase splits handlers, already sorted by phase, into runs of
// equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
