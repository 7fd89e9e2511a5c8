package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) handler(name string) func(context.Context) error {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}
}

// --- Unit Tests ---

func TestPhasesRunInOrder(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	rec := &recorder{}
	c.RegisterFunc("storage", PhaseStorage, rec.handler("storage"))
	c.RegisterFunc("gateway", PhaseIntake, rec.handler("gateway"))
	c.RegisterFunc("bus", PhaseBus, rec.handler("bus"))
	c.RegisterFunc("orchestrator", PhaseDrain, rec.handler("orchestrator"))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := "gateway,orchestrator,bus,storage"
	if got := strings.Join(rec.order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed")
	}
	if r := c.Report(); r == nil || len(r.Steps) != 4 {
		t.Errorf("report = %+v", r)
	}
}

func TestSamePhaseRunsConcurrently(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	var running, peak int32
	slow := func(context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}
	c.RegisterFunc("a", PhaseStorage, slow)
	c.RegisterFunc("b", PhaseStorage, slow)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&peak) != 2 {
		t.Errorf("peak concurrency = %d, want 2", peak)
	}
}

func TestShutdownOnce(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	var calls int32
	c.RegisterFunc("x", PhaseBus, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	_ = c.Shutdown(context.Background())
	if err := c.Shutdown(context.Background()); !errors.Is(err, ErrAlreadyShutdown) {
		t.Errorf("second Shutdown = %v", err)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times", calls)
	}
}

func TestHandlerFailuresReported(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	rec := &recorder{}
	c.RegisterFunc("bus", PhaseBus, func(context.Context) error { return errors.New("drain failed") })
	c.RegisterFunc("store", PhaseStorage, rec.handler("store"))

	err := c.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bus") {
		t.Fatalf("err = %v", err)
	}
	if len(rec.order) != 1 {
		t.Error("later phases should still run")
	}
	if failed := c.Report().Failed(); len(failed) != 1 || failed[0] != "bus" {
		t.Errorf("Failed = %v", failed)
	}
}

func TestStopOnError(t *testing.T) {
	c := NewCoordinator(Config{StopOnError: true}, nil)
	rec := &recorder{}
	c.RegisterFunc("bus", PhaseBus, func(context.Context) error { return errors.New("boom") })
	c.RegisterFunc("store", PhaseStorage, rec.handler("store"))

	if err := c.Shutdown(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.order) != 0 {
		t.Error("storage phase should be skipped")
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	c.RegisterFunc("bad", PhaseDrain, func(context.Context) error { panic("oops") })

	err := c.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := c.Report().Steps[0].Err.Error(); !strings.Contains(got, "oops") {
		t.Errorf("step error = %q", got)
	}
}

func TestDeadlineSkipsRemainingPhases(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	rec := &recorder{}
	c.RegisterFunc("slow", PhaseDrain, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.RegisterFunc("store", PhaseStorage, rec.handler("store"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if len(rec.order) != 0 {
		t.Error("storage should not run after the deadline")
	}
}

func TestTriggerStartsShutdown(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second}, nil)
	rec := &recorder{}
	c.RegisterFunc("gateway", PhaseIntake, rec.handler("gateway"))
	c.HandleSignals()
	c.Trigger()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not triggered")
	}
	if len(rec.order) != 1 {
		t.Errorf("order = %v", rec.order)
	}
}

type closeFn func() error

func (f closeFn) Close() error { return f() }

func TestCloserAdapter(t *testing.T) {
	closed := false
	h := Closer(closeFn(func() error { closed = true; return nil }))
	if err := h.OnShutdown(context.Background()); err != nil || !closed {
		t.Errorf("closed=%v err=%v", closed, err)
	}
}
