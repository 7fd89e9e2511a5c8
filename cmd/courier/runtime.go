package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/courier/agents"
	"github.com/vinayprograms/courier/attachments"
	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/config"
	"github.com/vinayprograms/courier/llm"
	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/orchestrator"
	"github.com/vinayprograms/courier/policy"
	"github.com/vinayprograms/courier/ratelimit"
	"github.com/vinayprograms/courier/sandbox"
	"github.com/vinayprograms/courier/shutdown"
	"github.com/vinayprograms/courier/skills"
	"github.com/vinayprograms/courier/state"
	"github.com/vinayprograms/courier/taskstore"
	"github.com/vinayprograms/courier/telemetry"
)

// runtime holds the wired components of one process.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	stop   *shutdown.Coordinator

	nats   *bus.NATSBus // set when any NATS backend is configured
	bus    bus.MessageBus
	events *bus.EventBus
	kv     state.StateStore
	tasks  *taskstore.Store

	policy    *policy.Policy
	workspace string
	runner    *sandbox.Runner
	skills    *skills.Registry
	memory    memory.Store
	provider  llm.Provider
	limiter   ratelimit.Limiter
	agents    *agents.Registry
	orch      *orchestrator.Orchestrator

	telemetry *telemetry.Provider
	exporter  telemetry.Exporter
}

// buildOptions choose which layers a command needs.
type buildOptions struct {
	orchestrator bool // LLM, skills, agents and orchestrator
	workspace    string
}

// build wires the process. Every component it creates is registered with
// the shutdown coordinator, so a failed build is unwound by calling
// rt.stop.Shutdown.
func build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts buildOptions) (*runtime, error) {
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		stop:   shutdown.NewCoordinator(shutdown.DefaultConfig(), logger),
	}
	steps := []func(context.Context) error{rt.buildTelemetry, rt.buildBus, rt.buildStore}
	if opts.orchestrator {
		rt.workspace = opts.workspace
		steps = append(steps, rt.buildSkills, rt.buildMemory, rt.buildAgents)
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = rt.stop.Shutdown(context.Background())
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) buildTelemetry(ctx context.Context) error {
	t := rt.cfg.Telemetry
	if t.Enabled {
		p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    "courier",
			ServiceVersion: version,
			Endpoint:       t.Endpoint,
			Protocol:       t.Protocol,
			Insecure:       t.Insecure,
			SampleRatio:    t.SampleRatio,
			Debug:          t.Debug,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		rt.telemetry = p
		rt.stop.RegisterFunc("telemetry", shutdown.PhaseStorage, p.Shutdown)
	}

	exp, err := telemetry.NewExporter(t.EventsProtocol, t.EventsEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry events: %w", err)
	}
	rt.exporter = exp
	rt.stop.Register("events-exporter", shutdown.PhaseStorage, shutdown.Closer(exp))
	return nil
}

func (rt *runtime) buildBus(context.Context) error {
	b := rt.cfg.Bus
	base := bus.Config{BufferSize: b.BufferSize}

	if b.Backend == "nats" || rt.cfg.Store.Backend == "nats" {
		ncfg := bus.DefaultNATSConfig()
		ncfg.Config = base
		ncfg.URL = b.URL
		if b.Name != "" {
			ncfg.Name = b.Name
		}
		ncfg.Logger = rt.logger
		auth := rt.cfg.NATSAuth()
		ncfg.Token, ncfg.User, ncfg.Password = auth.Token, auth.User, auth.Password
		nb, err := bus.NewNATSBus(ncfg)
		if err != nil {
			return err
		}
		rt.nats = nb
		// the connection outlives the event bus: the KV store shares it
		rt.stop.Register("nats", shutdown.PhaseStorage+1, shutdown.Closer(nb))
	}

	var mb bus.MessageBus
	if b.Backend == "nats" {
		mb = rt.nats
	} else {
		memBus := bus.NewMemoryBus(base)
		rt.stop.Register("memory-bus", shutdown.PhaseBus+1, shutdown.Closer(memBus))
		mb = memBus
	}
	rt.bus = mb

	ecfg := bus.DefaultEventBusConfig()
	if b.Prefix != "" {
		ecfg.Prefix = b.Prefix
	}
	ecfg.WorkQueue = b.WorkQueue
	rt.events = bus.NewEventBus(mb, ecfg, rt.logger)
	rt.stop.Register("event-bus", shutdown.PhaseBus, shutdown.Closer(rt.events))
	return nil
}

func (rt *runtime) openKV(bucket string, ttl time.Duration) (state.StateStore, error) {
	if rt.cfg.Store.Backend != "nats" {
		return state.NewMemoryStore(), nil
	}
	scfg := state.DefaultNATSStoreConfig()
	scfg.Conn = rt.nats.Conn()
	scfg.Bucket = bucket
	scfg.TTL = ttl
	return state.NewNATSStore(scfg)
}

func (rt *runtime) buildStore(context.Context) error {
	ttl := rt.cfg.TaskTTL()
	kv, err := rt.openKV(rt.cfg.Store.Bucket, ttl)
	if err != nil {
		return fmt.Errorf("task store: %w", err)
	}
	rt.kv = kv
	rt.tasks = taskstore.New(kv, ttl)
	rt.stop.Register("task-store", shutdown.PhaseStorage, shutdown.Closer(kv))
	return nil
}

func (rt *runtime) buildSkills(context.Context) error {
	pol := policy.New()
	if f := rt.cfg.Policy.File; f != "" {
		p, err := policy.LoadFile(f)
		if err != nil {
			return fmt.Errorf("policy: %w", err)
		}
		pol = p
	}
	rt.policy = pol

	ws := rt.workspace
	if ws == "" {
		ws = pol.Workspace
	}
	if ws == "" {
		ws = rt.cfg.Sandbox.Workspace
	}
	abs, err := filepath.Abs(config.ExpandHome(ws))
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	rt.workspace = abs
	if pol.Workspace == "" {
		pol.Workspace = abs
	}

	s := rt.cfg.Sandbox
	scfg := sandbox.DefaultConfig()
	scfg.Dir = abs
	if s.CPUSeconds > 0 {
		scfg.CPUSeconds = s.CPUSeconds
	}
	if s.MemoryMB > 0 {
		scfg.MemoryMB = s.MemoryMB
	}
	scfg.Network = s.Network
	scfg.Timeout = config.Duration(s.Timeout, 0)
	if !s.UseHelper {
		// limits go on after start
		scfg.Helper = ""
	}
	rt.runner = sandbox.NewRunner(scfg, rt.logger)
	return nil
}

func (rt *runtime) buildMemory(context.Context) error {
	m := rt.cfg.Memory
	switch m.Backend {
	case "off":
		return nil
	case "memory":
		rt.memory = memory.NewInMemoryStore()
	default:
		path := ""
		if m.Path != "" {
			path = config.ExpandHome(m.Path)
		}
		store, err := memory.NewBleveStore(memory.BleveStoreConfig{Path: path})
		if err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		rt.memory = store
	}
	rt.stop.Register("memory", shutdown.PhaseStorage, shutdown.Closer(rt.memory))
	return nil
}

func (rt *runtime) buildAgents(context.Context) error {
	todos, err := rt.openKV(rt.cfg.Store.TodoBucket, 0)
	if err != nil {
		return fmt.Errorf("todo store: %w", err)
	}
	rt.stop.Register("todo-store", shutdown.PhaseStorage, shutdown.Closer(todos))

	rt.skills = skills.NewRegistry(rt.logger)
	if rt.telemetry != nil {
		rt.skills.SetTracer(rt.telemetry.Tracer())
	}
	deps := skills.Deps{
		Workspace: rt.workspace,
		Policy:    rt.policy,
		Runner:    rt.runner,
		Todos:     todos,
		TodoTTL:   config.Duration(rt.cfg.Store.TodoTTL, 0),
		Logger:    rt.logger,
	}
	if rt.memory != nil {
		deps.Memory = rt.memory
	}
	if err := skills.RegisterBuiltins(rt.skills, deps); err != nil {
		return fmt.Errorf("skills: %w", err)
	}

	provider, err := llm.NewProvider(rt.cfg.LLM.ProviderConfig())
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if provider, err = rt.throttle(provider, rt.cfg.LLM); err != nil {
		return err
	}
	rt.provider = provider

	aopts := []agents.AssistantOption{agents.WithAssistantLogger(rt.logger)}
	if p := rt.cfg.Orchestrator.SystemPrompt; p != "" {
		aopts = append(aopts, agents.WithSystemPrompt(p))
	}
	if rt.cfg.LLM.MaxTokens > 0 {
		aopts = append(aopts, agents.WithMaxTokens(rt.cfg.LLM.MaxTokens))
	}
	if rt.memory != nil {
		aopts = append(aopts, agents.WithRecaller(rt.memory))
	}
	reg, err := agents.NewRegistry(rt.logger,
		agents.NewAssistant(provider, rt.skills, aopts...),
		agents.NewTool(rt.skills),
	)
	if err != nil {
		return err
	}
	rt.agents = reg

	o := rt.cfg.Orchestrator
	ocfg := orchestrator.DefaultConfig()
	ocfg.MaxIterations = o.MaxIterations
	ocfg.Autonomous = o.Autonomous
	ocfg.Streaming = o.Streaming
	if o.OverflowNotice != "" {
		ocfg.OverflowNotice = o.OverflowNotice
	}
	ocfg.MemoryTimeout = config.Duration(o.MemoryTimeout, orchestrator.DefaultMemoryTimeout)

	oopts := []orchestrator.Option{
		orchestrator.WithLogger(rt.logger),
		orchestrator.WithExporter(rt.exporter),
	}
	if rt.telemetry != nil {
		oopts = append(oopts, orchestrator.WithTracer(rt.telemetry.Tracer()))
	}
	if rt.memory != nil {
		oopts = append(oopts, orchestrator.WithMemory(rt.memory))
		summarizer, err := rt.summarizer()
		if err != nil {
			return err
		}
		ix := attachments.NewIndexer(skills.Workspace{Root: rt.workspace, Policy: rt.policy}, summarizer, rt.memory, rt.logger)
		oopts = append(oopts, orchestrator.WithIndexer(ix))
	}
	rt.orch = orchestrator.New(ocfg, rt.events, rt.tasks, rt.agents, oopts...)
	rt.stop.RegisterFunc("orchestrator", shutdown.PhaseDrain, rt.orch.Close)
	return nil
}

// summarizer returns the attachment summarizer, reusing the main provider
// unless small_llm names its own model.
func (rt *runtime) summarizer() (*llm.Summarizer, error) {
	if rt.cfg.SmallLLM.Model == "" {
		return llm.NewSummarizer(rt.provider), nil
	}
	p, err := llm.NewProvider(rt.cfg.Summarizer().ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("small_llm: %w", err)
	}
	if p, err = rt.throttle(p, rt.cfg.Summarizer()); err != nil {
		return nil, err
	}
	return llm.NewSummarizer(p), nil
}

// throttle wraps p with the process limiter when l sets a request rate.
// Models of one provider share a bucket.
func (rt *runtime) throttle(p llm.Provider, l config.LLMConfig) (llm.Provider, error) {
	if l.RequestsPerMinute <= 0 {
		return p, nil
	}
	if rt.limiter == nil {
		if err := rt.buildLimiter(); err != nil {
			return nil, err
		}
	}
	resource := l.RateLimitResource()
	if c := rt.limiter.Capacity(resource); c == nil || l.RequestsPerMinute < c.Total {
		rt.limiter.SetCapacity(resource, l.RequestsPerMinute, time.Minute)
	}
	return llm.WithRateLimit(p, rt.limiter, resource), nil
}

// buildLimiter shares rate-limit pushback over NATS when it is in use.
func (rt *runtime) buildLimiter() error {
	if rt.nats == nil {
		rt.limiter = ratelimit.NewMemoryLimiter()
	} else {
		cfg := ratelimit.DefaultDistributedConfig()
		cfg.Bus = rt.nats
		cfg.Subject = rt.subject("ratelimit.capacity")
		cfg.Origin = processID()
		cfg.Logger = rt.logger
		d, err := ratelimit.NewDistributedLimiter(cfg)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		rt.limiter = d
	}
	rt.stop.Register("rate-limiter", shutdown.PhaseBus, shutdown.Closer(rt.limiter))
	return nil
}

// subject prefixes name with the configured bus prefix.
func (rt *runtime) subject(name string) string {
	return rt.cfg.Bus.Prefix + name
}

// subscribeOrchestrator feeds incoming messages to the task loop.
func (rt *runtime) subscribeOrchestrator() error {
	return rt.events.Subscribe(bus.ChannelIncomingMessage, rt.orch.Handle)
}

// subscribeReplies routes replies and tokens to h.
func (rt *runtime) subscribeReplies(h bus.Handler) error {
	if err := rt.events.Subscribe(bus.ChannelOutgoingReply, h); err != nil {
		return err
	}
	return rt.events.Subscribe(bus.ChannelStreamToken, h)
}

// processID names this process on the bus.
func processID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
