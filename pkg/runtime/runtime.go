// Package runtime assembles the control plane from configuration: stores,
// engines, loops, and the HTTP server, with ordered startup and shutdown.
package runtime

import (
	"context"
	"time"

	"github.com/agentmesh/agentmesh/pkg/alerts"
	"github.com/agentmesh/agentmesh/pkg/auth"
	"github.com/agentmesh/agentmesh/pkg/capability"
	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/dispatch"
	"github.com/agentmesh/agentmesh/pkg/health"
	"github.com/agentmesh/agentmesh/pkg/httpclient"
	"github.com/agentmesh/agentmesh/pkg/integration"
	"github.com/agentmesh/agentmesh/pkg/llms"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/notify"
	"github.com/agentmesh/agentmesh/pkg/orchestrator"
	"github.com/agentmesh/agentmesh/pkg/ratelimit"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/secrets"
	"github.com/agentmesh/agentmesh/pkg/server"
	"github.com/agentmesh/agentmesh/pkg/trace"
	"github.com/agentmesh/agentmesh/pkg/workflow"
)

// Runtime owns every component of a running control plane.
type Runtime struct {
	cfg *config.Config
	clk clock.Clock

	Agents       *registry.AgentRegistry
	Master       *registry.MasterData
	Workflows    *registry.WorkflowStore
	Templates    *registry.TemplateStore
	Secrets      *registry.SecretStore
	Metrics      metrics.Store
	Recorder     *trace.Recorder
	Alerts       *alerts.Engine
	Monitor      *health.Monitor
	Orchestrator *orchestrator.Orchestrator
	Capability   *capability.Engine
	Dispatcher   *dispatch.Dispatcher
	Engine       *workflow.Engine
	Facade       *integration.Facade
	Server       *server.Server
}

// New builds the full component graph. Nothing starts running until Start.
func New(cfg *config.Config) (*Runtime, error) {
	clk := clock.Real{}
	rt := &Runtime{cfg: cfg, clk: clk}

	cipher, err := secrets.New(cfg.Secrets.MasterKey)
	if err != nil {
		return nil, err
	}

	rt.Agents = registry.NewAgentRegistry(clk, cfg.Providers.SupportedModels)
	rt.Master = registry.NewMasterData(rt.Agents)
	rt.Workflows = registry.NewWorkflowStore(clk, rt.Agents)
	rt.Templates = registry.NewTemplateStore()
	rt.Secrets = registry.NewSecretStore(clk, cipher)

	mirror := metrics.NewMirror(nil)
	switch cfg.Metrics.Backend {
	case "redis":
		rt.Metrics = metrics.NewRedisStore(cfg.Metrics.RedisAddr, "", 0, clk,
			cfg.Metrics.MaxAge, mirror.Hook())
	default:
		rt.Metrics = metrics.NewMemoryStore(clk,
			metrics.WithMaxSamples(cfg.Metrics.MaxSamples),
			metrics.WithMaxAge(cfg.Metrics.MaxAge),
			metrics.WithHook(mirror.Hook()),
		)
	}

	rt.Recorder = trace.NewRecorder(clk, rt.Metrics, cfg.Metrics.MaxAge)

	notifier := notify.New(rt.Metrics, cfg.Alerts.NotifyRetry, time.Second)
	notifier.RegisterSink(notify.NewWebhookSink(httpclient.New()))
	if cfg.Notify.SMTPHost != "" {
		notifier.RegisterSink(notify.NewEmailSink(
			cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
			cfg.Notify.SMTPUsername, cfg.Notify.SMTPPassword,
			cfg.Notify.SMTPFrom))
	}
	if cfg.Notify.SlackToken != "" {
		notifier.RegisterSink(notify.NewChatSink(cfg.Notify.SlackToken))
	}
	rt.Alerts = alerts.NewEngine(clk, rt.Metrics, notifier, cfg.Alerts.Interval)

	ports := clock.NewPortAllocator(cfg.Orchestrator.PortBase, cfg.Orchestrator.PortCapacity)
	rt.Orchestrator = orchestrator.New(orchestrator.Options{
		WorkDir:         cfg.Orchestrator.WorkDir,
		WorkerCommand:   cfg.Orchestrator.WorkerCommand,
		StartupDeadline: cfg.Orchestrator.StartupDeadline,
		DrainDeadline:   cfg.Orchestrator.DrainDeadline,
	}, clk, rt.Agents, rt.Templates, ports)

	rt.Monitor = health.New(health.Options{
		HealthInterval:  cfg.Health.HealthInterval,
		MetricsInterval: cfg.Health.MetricsInterval,
		AutoRestart:     cfg.Health.AutoRestart,
	}, clk, rt.Agents, rt.Metrics, rt.Alerts, rt.Orchestrator)

	rt.Capability = capability.NewEngine(rt.Agents, rt.Master)

	dispatchOpts := []dispatch.Option{
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithDefaultConcurrency(cfg.Dispatch.DefaultConcurrency),
	}
	if cfg.Providers.AnthropicAPIKey != "" {
		dispatchOpts = append(dispatchOpts,
			dispatch.WithProvider(llms.NewAnthropicProvider(cfg.Providers.AnthropicAPIKey)))
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		dispatchOpts = append(dispatchOpts,
			dispatch.WithProvider(llms.NewOpenAIProvider(cfg.Providers.OpenAIAPIKey)))
	}
	rt.Dispatcher = dispatch.New(clk, rt.Agents, rt.Recorder, dispatchOpts...)

	rt.Engine = workflow.New(clk, rt.Workflows, rt.Dispatcher)
	rt.Facade = integration.New(clk, rt.Agents, rt.Workflows, rt.Master, rt.Templates)

	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		authSvc, err = auth.NewService(clk, cfg.Auth.Secret, cfg.Auth.Issuer,
			cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
		if err != nil {
			return nil, err
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(clk, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	rt.Server = server.New(server.Deps{
		Config:       cfg,
		Auth:         authSvc,
		Limiter:      limiter,
		Agents:       rt.Agents,
		Master:       rt.Master,
		Workflows:    rt.Workflows,
		Templates:    rt.Templates,
		Secrets:      rt.Secrets,
		Capability:   rt.Capability,
		Dispatcher:   rt.Dispatcher,
		Engine:       rt.Engine,
		Facade:       rt.Facade,
		Alerts:       rt.Alerts,
		Metrics:      rt.Metrics,
		Recorder:     rt.Recorder,
		Orchestrator: rt.Orchestrator,
	})

	return rt, nil
}

// Start launches the background loops and serves HTTP until ctx is done.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.Alerts.Start(ctx)
	rt.Monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rt.Server.Shutdown(shutdownCtx); err != nil {
		logger.GetLogger().Warn("http shutdown incomplete", "error", err)
	}

	rt.Monitor.Stop()
	rt.Alerts.Stop()
	rt.Orchestrator.Shutdown()
	return nil
}
