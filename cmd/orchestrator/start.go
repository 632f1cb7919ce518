package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/api"
	"github.com/mattjoyce/orchestrator/internal/auth"
	"github.com/mattjoyce/orchestrator/internal/config"
	"github.com/mattjoyce/orchestrator/internal/consumer"
	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/evaluator"
	"github.com/mattjoyce/orchestrator/internal/events"
	"github.com/mattjoyce/orchestrator/internal/execlog"
	"github.com/mattjoyce/orchestrator/internal/gate"
	"github.com/mattjoyce/orchestrator/internal/graph"
	"github.com/mattjoyce/orchestrator/internal/lock"
	"github.com/mattjoyce/orchestrator/internal/log"
	"github.com/mattjoyce/orchestrator/internal/members"
	"github.com/mattjoyce/orchestrator/internal/metrics"
	"github.com/mattjoyce/orchestrator/internal/n8n"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/queuemon"
	"github.com/mattjoyce/orchestrator/internal/rulegen"
	"github.com/mattjoyce/orchestrator/internal/ruleengine"
	"github.com/mattjoyce/orchestrator/internal/scheduler"
	"github.com/mattjoyce/orchestrator/internal/seed"
	"github.com/mattjoyce/orchestrator/internal/storage"
	"github.com/mattjoyce/orchestrator/internal/trigger"
	"github.com/mattjoyce/orchestrator/internal/upstream"
	"github.com/mattjoyce/orchestrator/internal/webhook"
)

// hubCapacity is the number of recent events replayed to new SSE clients.
const hubCapacity = 200

// newUpstream builds a named downstream client. Breakers guard the context,
// rule engine and consistency services; action and discovery calls go
// through without one so a single failing webhook cannot block the rest.
func newUpstream(name string, cfg *config.Config, withBreaker bool, logger *slog.Logger) *upstream.Client {
	var breaker upstream.BreakerConfig
	if withBreaker {
		breaker = upstream.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		}
	}
	return upstream.NewClient(name, &http.Client{Timeout: cfg.Services.Timeout}, breaker, logger)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("orchestrator starting", "version", version, "config", cfg.SourcePath, "fingerprint", cfg.Fingerprint)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	policyStore := policy.NewStore(db)
	actionStore := action.NewStore(db)
	execStore := execlog.NewStore(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	hub := events.NewHub(hubCapacity)

	contextClient := evaluator.NewContextClient(cfg.Services.ContextURL, newUpstream("context", cfg, true, logger))
	engine := ruleengine.New(cfg.Services.RuleURL, newUpstream("rule-engine", cfg, true, logger))
	consistency := gate.New(cfg.Services.ConsistencyURL, newUpstream("consistency", cfg, true, logger), log.WithComponent("gate"))
	memberClient := members.New(cfg.Services.MemberURL, newUpstream("members", cfg, false, logger))
	actionClient := newUpstream("actions", cfg, false, logger)

	eval := evaluator.New(consistency, contextClient, engine, log.WithComponent("evaluator"),
		evaluator.WithOverlay(evaluator.DefaultOverlay),
		evaluator.WithGateTimeout(cfg.Service.GateTimeout),
		evaluator.WithMetrics(m),
	)
	deployer := rulegen.NewDeployer(engine, policyStore, logger,
		rulegen.WithRetry(cfg.Service.RuleSyncAttempts, cfg.Service.RuleSyncBackoff),
		rulegen.WithMetrics(m),
	)
	policyGraph := graph.New(policyStore, logger, m)

	var dedup trigger.DedupStore
	if cfg.Redis.Addr != "" {
		rs, err := trigger.NewRedisStore(ctx, trigger.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Warn("redis unavailable, trigger dedup disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			dedup = rs
			defer rs.Close()
		}
	}
	registry := trigger.NewRegistry(dedup, logger,
		trigger.WithTTL(cfg.Service.DedupeTTL),
		trigger.WithWindow(cfg.Service.DedupeWindow),
		trigger.WithKeyPrefix(cfg.Redis.KeyPrefix),
		trigger.WithMetrics(m),
	)
	filter, err := trigger.NewFilter()
	if err != nil {
		logger.Error("failed to build trigger filter", "error", err)
		return 1
	}

	var amqpPub, kafkaPub action.Publisher
	if cfg.RabbitMQ.URL != "" {
		p, err := action.DialAMQP(cfg.RabbitMQ.URL)
		if err != nil {
			logger.Warn("AMQP publisher unavailable, AMQP actions disabled", "error", err)
		} else {
			amqpPub = p
			defer p.Close()
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p := action.NewKafkaPublisher(cfg.Kafka.Brokers)
		kafkaPub = p
		defer p.Close()
	}
	router := action.NewRouter(actionStore, action.NewRouteExecutor(actionClient, logger), logger, m,
		action.NewPlatformAdapter(actionStore, actionClient, logger),
		action.NewPublishAdapter(logger, amqpPub, kafkaPub),
	)

	disp := dispatch.New(dispatch.Deps{
		Registry:   registry,
		Graph:      policyGraph,
		Filter:     filter,
		Evaluator:  eval,
		Actions:    router,
		Executions: execStore,
		Policies:   policyStore,
		Members:    memberClient,
		Hub:        hub,
		Metrics:    m,
	})
	decoder := dispatch.NewDecoder(memberClient)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	// Rule sync retries for a while when the engine is still booting, so it
	// must not hold up the consumers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		if cfg.Seed.Enabled {
			err = seed.New(policyStore, actionStore, deployer, logger).Run(ctx)
		} else {
			err = deployer.SyncAll(ctx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("startup rule sync failed; run 'orchestrator rules sync' once the engine is up", "error", err)
		}
	}()

	if cfg.RabbitMQ.URL != "" {
		cons := consumer.New(consumer.Config{
			URL:      cfg.RabbitMQ.URL,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Queues: map[string]string{
				policy.EventMemberStatusChanged:     cfg.RabbitMQ.Queues.MemberStatusChanged,
				policy.EventWalletUpdated:           cfg.RabbitMQ.Queues.WalletUpdated,
				policy.EventComplianceStatusChanged: cfg.RabbitMQ.Queues.ComplianceStatusChanged,
			},
		}, decoder, disp, logger)
		cons.Start(ctx)
		defer cons.Stop()
	} else {
		logger.Warn("rabbitmq.url not set, event consumers disabled")
	}

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.Service.SchedulerInterval,
		Jitter:   cfg.Service.SchedulerJitter,
	}, policyStore, memberClient, disp, hub, logger)
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Webhook.Enabled {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhook)
		if err != nil {
			logger.Error("failed to configure webhook", "error", err)
			return 1
		}
		webhookServer := webhook.New(webhookConfig, decoder, disp, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen)
	}

	var audit *api.AuditReporter
	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen:          cfg.API.Listen,
			APIKey:          cfg.API.Auth.APIKey,
			Tokens:          tokens,
			ShutdownTimeout: cfg.Service.ShutdownTimeout,
		}
		var queues api.QueueMonitor
		if cfg.RabbitMQ.ManagementURL != "" {
			monitor, err := queuemon.New(cfg.RabbitMQ.ManagementURL, cfg.RabbitMQ.URL, newUpstream("rabbitmq-management", cfg, false, logger))
			if err != nil {
				logger.Warn("queue monitor disabled", "error", err)
			} else {
				queues = monitor
			}
		}
		audit = api.NewAuditReporter(cfg.Services.AuditURL, cfg.Service.Name, newUpstream("audit", cfg, false, logger), logger)
		apiServer := api.New(apiConfig, api.Deps{
			Policies:   policyStore,
			Rules:      deployer,
			Graph:      policyGraph,
			Executions: execStore,
			Routes:     actionStore,
			Actions:    router,
			Manual:     disp,
			N8n:        n8n.New(actionStore, newUpstream("n8n", cfg, false, logger)),
			Profiles:   contextClient,
			Queues:     queues,
			Hub:        hub,
			Audit:      audit,
			Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}, log.WithComponent("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("orchestrator running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	wg.Wait()
	audit.Wait()

	logger.Info("orchestrator stopped")
	return code
}
