package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"PayRoute/internal/api"
	"PayRoute/internal/config"
	"PayRoute/internal/identity"
	"PayRoute/internal/ledger"
	"PayRoute/internal/ledger/chainconfig"
	"PayRoute/internal/ledger/ethereum"
	"PayRoute/internal/observability/metrics"
	"PayRoute/internal/policy"
	"PayRoute/internal/router"
	"PayRoute/internal/subscription"
	"PayRoute/internal/vault"
	"PayRoute/pkg/logger"
)

// main 是 PayRoute 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("payrouted 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PAYROUTE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "payroute.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditEnabled,
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	settlementLedger, closeLedger, err := createLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	policyStore, err := createPolicyStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = policyStore.Close() }()

	subscriptionStore, err := createSubscriptionStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = subscriptionStore.Close() }()

	engineOpts := []policy.EngineOption{}
	var identityProvider identity.Predicate
	if cfg.Identity.Source != "" {
		provider, err := identity.LoadStaticProvider(cfg.Identity.Source)
		if err != nil {
			return err
		}
		identityProvider = provider
		engineOpts = append(engineOpts, policy.WithTierLimits(policy.DefaultTierLimits()))
	}

	engine, err := policy.NewEngine(policyStore, settlementLedger, engineOpts...)
	if err != nil {
		return err
	}
	scheduler, err := subscription.NewScheduler(subscriptionStore, settlementLedger)
	if err != nil {
		return err
	}
	payments, err := router.NewRouter(settlementLedger, ledger.Account(cfg.Router.Treasury), cfg.Router.FeeBps)
	if err != nil {
		return err
	}
	pool, err := vault.NewVault(settlementLedger, ledger.Account(cfg.Vault.Pool))
	if err != nil {
		return err
	}

	if cfg.Keeper.Enabled {
		queue, err := createQueue(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = queue.Close() }()

		keeper, err := subscription.NewKeeper(scheduler, queue, queue,
			ledger.Account(cfg.Keeper.Executor),
			subscription.WithScanInterval(time.Duration(cfg.Keeper.ScanInterval)*time.Second),
			subscription.WithBatchSize(cfg.Keeper.BatchSize),
			subscription.WithWorkerCount(cfg.Queue.Worker),
		)
		if err != nil {
			return err
		}
		go func() {
			if err := keeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("keeper 异常退出: %v", err)
			}
		}()
	}

	go func() {
		if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("指标服务异常退出: %v", err)
		}
	}()

	serverOpts := []api.ServerOption{
		api.WithPayments(payments),
		api.WithVault(pool),
	}
	if reader, ok := settlementLedger.(ledger.HistoryReader); ok {
		serverOpts = append(serverOpts, api.WithHistory(reader))
	}
	if identityProvider != nil {
		serverOpts = append(serverOpts, api.WithIdentity(identityProvider))
	}

	server := api.NewServer(cfg.Server.Address, engine, scheduler, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, func(), error) {
	switch cfg.Ledger.Driver {
	case "", "memory":
		return ledger.NewMemoryLedger(), func() {}, nil
	case "ethereum":
		definitions, err := chainconfig.Load(cfg.Ledger.ChainsPath)
		if err != nil {
			return nil, nil, err
		}
		definition, err := definitions.Default(cfg.Ledger.Chain)
		if err != nil {
			return nil, nil, err
		}
		client, err := ethereum.NewClient(ctx, definition)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func createPolicyStore(cfg *config.Config) (policy.Store, error) {
	switch cfg.Storage.PolicyStore.Driver {
	case "", "memory":
		return policy.NewMemoryStore(), nil
	case "mysql":
		store, err := policy.NewMySQLStore(cfg.Storage.PolicyStore.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的策略存储驱动: %s", cfg.Storage.PolicyStore.Driver)
	}
}

func createSubscriptionStore(cfg *config.Config) (subscription.Store, error) {
	switch cfg.Storage.SubscriptionStore.Driver {
	case "", "memory":
		return subscription.NewMemoryStore(), nil
	case "mysql":
		store, err := subscription.NewMySQLStore(cfg.Storage.SubscriptionStore.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的订阅存储驱动: %s", cfg.Storage.SubscriptionStore.Driver)
	}
}

func createQueue(cfg *config.Config) (subscription.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return subscription.NewMemoryQueue(1024), nil
	case "redis":
		queue, err := subscription.NewRedisQueue(subscription.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := subscription.NewRabbitMQQueue(subscription.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}
