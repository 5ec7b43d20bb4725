package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ChainFlow-Agent/internal/action"
	"ChainFlow-Agent/internal/api"
	"ChainFlow-Agent/internal/bridge"
	"ChainFlow-Agent/internal/config"
	"ChainFlow-Agent/internal/observability/alerting"
	"ChainFlow-Agent/internal/runner"
	"ChainFlow-Agent/internal/scoring"
	storage "ChainFlow-Agent/internal/storage/mysql"
	"ChainFlow-Agent/internal/task"
	"ChainFlow-Agent/internal/web3"
	"ChainFlow-Agent/internal/web3/provider"
	"ChainFlow-Agent/pkg/logger"
)

// main 是 ChainFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chainflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainflow.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level: cfg.Logging.Level,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 初始化任务存储。
	store, err := buildTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	// 初始化评分数据源。
	feed, closeFeed, err := buildFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	// 初始化链客户端。
	registry, err := provider.NewRegistry(ctx, cfg.Chains.Path)
	if err != nil {
		return err
	}
	defer registry.Close()

	// 初始化生命周期事件投递。
	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = publisher.Close()
	}()

	gate := scoring.NewGate(cfg.Scoring.Gate.MinDelta, cfg.Scoring.Gate.Cooldown.Std())

	definitions, err := buildDefinitions(cfg, registry, feed, gate)
	if err != nil {
		return err
	}

	opts := []runner.Option{
		runner.WithInterval(cfg.Runner.Interval.Std()),
		runner.WithUpdateTimeout(cfg.Runner.UpdateTimeout.Std()),
		runner.WithPublisher(publisher),
	}
	if dispatcher := buildAlerts(cfg.Alerting); dispatcher != nil {
		opts = append(opts, runner.WithAlertDispatcher(dispatcher))
	}

	sched, err := runner.New(store, definitions, opts...)
	if err != nil {
		return err
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	go func() {
		if err := sched.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("调度器异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, store, feed)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case config.TaskStoreMemory:
		return task.NewMemoryStore(), nil
	case config.TaskStoreMySQL:
		return task.NewMySQLStore(ctx, storage.Config{
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.TaskStore.ConnMaxLifetime.Std(),
		})
	default:
		return nil, fmt.Errorf("不支持的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
}

func buildFeed(ctx context.Context, cfg *config.Config) (scoring.Feed, func(), error) {
	switch cfg.Scoring.Provider {
	case config.ScoringStatic:
		feed := scoring.NewStaticFeed()
		for _, entry := range cfg.Scoring.Static {
			feed.Set(scoring.ChainScore{
				ChainID:   entry.ChainID,
				Score:     entry.Score,
				UpdatedAt: time.Now(),
			})
		}
		return feed, func() {}, nil
	case config.ScoringRedis:
		feed, err := scoring.NewRedisFeed(ctx, scoring.RedisFeedConfig{
			Address:         cfg.Scoring.Redis.Address,
			Password:        cfg.Scoring.Redis.Password,
			DB:              cfg.Scoring.Redis.DB,
			KeyPrefix:       cfg.Scoring.Redis.KeyPrefix,
			RefreshInterval: cfg.Scoring.Redis.RefreshInterval.Std(),
			MaxAge:          cfg.Scoring.MaxScoreAge.Std(),
		})
		if err != nil {
			return nil, nil, err
		}
		feed.Start(ctx)
		return feed, func() { _ = feed.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("不支持的评分数据源: %s", cfg.Scoring.Provider)
	}
}

// buildAlerts 按配置组装告警分发器，未配置任何渠道时返回 nil。
func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.DingTalkWebhookEnv != "" {
		if url := strings.TrimSpace(os.Getenv(cfg.DingTalkWebhookEnv)); url != "" {
			notifiers = append(notifiers, &alerting.DingTalkNotifier{
				Sender: &alerting.WebhookDingTalk{URL: url},
			})
		}
	}
	if cfg.SlackWebhookEnv != "" {
		if url := strings.TrimSpace(os.Getenv(cfg.SlackWebhookEnv)); url != "" {
			notifiers = append(notifiers, &alerting.SlackNotifier{
				Sender:    &alerting.WebhookSlack{URL: url},
				ChannelID: cfg.SlackChannel,
			})
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func buildPublisher(cfg *config.Config) (task.Publisher, error) {
	switch cfg.Events.Provider {
	case config.EventsNone:
		return task.NopPublisher{}, nil
	case config.EventsRabbitMQ:
		return task.NewRabbitMQPublisher(task.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("不支持的事件投递方式: %s", cfg.Events.Provider)
	}
}

// buildDefinitions 按配置顺序实例化动作定义，该顺序同时决定了
// 调度器内更新与启动评估的固定顺序。
func buildDefinitions(cfg *config.Config, registry *provider.Registry, feed scoring.Feed, gate *scoring.Gate) ([]action.Definition, error) {
	var bridgeBackend bridge.Backend
	needsBridge := false
	for _, spec := range cfg.Actions {
		if spec.Type == "bridge" {
			needsBridge = true
			break
		}
	}
	if needsBridge {
		apiKey := ""
		if cfg.Bridge.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.Bridge.APIKeyEnv))
		}
		client, err := bridge.NewClient(bridge.Config{
			BaseURL: cfg.Bridge.BaseURL,
			APIKey:  apiKey,
			Timeout: cfg.Bridge.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		bridgeBackend = client
	}

	maxAge := cfg.Scoring.MaxScoreAge.Std()
	definitions := make([]action.Definition, 0, len(cfg.Actions))
	for idx, spec := range cfg.Actions {
		def, err := buildDefinition(spec, registry, feed, gate, bridgeBackend, maxAge)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", idx, err)
		}
		definitions = append(definitions, def)
	}
	return definitions, nil
}

func buildDefinition(spec config.ActionSpec, registry *provider.Registry, feed scoring.Feed, gate *scoring.Gate, bridgeBackend bridge.Backend, maxAge time.Duration) (action.Definition, error) {
	switch spec.Type {
	case "vault-sync":
		client, err := chainClient(registry, spec.Chain)
		if err != nil {
			return nil, err
		}
		return action.NewVaultSync(action.VaultSyncConfig{
			Client:   client,
			Interval: spec.Interval.Std(),
		})
	case "swap":
		client, err := chainClient(registry, spec.Chain)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(spec.Amount)
		if err != nil {
			return nil, err
		}
		return action.NewSwap(action.SwapConfig{
			Client:      client,
			FromAsset:   spec.FromAsset,
			ToAsset:     spec.ToAsset,
			Amount:      amount,
			Feed:        feed,
			Gate:        gate,
			MinScore:    spec.Threshold,
			MaxScoreAge: maxAge,
		})
	case "add-liquidity", "remove-liquidity":
		client, err := chainClient(registry, spec.Chain)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(spec.Amount)
		if err != nil {
			return nil, err
		}
		liquidityCfg := action.LiquidityConfig{
			Client:      client,
			Asset:       spec.Asset,
			Amount:      amount,
			Feed:        feed,
			Gate:        gate,
			Threshold:   spec.Threshold,
			MaxScoreAge: maxAge,
		}
		if spec.Type == "add-liquidity" {
			return action.NewAddLiquidity(liquidityCfg)
		}
		return action.NewRemoveLiquidity(liquidityCfg)
	case "bridge":
		from, err := chainClient(registry, spec.FromChain)
		if err != nil {
			return nil, err
		}
		to, err := chainClient(registry, spec.ToChain)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(spec.Amount)
		if err != nil {
			return nil, err
		}
		return action.NewBridge(action.BridgeConfig{
			From:        from,
			To:          to,
			Backend:     bridgeBackend,
			Asset:       spec.Asset,
			Amount:      amount,
			Feed:        feed,
			Gate:        gate,
			MinSpread:   spec.MinSpread,
			MaxScoreAge: maxAge,
		})
	default:
		return nil, fmt.Errorf("不支持的动作类型: %s", spec.Type)
	}
}

func chainClient(registry *provider.Registry, name string) (web3.Client, error) {
	client, ok := registry.Client(name)
	if !ok {
		return nil, fmt.Errorf("未知的链: %s", name)
	}
	return client, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("非法的金额: %s", raw)
	}
	return amount, nil
}
