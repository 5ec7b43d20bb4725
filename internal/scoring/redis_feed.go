package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ChainFlow-Agent/pkg/logger"
)

// RedisFeedConfig 描述评分快照在 Redis 中的位置与刷新策略。
type RedisFeedConfig struct {
	Address  string
	Password string
	DB       int
	// KeyPrefix 下每条链一个 key：<prefix><chainID>，值为 ChainScore JSON。
	KeyPrefix string
	// RefreshInterval 控制后台刷新频率。
	RefreshInterval time.Duration
	// MaxAge 超过该时长未更新的快照视为过期并被剔除。
	MaxAge time.Duration
}

// RedisFeed 周期性地把评分管道写入 Redis 的快照拉取到内存。
// Snapshot / Snapshots 只读内存副本，绝不触发网络调用，
// 以满足 shouldStart 不阻塞的约定。
type RedisFeed struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	scores map[string]ChainScore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisFeed 连接 Redis 并完成第一次快照拉取。
func NewRedisFeed(ctx context.Context, cfg RedisFeedConfig) (*RedisFeed, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "chainflow:score:"
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	feed := &RedisFeed{
		client:   client,
		prefix:   prefix,
		interval: interval,
		maxAge:   cfg.MaxAge,
		log:      logger.Named("scoring"),
		scores:   make(map[string]ChainScore),
	}
	if err := feed.refresh(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return feed, nil
}

// Start 启动后台刷新协程。重复调用无效果。
func (f *RedisFeed) Start(ctx context.Context) {
	if f.cancel != nil {
		return
	}
	refreshCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if err := f.refresh(refreshCtx); err != nil && !errors.Is(err, context.Canceled) {
					f.log.Warn("刷新评分快照失败", slog.Any("error", err))
				}
			}
		}
	}()
}

func (f *RedisFeed) refresh(ctx context.Context) error {
	var cursor uint64
	fresh := make(map[string]ChainScore)
	for {
		keys, next, err := f.client.Scan(ctx, cursor, f.prefix+"*", 64).Result()
		if err != nil {
			return fmt.Errorf("扫描评分 key 失败: %w", err)
		}
		for _, key := range keys {
			raw, err := f.client.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return fmt.Errorf("读取评分 %s 失败: %w", key, err)
			}
			var score ChainScore
			if err := json.Unmarshal([]byte(raw), &score); err != nil {
				f.log.Warn("评分快照格式无效，已跳过", slog.String("key", key), slog.Any("error", err))
				continue
			}
			if score.ChainID == "" {
				score.ChainID = key[len(f.prefix):]
			}
			if score.Score == 0 {
				score.Score = score.Composite()
			}
			fresh[score.ChainID] = score
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	now := time.Now()
	f.mu.Lock()
	f.scores = make(map[string]ChainScore, len(fresh))
	for chainID, score := range fresh {
		if score.Stale(f.maxAge, now) {
			continue
		}
		f.scores[chainID] = score
	}
	f.mu.Unlock()
	return nil
}

// Snapshot 实现 Feed 接口。
func (f *RedisFeed) Snapshot(chainID string) (ChainScore, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	score, ok := f.scores[chainID]
	return score, ok
}

// Snapshots 实现 Feed 接口。
func (f *RedisFeed) Snapshots() []ChainScore {
	f.mu.RLock()
	defer f.mu.RUnlock()
	results := make([]ChainScore, 0, len(f.scores))
	for _, score := range f.scores {
		results = append(results, score)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ChainID < results[j].ChainID
	})
	return results
}

// Close 停止刷新并释放连接。
func (f *RedisFeed) Close() error {
	if f.cancel != nil {
		f.cancel()
		<-f.done
		f.cancel = nil
	}
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

var _ Feed = (*RedisFeed)(nil)
