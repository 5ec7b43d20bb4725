package scoring

import (
	"math"
	"sync"
	"time"
)

// Gate 为评分驱动的动作提供迟滞保护：评分的边际抖动不应触发
// 昂贵的链上操作。只有当评分相对上一次实际执行时的变化超过
// MinDelta，且距离上一次执行已超过 Cooldown，动作才被放行。
type Gate struct {
	mu       sync.Mutex
	minDelta float64
	cooldown time.Duration
	now      func() time.Time
	acted    map[string]actedRecord
}

type actedRecord struct {
	score   float64
	actedAt time.Time
}

// NewGate 创建 Gate。minDelta 小于等于零时仅保留冷却窗口。
func NewGate(minDelta float64, cooldown time.Duration) *Gate {
	return &Gate{
		minDelta: minDelta,
		cooldown: cooldown,
		now:      time.Now,
		acted:    make(map[string]actedRecord),
	}
}

// Allow 判断指定链的当前评分是否允许触发新的再平衡动作。
// 首次询问（尚无执行记录）总是放行。
func (g *Gate) Allow(chainID string, score float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.acted[chainID]
	if !ok {
		return true
	}
	if g.cooldown > 0 && g.now().Sub(record.actedAt) < g.cooldown {
		return false
	}
	if g.minDelta > 0 && math.Abs(score-record.score) < g.minDelta {
		return false
	}
	return true
}

// Commit 记录一次实际执行时的评分，作为后续迟滞比较的基准。
func (g *Gate) Commit(chainID string, score float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acted[chainID] = actedRecord{score: score, actedAt: g.now()}
}
