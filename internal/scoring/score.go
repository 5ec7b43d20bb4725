package scoring

import "time"

// ChainScore 是单条链的流动性机会评分快照。
// Yield 为正向权重，Volatility 与 GasCost 为负向权重；
// 评分公式本身由链下评分管道维护，这里只约定符号方向。
type ChainScore struct {
	ChainID    string    `json:"chain_id"`
	Yield      float64   `json:"yield"`
	Volatility float64   `json:"volatility"`
	GasCost    float64   `json:"gas_cost"`
	Score      float64   `json:"score"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Composite 按约定的符号方向合成评分，供评分管道缺省时兜底。
func (s ChainScore) Composite() float64 {
	return s.Yield - s.Volatility - s.GasCost
}

// Stale 判断快照是否超过给定的有效期。
func (s ChainScore) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) > maxAge
}

// Feed 提供各链评分的只读快照。实现必须保证读取不阻塞：
// 动作定义在 shouldStart 里同步消费这些数据。
type Feed interface {
	// Snapshot 返回指定链的当前评分；链未知时第二个返回值为 false。
	Snapshot(chainID string) (ChainScore, bool)
	// Snapshots 返回全部链的当前评分。
	Snapshots() []ChainScore
}
