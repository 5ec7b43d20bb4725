package scoring

import (
	"sort"
	"sync"
)

// StaticFeed 以内存方式保存评分，用于测试与本地联调。
type StaticFeed struct {
	mu     sync.RWMutex
	scores map[string]ChainScore
}

// NewStaticFeed 创建 StaticFeed。
func NewStaticFeed(scores ...ChainScore) *StaticFeed {
	feed := &StaticFeed{scores: make(map[string]ChainScore, len(scores))}
	for _, score := range scores {
		feed.scores[score.ChainID] = score
	}
	return feed
}

// Set 写入或覆盖一条链的评分。
func (f *StaticFeed) Set(score ChainScore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[score.ChainID] = score
}

// Snapshot 实现 Feed 接口。
func (f *StaticFeed) Snapshot(chainID string) (ChainScore, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	score, ok := f.scores[chainID]
	return score, ok
}

// Snapshots 实现 Feed 接口。
func (f *StaticFeed) Snapshots() []ChainScore {
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

var _ Feed = (*StaticFeed)(nil)
