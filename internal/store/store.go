package store

import (
	"sort"
	"sync"
	"time"

	"equity-bar-ingestor/internal/model"
)

// Outcome 描述一次 Upsert 的处理结果
type Outcome int

const (
	OutcomeInserted Outcome = iota // 新证券，插入新行
	OutcomeUpdated                 // timestamp >= 现有行，覆盖
	OutcomeStale                   // timestamp < 现有行，按设计静默丢弃
)

// 分片数量，降低不同证券之间的锁竞争
const shardCount = 64

// Store 是"每个证券的最新 bar"的权威存储。
// 唯一性约束在应用层维护：上游历史上允许同一证券出现多行，
// 因此每次写入都会先做一次自愈合并，而不是假设存储天然只有一行。
type Store struct {
	shards [shardCount]*shard

	// 测试中可替换，用于固定 GetRecent 的时间基准
	nowUnix func() int64
}

type shard struct {
	mu   sync.RWMutex
	rows map[string][]model.Bar
}

// New 创建一个空的 bar 存储
func New() *Store {
	s := &Store{nowUnix: func() int64 { return time.Now().Unix() }}
	for i := range s.shards {
		s.shards[i] = &shard{rows: make(map[string][]model.Bar)}
	}
	return s
}

// Upsert 按乱序容忍的合并策略写入一个 bar：
//  1. 同一证券若存在多行（历史脏数据），只保留 timestamp 最大的一行
//  2. 新 bar 的 timestamp >= 现有行时覆盖（同一 bar 内的成交量修正也走这条路径）
//  3. 新 bar 的 timestamp 更小则视为迟到的旧数据，丢弃
//  4. 不存在则插入
//
// 重放和乱序投递最终收敛到与顺序投递相同的状态。
func (s *Store) Upsert(bar model.Bar) Outcome {
	sh := s.shardFor(bar.InstrumentCode)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rows := sh.rows[bar.InstrumentCode]

	// 自愈：合并重复行，保留 timestamp 最大的
	if len(rows) > 1 {
		latest := rows[0]
		for _, row := range rows[1:] {
			if row.Timestamp > latest.Timestamp {
				latest = row
			}
		}
		rows = []model.Bar{latest}
	}

	if len(rows) == 0 {
		sh.rows[bar.InstrumentCode] = []model.Bar{bar}
		return OutcomeInserted
	}

	if bar.Timestamp >= rows[0].Timestamp {
		sh.rows[bar.InstrumentCode] = []model.Bar{bar}
		return OutcomeUpdated
	}

	// 迟到的旧 tick，可见状态不允许回退
	sh.rows[bar.InstrumentCode] = rows
	return OutcomeStale
}

// GetAll 返回全量快照，按证券代码升序稳定排序
func (s *Store) GetAll() []model.Bar {
	var out []model.Bar
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rows := range sh.rows {
			out = append(out, newestOf(rows))
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstrumentCode < out[j].InstrumentCode
	})
	return out
}

// GetRecent 返回最近 lookback 窗口内更新过的 bar，排序与 GetAll 一致
func (s *Store) GetRecent(lookback time.Duration) []model.Bar {
	cutoff := s.nowUnix() - int64(lookback.Seconds())
	all := s.GetAll()
	out := all[:0]
	for _, bar := range all {
		if bar.Timestamp >= cutoff {
			out = append(out, bar)
		}
	}
	return out
}

// Len 返回当前持有的证券数量
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.rows)
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) shardFor(code string) *shard {
	return s.shards[fnv32(code)%shardCount]
}

// 读取多行时取最新的一行，合并留到下一次 Upsert
func newestOf(rows []model.Bar) model.Bar {
	latest := rows[0]
	for _, row := range rows[1:] {
		if row.Timestamp > latest.Timestamp {
			latest = row
		}
	}
	return latest
}

func fnv32(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	var hash uint32 = offset32
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime32
	}
	return hash
}
