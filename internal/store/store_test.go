package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-bar-ingestor/internal/model"
)

func bar(code string, ts int64, close float64) model.Bar {
	return model.Bar{
		InstrumentCode: code,
		Open:           close - 1,
		High:           close + 1,
		Low:            close - 2,
		Close:          close,
		Volume:         100,
		Interval:       "1minute",
		Timestamp:      ts,
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := New()
	b := bar("RELIANCE", 1000, 2500)

	assert.Equal(t, OutcomeInserted, s.Upsert(b))
	for i := 0; i < 5; i++ {
		assert.Equal(t, OutcomeUpdated, s.Upsert(b))
	}

	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, b, all[0])
}

func TestUpsertOrderTolerance(t *testing.T) {
	b1 := bar("TCS", 100, 10)
	b2 := bar("TCS", 200, 20)

	// 正序
	s := New()
	s.Upsert(b1)
	s.Upsert(b2)
	require.Len(t, s.GetAll(), 1)
	assert.Equal(t, b2, s.GetAll()[0])

	// 乱序收敛到同一状态
	s = New()
	s.Upsert(b2)
	outcome := s.Upsert(b1)
	assert.Equal(t, OutcomeStale, outcome)
	require.Len(t, s.GetAll(), 1)
	assert.Equal(t, b2, s.GetAll()[0])
}

func TestUpsertEqualTimestampApplies(t *testing.T) {
	s := New()
	s.Upsert(bar("INFY", 300, 15))

	// 同一 bar 的盘中修正（如成交量更新）按 >= 规则覆盖
	revised := bar("INFY", 300, 15)
	revised.Volume = 999
	assert.Equal(t, OutcomeUpdated, s.Upsert(revised))
	assert.Equal(t, int64(999), s.GetAll()[0].Volume)
}

func TestDuplicateRowSelfHealing(t *testing.T) {
	s := New()

	// 直接向分片注入重复行，模拟上游写入路径的历史故障
	sh := s.shardFor("HDFC")
	sh.rows["HDFC"] = []model.Bar{bar("HDFC", 100, 10), bar("HDFC", 200, 20)}

	// 更旧的 upsert 也要触发合并，只留 timestamp 最大的那行
	s.Upsert(bar("HDFC", 150, 15))
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, int64(200), all[0].Timestamp)

	// 更新的 upsert 合并后覆盖
	s.Upsert(bar("HDFC", 300, 30))
	all = s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, int64(300), all[0].Timestamp)
}

func TestEndToEndScenario(t *testing.T) {
	s := New()
	s.Upsert(bar("ABC", 100, 10))
	s.Upsert(bar("ABC", 90, 9)) // 迟到的旧 tick
	s.Upsert(bar("ABC", 110, 11))

	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, int64(110), all[0].Timestamp)
	assert.Equal(t, 11.0, all[0].Close)
}

func TestGetAllOrderedByCode(t *testing.T) {
	s := New()
	s.Upsert(bar("ZEE", 1, 1))
	s.Upsert(bar("ACC", 1, 1))
	s.Upsert(bar("MRF", 1, 1))

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "ACC", all[0].InstrumentCode)
	assert.Equal(t, "MRF", all[1].InstrumentCode)
	assert.Equal(t, "ZEE", all[2].InstrumentCode)
}

func TestLen(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Len())

	s.Upsert(bar("RELIANCE", 1, 1))
	s.Upsert(bar("TCS", 1, 1))
	// 同一证券的覆盖不增加数量
	s.Upsert(bar("TCS", 2, 2))
	assert.Equal(t, 2, s.Len())
}

func TestGetRecentCutoff(t *testing.T) {
	s := New()
	s.nowUnix = func() int64 { return 1000 }

	s.Upsert(bar("OLD", 500, 5))
	s.Upsert(bar("FRESH", 950, 9))
	s.Upsert(bar("EDGE", 700, 7)) // 正好落在窗口边界上

	recent := s.GetRecent(5 * time.Minute) // cutoff = 1000-300 = 700
	require.Len(t, recent, 2)
	assert.Equal(t, "EDGE", recent[0].InstrumentCode)
	assert.Equal(t, "FRESH", recent[1].InstrumentCode)
}
