package model

// Tick 代表行情源推送的一条原始 OHLCV 消息（未经归一化）
type Tick struct {
	FeedToken string  `json:"token"`    // 行情源内部的证券 id，可能带订阅模板前缀
	Interval  string  `json:"interval"` // 周期枚举
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	Datetime  string  `json:"datetime"` // "2006-01-02 15:04:05"（行情源本地时区）
}

// Bar 代表归一化后的最新 OHLCV 行，每个证券在存储中至多一行
type Bar struct {
	InstrumentCode string  `json:"instrument_code"` // 稳定的证券代码，存储的唯一键
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         int64   `json:"volume"`
	Interval       string  `json:"interval"`
	Timestamp      int64   `json:"timestamp"` // bar 窗口起点的 Unix 秒
}
