package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			APIKey:    "key",
			SecretKey: "secret",
			WSURL:     "wss://feed.example.com/stream",
			Interval:  "1minute",
			BatchSize: 1000,
		},
		Directory: DirectoryConfig{MasterURL: "https://example.com/master.zip"},
		Sink:      SinkConfig{IngestURL: "https://example.com/ingestOhlcv"},
	}
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsBadConfig(t *testing.T) {
	mutations := map[string]func(*Config){
		"missing api key":  func(c *Config) { c.Feed.APIKey = "" },
		"missing ws url":   func(c *Config) { c.Feed.WSURL = "" },
		"bad interval":     func(c *Config) { c.Feed.Interval = "2hour" },
		"zero batch size":  func(c *Config) { c.Feed.BatchSize = 0 },
		"missing master":   func(c *Config) { c.Directory.MasterURL = "" },
		"missing sink url": func(c *Config) { c.Sink.IngestURL = "" },
	}
	for name, mutate := range mutations {
		cfg := validConfig()
		mutate(cfg)
		assert.Error(t, Validate(cfg), name)
	}
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("5minute")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = IntervalDuration("2hour")
	assert.Error(t, err)
}

func TestSplitHolidays(t *testing.T) {
	// 环境变量传入的是逗号分隔的单个元素
	assert.Equal(t, []string{"2025-10-02", "2025-10-21"},
		splitHolidays([]string{"2025-10-02, 2025-10-21"}))

	// yaml 列表原样保留
	assert.Equal(t, []string{"2025-10-02", "2025-10-21"},
		splitHolidays([]string{"2025-10-02", "2025-10-21"}))

	assert.Empty(t, splitHolidays([]string{""}))
}

func TestParseClock(t *testing.T) {
	sec, err := ParseClock("09:15")
	require.NoError(t, err)
	assert.Equal(t, 9*3600+15*60, sec)

	_, err = ParseClock("9am")
	assert.Error(t, err)
}
