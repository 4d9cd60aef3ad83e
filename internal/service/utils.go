package service

import (
	"fmt"
	"time"
)

// 行情源使用的周期枚举到 Duration 的映射
var intervalDurations = map[string]time.Duration{
	"1second":  time.Second,
	"1minute":  time.Minute,
	"5minute":  5 * time.Minute,
	"30minute": 30 * time.Minute,
}

// IntervalDuration 将行情周期枚举解析为 time.Duration
// 例如 "1minute" -> 1*time.Minute
func IntervalDuration(s string) (time.Duration, error) {
	if d, ok := intervalDurations[s]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unsupported interval: %s", s)
}

// ParseClock 将 "HH:MM" 解析为当日秒偏移量
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}
