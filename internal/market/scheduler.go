package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"equity-bar-ingestor/internal/service"
)

// 会话状态常量
type SessionState string

const (
	StateIdle        SessionState = "IDLE"         // 休市，禁止连接
	StatePreOpen     SessionState = "PRE_OPEN"     // 盘前准备，允许连接
	StateOpen        SessionState = "OPEN"         // 盘中
	StateWindingDown SessionState = "WINDING_DOWN" // 收盘后的尾盘采集
)

// Scheduler 根据挂钟时间、每日四个边界和休市日历推导会话状态。
// 状态是输入的纯函数（StateAt），周期轮询只是把结果缓存给连接层查询，
// 不持有任何额外的可变标志。
type Scheduler struct {
	mu           sync.RWMutex
	CurrentState SessionState

	loc      *time.Location
	holidays map[string]struct{}

	// 当日秒偏移量表示的四个边界
	prepStart  int
	openAt     int
	closeAt    int
	captureEnd int

	poll time.Duration
}

// NewScheduler 解析配置中的时区、边界和休市日
func NewScheduler(cfg *service.MarketConfig) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	s := &Scheduler{
		loc:      loc,
		holidays: make(map[string]struct{}, len(cfg.Holidays)),
		poll:     time.Duration(cfg.PollSeconds) * time.Second,
	}
	for _, day := range cfg.Holidays {
		s.holidays[day] = struct{}{}
	}

	if s.prepStart, err = service.ParseClock(cfg.PrepStart); err != nil {
		return nil, err
	}
	if s.openAt, err = service.ParseClock(cfg.Open); err != nil {
		return nil, err
	}
	if s.closeAt, err = service.ParseClock(cfg.Close); err != nil {
		return nil, err
	}
	if s.captureEnd, err = service.ParseClock(cfg.CaptureEnd); err != nil {
		return nil, err
	}
	if !(s.prepStart <= s.openAt && s.openAt <= s.closeAt && s.closeAt <= s.captureEnd) {
		return nil, fmt.Errorf("session boundaries out of order: %s %s %s %s",
			cfg.PrepStart, cfg.Open, cfg.Close, cfg.CaptureEnd)
	}

	s.CurrentState = s.StateAt(time.Now())
	return s, nil
}

// StateAt 是状态机本体：给定任意时刻返回会话状态。
// 边界取"到点即切换"语义：恰好在开盘时刻返回 Open，前一秒返回 PreOpen。
func (s *Scheduler) StateAt(t time.Time) SessionState {
	local := t.In(s.loc)

	// 休市日和周末全天 Idle
	if _, holiday := s.holidays[local.Format("2006-01-02")]; holiday {
		return StateIdle
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return StateIdle
	}

	sod := local.Hour()*3600 + local.Minute()*60 + local.Second()
	switch {
	case sod < s.prepStart:
		return StateIdle
	case sod < s.openAt:
		return StatePreOpen
	case sod < s.closeAt:
		return StateOpen
	case sod < s.captureEnd:
		return StateWindingDown
	default:
		return StateIdle
	}
}

// Location 返回交易所时区，供行情时间戳解析使用
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Current 返回最近一次轮询得到的状态
func (s *Scheduler) Current() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentState
}

// ConnectionAllowed 行情连接仅在非 Idle 状态下允许打开
func (s *Scheduler) ConnectionAllowed() bool {
	return s.Current() != StateIdle
}

// Run 以固定短周期轮询挂钟并刷新缓存状态，直到 ctx 结束。
// 独立于连接层运行，不会阻塞行情处理。
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			state := s.StateAt(now)

			s.mu.Lock()
			prev := s.CurrentState
			s.CurrentState = state
			s.mu.Unlock()

			if state != prev {
				service.Logger.Info("Market session transition",
					zap.String("from", string(prev)),
					zap.String("to", string(state)))
			}
		}
	}
}
