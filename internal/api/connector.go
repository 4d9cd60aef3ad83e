package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"equity-bar-ingestor/internal/auth"
	"equity-bar-ingestor/internal/directory"
	"equity-bar-ingestor/internal/model"
	"equity-bar-ingestor/internal/service"
)

// 连接状态常量
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateSubscribing  ConnState = "SUBSCRIBING"
	StateStreaming    ConnState = "STREAMING"
)

// feedEvent 行情源的控制帧（认证、订阅确认、错误）
type feedEvent struct {
	Event  string `json:"event"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

var (
	errMalformedTick     = errors.New("feed: malformed tick")
	errUnknownInstrument = errors.New("feed: unknown instrument id")
)

// InstrumentDirectory 是连接器需要的证券目录能力
type InstrumentDirectory interface {
	Universe() ([]directory.Instrument, error)
	SymbolFor(feedToken string) (string, bool)
}

// SessionGate 是连接器需要的会话窗口判定能力，由调度器实现
type SessionGate interface {
	ConnectionAllowed() bool
	Location() *time.Location
}

// Connector 持有到行情源的单一逻辑连接：
// 认证 → 分批订阅 → 读循环归一化 tick → 输出 Bar 通道。
// 重连受调度器约束：Idle 状态下不建连，窗口内用有界退避重试。
type Connector struct {
	cfg       *service.FeedConfig
	tokens    *auth.Manager
	directory InstrumentDirectory
	scheduler SessionGate
	loc       *time.Location

	barChan chan model.Bar

	// 等待会话窗口翻转时的轮询周期
	windowPoll time.Duration

	mu      sync.RWMutex
	state   ConnState
	writeMu sync.Mutex

	// 丢弃计数：非致命，只做统计
	droppedMalformed atomic.Int64
	droppedUnknown   atomic.Int64
	droppedFull      atomic.Int64
}

// NewConnector 创建行情连接器
func NewConnector(cfg *service.FeedConfig, tokens *auth.Manager, dir InstrumentDirectory, scheduler SessionGate) *Connector {
	return &Connector{
		cfg:       cfg,
		tokens:    tokens,
		directory: dir,
		scheduler: scheduler,
		loc:       scheduler.Location(),
		// 足够大的缓冲区应对订阅完成后的首轮推送洪峰
		barChan:    make(chan model.Bar, 4096),
		state:      StateDisconnected,
		windowPoll: 15 * time.Second,
	}
}

// Bars 供下游消费归一化后的 bar 流
func (c *Connector) Bars() <-chan model.Bar {
	return c.barChan
}

// State 返回当前连接状态
func (c *Connector) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connector) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Run 是连接器的主循环，直到 ctx 结束。
// 调度器 Idle 时保持断开；认证被拒时不原样重试，等下一个会话窗口；
// 瞬时网络错误在窗口内按退避重连。
func (c *Connector) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if !c.scheduler.ConnectionAllowed() {
			c.setState(StateDisconnected)
			attempt = 0
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		err := c.runSession(ctx)
		c.setState(StateDisconnected)

		switch {
		case err == nil:
			// 会话正常结束（休市或进程退出）
			attempt = 0
		case errors.Is(err, service.ErrAuthRejected), errors.Is(err, service.ErrCredentialMissing):
			// 新 token 只会出现在会话边界或运维操作之后，原地重试没有意义
			service.Logger.Error("Feed credential unusable, waiting for next session window", zap.Error(err))
			c.waitNextWindow(ctx)
			attempt = 0
		default:
			attempt++
			wait := backoffDelay(attempt)
			service.Logger.Warn("Feed session ended, reconnecting",
				zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", wait))
			sleepCtx(ctx, wait)
		}
	}
}

// runSession 执行一次完整的连接生命周期，返回 nil 表示正常收尾
func (c *Connector) runSession(ctx context.Context) error {
	sessionID := uuid.NewString()[:8]
	logger := service.Logger.With(zap.String("session", sessionID))

	c.setState(StateConnecting)

	// 凭证每次建连重新解析，绝不缓存（运维轮换靠这一点生效）
	token, source, err := c.tokens.Resolve()
	if err != nil {
		return err
	}
	logger.Info("Resolved session credential", zap.String("source", string(source)))

	universe, err := c.directory.Universe()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(c.cfg.ConnectTimeoutSec) * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	if err := c.authenticate(conn, token); err != nil {
		return err
	}
	logger.Info("Feed authenticated", zap.Int("universe", len(universe)))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 订阅分批在独立 goroutine 里限速推进，不阻塞已订阅证券的行情
	c.setState(StateSubscribing)
	sub := NewSubscriber(c.cfg, func(req subscribeRequest) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteJSON(req)
	})
	go sub.SubscribeAll(sessionCtx, universe)
	c.setState(StateStreaming)

	// 休市看门狗：调度器一旦 Idle 就关连接，读循环随之退出
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				if !c.scheduler.ConnectionAllowed() {
					logger.Info("Session window closed, disconnecting feed",
						zap.Int64("dropped_malformed", c.droppedMalformed.Load()),
						zap.Int64("dropped_unknown", c.droppedUnknown.Load()),
						zap.Int64("dropped_full", c.droppedFull.Load()))
					conn.Close()
					return
				}
			}
		}
	}()

	return c.readLoop(sessionCtx, conn, logger)
}

// authenticate 发送认证帧并等待确认
func (c *Connector) authenticate(conn *websocket.Conn, token string) error {
	authReq := map[string]string{
		"action":        "auth",
		"api_key":       c.cfg.APIKey,
		"secret_key":    c.cfg.SecretKey,
		"session_token": token,
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(authReq)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}

	var ack feedEvent
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read auth ack: %w", err)
	}
	if ack.Status != "ok" {
		return fmt.Errorf("%w: %s", service.ErrAuthRejected, ack.Reason)
	}
	return nil
}

// readLoop 持续读取行情消息直到连接断开
func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// 休市关断或进程退出导致的读错误是正常收尾
			if ctx.Err() != nil || !c.scheduler.ConnectionAllowed() {
				return nil
			}
			return fmt.Errorf("read feed message: %w", err)
		}
		c.handleMessage(message, logger)
	}
}

func (c *Connector) handleMessage(message []byte, logger *zap.Logger) {
	// 控制帧（订阅确认等）不进 bar 管道
	var event feedEvent
	if err := json.Unmarshal(message, &event); err == nil && event.Event != "" {
		if event.Status != "" && event.Status != "ok" {
			logger.Warn("Feed control frame reported failure",
				zap.String("event", event.Event), zap.String("reason", event.Reason))
		}
		return
	}

	bar, err := c.normalizeTick(message)
	if err != nil {
		if errors.Is(err, errUnknownInstrument) {
			c.droppedUnknown.Add(1)
		} else {
			c.droppedMalformed.Add(1)
		}
		return
	}

	// 使用 select/default 防止阻塞读循环
	select {
	case c.barChan <- bar:
	default:
		c.droppedFull.Add(1)
		logger.Warn("Bar channel full! Dropping bar", zap.String("code", bar.InstrumentCode))
	}
}

// normalizeTick 将原始 tick 映射为 Bar：
// 解析行情源本地时间，剥掉订阅模板前缀，经证券目录换成稳定代码
func (c *Connector) normalizeTick(message []byte) (model.Bar, error) {
	var tick model.Tick
	if err := json.Unmarshal(message, &tick); err != nil {
		return model.Bar{}, errMalformedTick
	}

	// 有效的 OHLCV tick 必须带 close 和 datetime，其余消息类型一律丢弃
	if tick.Close == 0 || tick.Datetime == "" {
		return model.Bar{}, errMalformedTick
	}

	ts, err := time.ParseInLocation("2006-01-02 15:04:05", tick.Datetime, c.loc)
	if err != nil {
		return model.Bar{}, errMalformedTick
	}

	feedToken := strings.TrimPrefix(tick.FeedToken, c.cfg.SubscriptionTmpl)
	symbol, ok := c.directory.SymbolFor(feedToken)
	if !ok {
		return model.Bar{}, errUnknownInstrument
	}

	interval := tick.Interval
	if interval == "" {
		interval = c.cfg.Interval
	}

	return model.Bar{
		InstrumentCode: symbol,
		Open:           tick.Open,
		High:           tick.High,
		Low:            tick.Low,
		Close:          tick.Close,
		Volume:         tick.Volume,
		Interval:       interval,
		Timestamp:      ts.Unix(),
	}, nil
}

// waitNextWindow 等调度器先回到 Idle、再进入下一个允许窗口
func (c *Connector) waitNextWindow(ctx context.Context) {
	for ctx.Err() == nil && c.scheduler.ConnectionAllowed() {
		sleepCtx(ctx, c.windowPoll)
	}
	for ctx.Err() == nil && !c.scheduler.ConnectionAllowed() {
		sleepCtx(ctx, c.windowPoll)
	}
}

// backoffDelay 有界指数退避加抖动，封顶 30s
func backoffDelay(attempt int) time.Duration {
	const (
		min    = time.Second
		max    = 30 * time.Second
		factor = 2.0
		jitter = 0.2
	)

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
