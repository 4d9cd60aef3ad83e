package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"equity-bar-ingestor/internal/directory"
	"equity-bar-ingestor/internal/service"
)

// subscribeRequest 行情源的订阅帧
type subscribeRequest struct {
	Action   string   `json:"action"`
	Interval string   `json:"interval"`
	Tokens   []string `json:"tokens"`
}

// Subscriber 把 universe 切成固定大小的批次，限速下发订阅请求。
// 每次新连接都从头开始订阅，上一条连接的部分订阅状态直接作废。
// 单个批次失败只记日志跳过，不中断后续批次。
type Subscriber struct {
	cfg  *service.FeedConfig
	send func(subscribeRequest) error
}

// NewSubscriber 创建订阅批处理器，send 由连接层注入
func NewSubscriber(cfg *service.FeedConfig, send func(subscribeRequest) error) *Subscriber {
	return &Subscriber{cfg: cfg, send: send}
}

// SubscribeAll 下发全量订阅，返回成功的批次数。
// 批次之间强制 sleep 以尊重上游限速；ctx 取消时立即放弃剩余批次。
func (s *Subscriber) SubscribeAll(ctx context.Context, universe []directory.Instrument) int {
	batches := batchTokens(universe, s.cfg.SubscriptionTmpl, s.cfg.BatchSize)
	delay := time.Duration(s.cfg.BatchDelayMs) * time.Millisecond

	service.Logger.Info("Subscribing universe",
		zap.Int("instruments", len(universe)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", s.cfg.BatchSize))

	sent := 0
	for i, batch := range batches {
		if ctx.Err() != nil {
			return sent
		}

		req := subscribeRequest{
			Action:   "subscribe",
			Interval: s.cfg.Interval,
			Tokens:   batch,
		}
		if err := s.send(req); err != nil {
			service.Logger.Warn("Subscribe batch failed, skipping",
				zap.Int("batch", i+1), zap.Int("total", len(batches)), zap.Error(err))
		} else {
			sent++
			service.Logger.Info("Subscribed batch",
				zap.Int("batch", i+1), zap.Int("total", len(batches)))
		}

		if i < len(batches)-1 {
			sleepCtx(ctx, delay)
		}
	}

	service.Logger.Info("Subscription sweep complete",
		zap.Int("ok", sent), zap.Int("total", len(batches)))
	return sent
}

// batchTokens 生成带模板前缀的订阅 token 批次，共 ceil(U/B) 批
func batchTokens(universe []directory.Instrument, tmpl string, size int) [][]string {
	if size <= 0 || len(universe) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(universe)+size-1)/size)
	for start := 0; start < len(universe); start += size {
		end := start + size
		if end > len(universe) {
			end = len(universe)
		}
		batch := make([]string, 0, end-start)
		for _, inst := range universe[start:end] {
			batch = append(batch, tmpl+inst.FeedToken)
		}
		batches = append(batches, batch)
	}
	return batches
}
