package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"equity-bar-ingestor/internal/api"
	"equity-bar-ingestor/internal/auth"
	"equity-bar-ingestor/internal/directory"
	"equity-bar-ingestor/internal/market"
	"equity-bar-ingestor/internal/model"
	"equity-bar-ingestor/internal/server"
	"equity-bar-ingestor/internal/service"
	"equity-bar-ingestor/internal/sink"
	"equity-bar-ingestor/internal/store"
)

func main() {
	// .env 可选，老部署习惯
	_ = godotenv.Load()

	service.InitLogger()
	defer service.Logger.Sync()

	cfg := service.LoadConfig("config")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 会话调度器：独立计时器推导休市/开盘状态
	scheduler, err := market.NewScheduler(&cfg.Market)
	if err != nil {
		service.Logger.Fatal("Failed to build market scheduler", zap.Error(err))
	}
	go scheduler.Run(ctx)

	// 2. 凭证、证券目录、行情连接器
	tokens := auth.NewManager(&cfg.Feed)
	dir := directory.New(&cfg.Directory)
	connector := api.NewConnector(&cfg.Feed, tokens, dir, scheduler)
	go connector.Run(ctx)

	// 3. 权威存储与下游扇出
	barStore := store.New()
	forwarder := sink.NewForwarder(&cfg.Sink)
	cache := sink.NewLatestCache(&cfg.Sink)
	if cache != nil {
		if err := cache.Ping(ctx); err != nil {
			service.Logger.Warn("Redis fanout unreachable at startup, continuing without it", zap.Error(err))
		}
	}

	// 4. 运维/查询接口
	srv := server.New(&cfg.Server, &cfg.Feed, barStore)
	go func() {
		if err := srv.Run(); err != nil {
			service.Logger.Error("Operator API stopped", zap.Error(err))
		}
	}()

	// 5. 推送通道：下游转发放独立 Goroutine，sink 慢不拖行情
	forwardChan := make(chan model.Bar, 2048)
	go func() {
		for bar := range forwardChan {
			if err := forwarder.Forward(ctx, bar); err != nil {
				// 有限重试已在客户端内部做完，这里只告警后丢弃
				service.Logger.Warn("Dropping bar after sink failure",
					zap.String("code", bar.InstrumentCode), zap.Error(err))
			}
			if cache != nil {
				if err := cache.Publish(ctx, bar); err != nil {
					service.Logger.Warn("Redis fanout failed",
						zap.String("code", bar.InstrumentCode), zap.Error(err))
				}
			}
		}
	}()

	service.Logger.Info("Ingestor started",
		zap.String("interval", cfg.Feed.Interval),
		zap.String("state", string(scheduler.Current())))

	// 主循环：消费归一化 bar，先合并进权威存储，再扇出
	bars := connector.Bars()
	accepted := 0
	for {
		select {
		case <-ctx.Done():
			service.Logger.Info("Shutting down", zap.Int("instruments", barStore.Len()))
			return
		case bar := <-bars:
			outcome := barStore.Upsert(bar)
			if outcome == store.OutcomeStale {
				// 迟到的旧 tick 按设计静默丢弃，不是错误
				continue
			}
			if accepted++; accepted%5000 == 0 {
				service.Logger.Info("Ingest progress",
					zap.Int("accepted", accepted), zap.Int("instruments", barStore.Len()))
			}
			select {
			case forwardChan <- bar:
			default:
				service.Logger.Warn("Forward channel full! Dropping bar for sink",
					zap.String("code", bar.InstrumentCode))
			}
		}
	}
}
