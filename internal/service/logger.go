package service

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("Bar ingested", zap.String("code", code))
var Logger *zap.Logger

// InitLogger 初始化高性能的 Zap 日志，同时输出到控制台和日志文件
func InitLogger() {
	config := zap.NewProductionConfig()

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	// 采集进程历史上一直写 logs/ingestor.log，保留该习惯
	if err := os.MkdirAll("./logs", 0o755); err == nil {
		config.OutputPaths = []string{"stdout", "logs/ingestor.log"}
	}

	var err error
	Logger, err = config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}
