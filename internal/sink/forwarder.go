package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"equity-bar-ingestor/internal/model"
	"equity-bar-ingestor/internal/service"
)

// Forwarder 把每个被接受的 bar 以 JSON POST 给下游采集端点。
// 失败是可重试但不致命的：有限次重试后丢弃并告警，绝不拖住行情连接。
type Forwarder struct {
	client *resty.Client
	url    string
}

// NewForwarder 创建下游推送客户端
func NewForwarder(cfg *service.SinkConfig) *Forwarder {
	client := resty.New().
		SetTimeout(time.Duration(cfg.TimeoutSec) * time.Second).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 5xx 当作瞬时故障重试，4xx 是负载问题，重发也没用
			return err != nil || r.StatusCode() >= 500
		})

	return &Forwarder{
		client: client,
		url:    cfg.IngestURL,
	}
}

// Forward 推送一个 bar。返回错误时由调用方记日志后继续，不中断采集。
func (f *Forwarder) Forward(ctx context.Context, bar model.Bar) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(bar).
		Post(f.url)
	if err != nil {
		return fmt.Errorf("%w: %v", service.ErrSinkUnavailable, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d: %s", service.ErrSinkUnavailable, resp.StatusCode(), resp.String())
	}
	return nil
}
